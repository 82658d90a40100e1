package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

const resetColor = "\033[0m"

// levels is indexed by LogLevel.
var levels = [...]struct {
	name    string
	color   string
	aliases []string
}{
	DEBUG:  {"DEBUG", "\033[36m", nil},
	INFO:   {"INFO", "\033[32m", nil},
	WARN:   {"WARN", "\033[33m", []string{"warning"}},
	ERROR:  {"ERROR", "\033[31m", nil},
	SILENT: {"SILENT", "", []string{"none", "off"}},
}

// Sink receives diagnostic messages. Core packages take a Sink instead of
// reaching for the process logger, so a host can route or drop them.
type Sink interface {
	Logf(level LogLevel, module string, format string, args ...interface{})
}

// Nop discards everything.
var Nop Sink = nopSink{}

type nopSink struct{}

func (nopSink) Logf(LogLevel, string, string, ...interface{}) {}

// Logger provides leveled logging with module support
type Logger struct {
	level    atomic.Int32
	useColor bool
	out      *log.Logger
}

var defaultLogger *Logger
var once sync.Once

// Init initializes the global logger (call once at startup)
func Init(level LogLevel, output io.Writer, useColor bool) {
	once.Do(func() {
		defaultLogger = New(level, output, useColor)
	})
}

// Default returns the process logger, or Nop before Init has run.
func Default() Sink {
	if defaultLogger == nil {
		return Nop
	}
	return defaultLogger
}

// New creates a new Logger instance
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}

	l := &Logger{
		useColor: useColor,
		out:      log.New(output, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	l.SetLevel(level)
	return l
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return LogLevel(l.level.Load())
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	return level < SILENT && level >= l.GetLevel()
}

// Logf implements Sink.
func (l *Logger) Logf(level LogLevel, module string, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}

	prefix := "[" + level.String() + "]"
	if l.useColor {
		prefix = levels[level].color + prefix + resetColor
	}
	if module != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, module)
	}

	l.out.Printf("%s %s", prefix, fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *Logger) Debug(module string, format string, args ...interface{}) {
	l.Logf(DEBUG, module, format, args...)
}

// Info logs an info message
func (l *Logger) Info(module string, format string, args ...interface{}) {
	l.Logf(INFO, module, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(module string, format string, args ...interface{}) {
	l.Logf(WARN, module, format, args...)
}

// Error logs an error message
func (l *Logger) Error(module string, format string, args ...interface{}) {
	l.Logf(ERROR, module, format, args...)
}

// Module binds a module tag to a sink.
type Module struct {
	sink Sink
	name string
}

// For returns a Module writing to sink under name. A nil sink discards.
func For(sink Sink, name string) Module {
	if sink == nil {
		sink = Nop
	}
	return Module{sink: sink, name: name}
}

func (m Module) Debug(format string, args ...interface{}) {
	m.sink.Logf(DEBUG, m.name, format, args...)
}

func (m Module) Info(format string, args ...interface{}) {
	m.sink.Logf(INFO, m.name, format, args...)
}

func (m Module) Warn(format string, args ...interface{}) {
	m.sink.Logf(WARN, m.name, format, args...)
}

func (m Module) Error(format string, args ...interface{}) {
	m.sink.Logf(ERROR, m.name, format, args...)
}

// Global logger functions (use default logger)

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	if defaultLogger != nil {
		defaultLogger.SetLevel(level)
	}
}

// Debug logs a debug message using the global logger
func Debug(module string, format string, args ...interface{}) {
	Default().Logf(DEBUG, module, format, args...)
}

// Info logs an info message using the global logger
func Info(module string, format string, args ...interface{}) {
	Default().Logf(INFO, module, format, args...)
}

// Warn logs a warning message using the global logger
func Warn(module string, format string, args ...interface{}) {
	Default().Logf(WARN, module, format, args...)
}

// Error logs an error message using the global logger
func Error(module string, format string, args ...interface{}) {
	Default().Logf(ERROR, module, format, args...)
}

// ParseLevel accepts level names and their aliases in any case.
func ParseLevel(s string) (LogLevel, error) {
	for lvl, info := range levels {
		if strings.EqualFold(s, info.name) {
			return LogLevel(lvl), nil
		}
		for _, alias := range info.aliases {
			if strings.EqualFold(s, alias) {
				return LogLevel(lvl), nil
			}
		}
	}
	return INFO, fmt.Errorf("invalid log level: %s", s)
}

func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(levels) {
		return "UNKNOWN"
	}
	return levels[l].name
}
