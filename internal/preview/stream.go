package preview

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// SerializedEvent holds one status payload in both wire formats.
type SerializedEvent struct {
	JSONData     []byte
	ProtobufData []byte // structpb.Struct wire bytes
}

func serializeStatus(payload map[string]any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	st, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}
	return &SerializedEvent{JSONData: jsonData, ProtobufData: pbData}, nil
}

func writeSSE(w http.ResponseWriter, data []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// streamMJPEGFromChannel streams MJPEG from a subscriber channel. keepAlive
// repeats blank when no frame arrives in time.
func (s *Server) streamMJPEGFromChannel(w http.ResponseWriter, frameCh <-chan []byte, blank []byte, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	timer := time.NewTimer(keepAlive)
	defer timer.Stop()

	for {
		var jpegData []byte
		select {
		case data, ok := <-frameCh:
			if !ok {
				return
			}
			jpegData = data
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
			jpegData = blank
		}
		timer.Reset(keepAlive)

		if err := writePart(w, jpegData); err != nil {
			s.log.Debug("MJPEG client disconnected: %v", err)
			return
		}
		flusher.Flush()
	}
}

func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// streamStatus pushes a status event every interval until the client goes
// away. Protobuf payloads are base64 encoded for SSE transport.
func (s *Server) streamStatus(w http.ResponseWriter, r *http.Request, useProtobuf bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		event, err := serializeStatus(s.statusPayload())
		if err != nil {
			s.log.Error("Status serialization failed: %v", err)
			return
		}
		data := event.JSONData
		if useProtobuf {
			data = []byte(base64.StdEncoding.EncodeToString(event.ProtobufData))
		}
		if err := writeSSE(w, data); err != nil {
			s.log.Debug("Status client disconnected: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
