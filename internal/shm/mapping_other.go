//go:build !unix

package shm

import "errors"

var errNoMapping = errors.New("shared memory mapping not supported on this platform")

func mapReadOnly(string) ([]byte, func() error, error) {
	return nil, nil, errNoMapping
}

func mapReadWrite(string) ([]byte, func() error, error) {
	return nil, nil, errNoMapping
}
