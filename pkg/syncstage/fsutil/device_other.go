//go:build !unix

package fsutil

import (
	"errors"
	"io/fs"
)

// Device is not available on this platform.
func Device(path string) (uint64, error) {
	return 0, &fs.PathError{Op: "device", Path: path, Err: errors.ErrUnsupported}
}

// Links is not available on this platform.
func Links(path string) (uint64, error) {
	return 0, &fs.PathError{Op: "links", Path: path, Err: errors.ErrUnsupported}
}

// IsCrossDevice always reports false on this platform.
func IsCrossDevice(error) bool { return false }
