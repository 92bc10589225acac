//go:build unix

package fsutil

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/unix"
)

// Device returns the id of the filesystem holding path. Symlinks are not
// followed.
func Device(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return 0, &fs.PathError{Op: "lstat", Path: path, Err: err}
	}
	return uint64(st.Dev), nil //nolint:unconvert // Dev is int32 on darwin
}

// Links returns the hard link count of path.
func Links(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return 0, &fs.PathError{Op: "lstat", Path: path, Err: err}
	}
	return uint64(st.Nlink), nil //nolint:unconvert // Nlink is uint16 on darwin
}

// IsCrossDevice reports whether err is the EXDEV a rename or link returns
// when source and target live on different filesystems.
func IsCrossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}
