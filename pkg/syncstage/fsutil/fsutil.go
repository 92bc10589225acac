// Package fsutil holds the low-level file operations shared by the apply
// engine and the trash: device checks, durable copies and directory sync.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SameDevice reports whether a and b live on the same filesystem. When b
// does not exist yet its closest existing parent is checked instead.
func SameDevice(a, b string) (bool, error) {
	da, err := Device(a)
	if err != nil {
		return false, err
	}
	db, err := Device(ExistingParent(b))
	if err != nil {
		return false, err
	}
	return da == db, nil
}

// ExistingParent returns path if it exists, otherwise its nearest existing
// ancestor.
func ExistingParent(path string) string {
	for {
		if _, err := os.Lstat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}

// MountRoot returns the topmost directory above path on the same device.
func MountRoot(path string) (string, error) {
	dev, err := Device(path)
	if err != nil {
		return "", err
	}
	dir := path
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir, nil
		}
		pdev, err := Device(parent)
		if err != nil || pdev != dev {
			return dir, nil
		}
		dir = parent
	}
}

// CopyFile copies src to dst, which must not exist, preserving the mode
// and modification time, and syncs dst before returning.
func CopyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", dst, err)
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// SyncDir flushes a directory entry change to disk. Sync failures are
// ignored since not every platform can sync a directory.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	_ = d.Sync()
	return nil
}
