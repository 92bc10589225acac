package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// rotatedStamp is the timestamp layout of rotated files:
// syncstage.2024-01-20-150405.123.log.
const rotatedStamp = "2006-01-02-150405.000"

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// MaxSize is the size in bytes that triggers rotation. Zero uses the
	// default.
	MaxSize int64 `mapstructure:"max_size"`

	// MaxAge is the number of days rotated files are kept. Zero keeps them.
	MaxAge int `mapstructure:"max_age"`

	// MaxBackups caps the number of rotated files. Zero keeps all.
	MaxBackups int `mapstructure:"max_backups"`

	// Daily rotates on the first write of a new day.
	Daily bool `mapstructure:"daily"`
}

// DefaultRotationConfig returns 10 MiB files, daily, five backups kept for
// 30 days.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSize:    10 * 1024 * 1024,
		MaxAge:     30,
		MaxBackups: 5,
		Daily:      true,
	}
}

// RotatingWriter is an io.WriteCloser over a log file that rotates by size
// and day. Goroutines are serialized by a mutex. Several syncstage
// processes may share the file: every write holds a lock file next to the
// log, and a writer whose file was rotated away by another process
// reopens the new one before writing.
type RotatingWriter struct {
	path string
	cfg  RotationConfig
	lock *flock.Flock

	mu     sync.Mutex
	file   *os.File
	opened time.Time
	now    func() time.Time
}

// NewRotatingWriter opens path for appending, creating parent directories,
// and removes rotated files past their retention.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultRotationConfig().MaxSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	w := &RotatingWriter{path: path, cfg: cfg, lock: flock.New(path + ".lock"), now: time.Now}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

// Write appends p, rotating first when p would overflow the file or the
// day changed.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if err := w.lock.Lock(); err != nil {
		return 0, fmt.Errorf("acquiring log lock: %w", err)
	}
	defer func() { _ = w.lock.Unlock() }()

	size, err := w.currentSize()
	if err != nil {
		return 0, err
	}
	if w.due(size + int64(len(p))) {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotating log file: %w", err)
		}
	}

	n, err := w.file.Write(p)
	if err != nil {
		return n, fmt.Errorf("writing to log file: %w", err)
	}
	return n, nil
}

// Close syncs and closes the log file. Later writes fail with os.ErrClosed.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.file = nil
	_ = w.lock.Close()
	if syncErr != nil {
		return fmt.Errorf("syncing log file: %w", syncErr)
	}
	return closeErr
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.opened = info.ModTime()
	if info.Size() == 0 {
		w.opened = w.now()
	}
	return nil
}

// currentSize returns the size of the file at path, reopening it first
// when another process rotated the one held open.
func (w *RotatingWriter) currentSize() (int64, error) {
	held, err := w.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat log file: %w", err)
	}
	onDisk, err := os.Stat(w.path)
	if err == nil && os.SameFile(held, onDisk) {
		return held.Size(), nil
	}

	_ = w.file.Close()
	w.file = nil
	if err := w.open(); err != nil {
		return 0, err
	}
	info, err := w.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat log file: %w", err)
	}
	return info.Size(), nil
}

func (w *RotatingWriter) due(size int64) bool {
	if size > w.cfg.MaxSize {
		return true
	}
	return w.cfg.Daily && w.now().Format(time.DateOnly) != w.opened.Format(time.DateOnly)
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing current file: %w", err)
	}
	w.file = nil

	ext := filepath.Ext(w.path)
	rotated := strings.TrimSuffix(w.path, ext) + "." + w.now().Format(rotatedStamp) + ext
	if err := os.Rename(w.path, rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("renaming log file: %w", err)
	}
	if err := w.open(); err != nil {
		return err
	}
	w.opened = w.now()
	w.prune()
	return nil
}

// prune removes rotated files beyond MaxBackups or older than MaxAge.
// Failures are ignored; a leftover backup is harmless.
func (w *RotatingWriter) prune() {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	type backup struct {
		path    string
		modTime time.Time
	}
	var backups []backup
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == base || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		if _, err := time.Parse(rotatedStamp, strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{path: filepath.Join(dir, name), modTime: info.ModTime()})
	}

	slices.SortFunc(backups, func(a, b backup) int { return b.modTime.Compare(a.modTime) })

	cutoff := w.now().Add(-time.Duration(w.cfg.MaxAge) * 24 * time.Hour)
	for i, b := range backups {
		tooMany := w.cfg.MaxBackups > 0 && i >= w.cfg.MaxBackups
		tooOld := w.cfg.MaxAge > 0 && b.modTime.Before(cutoff)
		if tooMany || tooOld {
			_ = os.Remove(b.path)
		}
	}
}
