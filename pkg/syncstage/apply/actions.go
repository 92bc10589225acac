package apply

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	serrors "github.com/ysasiwat/syncstage/pkg/syncstage/errors"
	"github.com/ysasiwat/syncstage/pkg/syncstage/fsutil"
	"github.com/ysasiwat/syncstage/pkg/syncstage/plan"
)

// ErrKeeperMissing is returned when the file a duplicate was judged
// against no longer exists, so removing the duplicate could lose data.
var ErrKeeperMissing = errors.New("keeper no longer exists")

// ErrSelfDuplicate is returned when a duplicate and its keeper resolve to
// the same path, so acting on the duplicate would remove the keeper.
var ErrSelfDuplicate = errors.New("duplicate and keeper are the same file")

// samePath reports whether a and b name the same path once symlinks are
// resolved. Hard links are distinct paths and do not count.
func samePath(a, b string) bool {
	ra, err := filepath.EvalSymlinks(a)
	if err != nil {
		ra = filepath.Clean(a)
	}
	rb, err := filepath.EvalSymlinks(b)
	if err != nil {
		rb = filepath.Clean(b)
	}
	return ra == rb
}

func (e *Engine) delete(a plan.Action) Result {
	if _, err := os.Lstat(a.Path); errors.Is(err, fs.ErrNotExist) {
		return skipped(a, "already gone")
	}
	if a.Keeper != "" {
		if samePath(a.Path, a.Keeper) {
			return failed(a, "delete", a.Path, fmt.Errorf("%w: %s", ErrSelfDuplicate, a.Keeper))
		}
		if _, err := os.Stat(a.Keeper); err != nil {
			return failed(a, "delete", a.Path, fmt.Errorf("%w: %s", ErrKeeperMissing, a.Keeper))
		}
	}

	if e.trash != nil {
		dest, err := e.trash.Put(a.Path)
		if err != nil {
			return failed(a, "trash", a.Path, err)
		}
		return done(a, "trashed to "+dest)
	}
	if err := os.Remove(a.Path); err != nil {
		return failed(a, "delete", a.Path, err)
	}
	return done(a, "deleted")
}

// deleteDir removes a directory only while it is empty.
func (e *Engine) deleteDir(a plan.Action) Result {
	entries, err := os.ReadDir(a.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return skipped(a, "already gone")
	case err != nil:
		return failed(a, "remove directory", a.Path, err)
	case len(entries) > 0:
		return skipped(a, "directory not empty")
	}
	if err := os.Remove(a.Path); err != nil {
		return failed(a, "remove directory", a.Path, err)
	}
	return done(a, "removed empty directory")
}

// hardlink replaces a.To with a link to a.From. The link is created under
// a temporary name and renamed over the target, so the target path always
// holds either the old copy or the link.
func (e *Engine) hardlink(a plan.Action) Result {
	src, err := os.Lstat(a.From)
	if err != nil {
		return failed(a, "hardlink", a.To, fmt.Errorf("%w: %s", ErrKeeperMissing, a.From))
	}
	dst, err := os.Lstat(a.To)
	if errors.Is(err, fs.ErrNotExist) {
		return skipped(a, "already gone")
	}
	if err != nil {
		return failed(a, "hardlink", a.To, err)
	}
	if os.SameFile(src, dst) {
		return skipped(a, "already linked")
	}

	same, err := fsutil.SameDevice(a.From, a.To)
	if err == nil && !same {
		return failed(a, "hardlink", a.To, serrors.CrossVolume(a.From, a.To, nil))
	}

	tmp := a.To + LinkTempSuffix
	_ = os.Remove(tmp)
	if err := os.Link(a.From, tmp); err != nil {
		if fsutil.IsCrossDevice(err) {
			return failed(a, "hardlink", a.To, serrors.CrossVolume(a.From, a.To, err))
		}
		return failed(a, "hardlink", a.To, err)
	}
	if err := os.Rename(tmp, a.To); err != nil {
		_ = os.Remove(tmp)
		return failed(a, "hardlink", a.To, err)
	}
	return done(a, "linked to "+a.From)
}

// move renames a.From to a.To, creating parent directories and refusing to
// overwrite. Across filesystems the file is copied, synced and renamed into
// place before the source is removed. A quarantine move also requires its
// keeper to be a different, existing file.
func (e *Engine) move(a plan.Action) Result {
	if a.Keeper != "" {
		if samePath(a.From, a.Keeper) {
			return failed(a, "move", a.From, fmt.Errorf("%w: %s", ErrSelfDuplicate, a.Keeper))
		}
		if _, err := os.Stat(a.Keeper); err != nil {
			return failed(a, "move", a.From, fmt.Errorf("%w: %s", ErrKeeperMissing, a.Keeper))
		}
	}
	if _, err := os.Lstat(a.From); errors.Is(err, fs.ErrNotExist) {
		if _, err := os.Lstat(a.To); err == nil {
			return skipped(a, "already moved")
		}
		return failed(a, "move", a.From, err)
	}
	if _, err := os.Lstat(a.To); err == nil {
		return failed(a, "move", a.From, fmt.Errorf("destination %s: %w", a.To, fs.ErrExist))
	}
	if err := os.MkdirAll(filepath.Dir(a.To), 0o755); err != nil {
		return failed(a, "move", a.From, err)
	}

	err := os.Rename(a.From, a.To)
	if err == nil {
		return done(a, "moved to "+a.To)
	}
	if !fsutil.IsCrossDevice(err) {
		return failed(a, "move", a.From, err)
	}

	if err := copyMove(a.From, a.To); err != nil {
		return failed(a, "move", a.From, err)
	}
	return done(a, "copied to "+a.To)
}

// copyFile writes a.From to a.To through a temporary file renamed into
// place, keeping the source's mode and modification time. Without Replace
// an existing target is never overwritten.
func (e *Engine) copyFile(a plan.Action) Result {
	info, err := os.Lstat(a.From)
	if err != nil {
		return failed(a, "copy", a.From, err)
	}
	if !info.Mode().IsRegular() {
		return failed(a, "copy", a.From, fmt.Errorf("%s is not a regular file", a.From))
	}
	if _, err := os.Lstat(a.To); err == nil && !a.Replace {
		return failed(a, "copy", a.From, fmt.Errorf("destination %s: %w", a.To, fs.ErrExist))
	}
	if err := os.MkdirAll(filepath.Dir(a.To), 0o755); err != nil {
		return failed(a, "copy", a.From, err)
	}

	tmp := a.To + CopyTempSuffix
	_ = os.Remove(tmp)
	if err := fsutil.CopyFile(a.From, tmp); err != nil {
		return failed(a, "copy", a.From, err)
	}
	if _, err := os.Lstat(a.To); err == nil && !a.Replace {
		_ = os.Remove(tmp)
		return failed(a, "copy", a.From, fmt.Errorf("destination %s: %w", a.To, fs.ErrExist))
	}
	if err := os.Rename(tmp, a.To); err != nil {
		_ = os.Remove(tmp)
		return failed(a, "copy", a.From, err)
	}
	_ = fsutil.SyncDir(filepath.Dir(a.To))

	if a.Replace {
		return done(a, "updated "+a.To)
	}
	return done(a, "copied to "+a.To)
}

func copyMove(from, to string) error {
	info, err := os.Lstat(from)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("cannot copy %s across filesystems: not a regular file", from)
	}

	tmp := to + CopyTempSuffix
	_ = os.Remove(tmp)
	if err := fsutil.CopyFile(from, tmp); err != nil {
		return err
	}
	if _, err := os.Lstat(to); err == nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("destination %s: %w", to, fs.ErrExist)
	}
	if err := os.Rename(tmp, to); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	_ = fsutil.SyncDir(filepath.Dir(to))
	return os.Remove(from)
}
