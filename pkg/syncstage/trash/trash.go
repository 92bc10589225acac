// Package trash moves files into the freedesktop.org trash so a delete can
// be undone from the desktop. A file is only ever trashed on its own
// filesystem: the home trash when it shares the device, otherwise a
// .Trash-$UID directory at the top of the file's mount. When neither is
// usable Trash fails; it never falls back to a permanent delete.
package trash

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"

	"github.com/ysasiwat/syncstage/pkg/syncstage/fsutil"
	"github.com/ysasiwat/syncstage/pkg/syncstage/logging"
)

// ErrNoTrash is returned when no trash directory exists on the file's
// filesystem.
var ErrNoTrash = errors.New("no trash directory on this filesystem")

const infoTimeLayout = "2006-01-02T15:04:05"

// Trash moves files into trash directories.
type Trash struct {
	home string
	uid  int
	now  func() time.Time
	log  *logging.Logger
}

// New returns a Trash using $XDG_DATA_HOME/Trash as the home trash.
func New() *Trash {
	return &Trash{
		home: filepath.Join(xdg.DataHome, "Trash"),
		uid:  os.Getuid(),
		now:  time.Now,
		log:  logging.Get("trash"),
	}
}

// Home returns the home trash directory.
func (t *Trash) Home() string { return t.home }

// Put moves path into the trash and returns its new location.
func (t *Trash) Put(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(abs); err != nil {
		return "", err
	}

	dir, err := t.dirFor(abs)
	if err != nil {
		return "", fmt.Errorf("trashing %s: %w", abs, err)
	}
	files := filepath.Join(dir, "files")
	info := filepath.Join(dir, "info")
	for _, d := range []string{files, info} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return "", fmt.Errorf("creating trash %s: %w", d, err)
		}
	}

	name, infoPath, err := t.reserve(info, filepath.Base(abs), abs)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(files, name)
	if err := os.Rename(abs, dest); err != nil {
		_ = os.Remove(infoPath)
		if fsutil.IsCrossDevice(err) {
			return "", fmt.Errorf("trashing %s: %w", abs, ErrNoTrash)
		}
		return "", err
	}

	t.log.Debug("trashed", "path", abs, "to", dest)
	return dest, nil
}

// dirFor picks the trash directory on the same device as path.
func (t *Trash) dirFor(path string) (string, error) {
	same, err := fsutil.SameDevice(path, t.home)
	if err == nil && same {
		return t.home, nil
	}

	top, err := fsutil.MountRoot(path)
	if err != nil {
		return "", err
	}

	// A shared $topdir/.Trash must be a sticky, non-symlink directory.
	shared := filepath.Join(top, ".Trash")
	if info, err := os.Lstat(shared); err == nil && info.IsDir() && info.Mode()&os.ModeSticky != 0 {
		return filepath.Join(shared, strconv.Itoa(t.uid)), nil
	}

	own := filepath.Join(top, ".Trash-"+strconv.Itoa(t.uid))
	if err := os.Mkdir(own, 0o700); err != nil && !errors.Is(err, fs.ErrExist) {
		return "", fmt.Errorf("%w: %v", ErrNoTrash, err)
	}
	return own, nil
}

// reserve claims a unique name in the trash by creating its .trashinfo
// file exclusively.
func (t *Trash) reserve(infoDir, base, original string) (string, string, error) {
	content := fmt.Sprintf("[Trash Info]\nPath=%s\nDeletionDate=%s\n",
		escape(original), t.now().Format(infoTimeLayout))

	name := base
	for n := 2; ; n++ {
		infoPath := filepath.Join(infoDir, name+".trashinfo")
		f, err := os.OpenFile(infoPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		switch {
		case err == nil:
			_, werr := f.WriteString(content)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(infoPath)
				return "", "", errors.Join(werr, cerr)
			}
			return name, infoPath, nil
		case errors.Is(err, fs.ErrExist):
			ext := filepath.Ext(base)
			name = fmt.Sprintf("%s.%d%s", strings.TrimSuffix(base, ext), n, ext)
		default:
			return "", "", err
		}
	}
}

// escape percent-encodes a path the way .trashinfo files expect, leaving
// the separators alone.
func escape(path string) string {
	return (&url.URL{Path: filepath.ToSlash(path)}).EscapedPath()
}
