package manifest

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/spf13/afero"

	"github.com/ysasiwat/syncstage/pkg/syncstage/logging"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// TimeLayout is the timestamp layout inside manifest file names.
const TimeLayout = "20060102-150405"

var namePattern = regexp.MustCompile(`^MANIFEST-(\d{8}-\d{6})\.([a-z0-9]+)\.txt$`)

// FileName returns MANIFEST-<YYYYmmdd-HHMMSS>.<algo>.txt for t in UTC.
func FileName(t time.Time, algo types.Algorithm) string {
	return fmt.Sprintf("MANIFEST-%s.%s.txt", t.UTC().Format(TimeLayout), algo)
}

// ParseFileName extracts the timestamp and algorithm from a name made by
// FileName. ok is false for any other name.
func ParseFileName(name string) (t time.Time, algo types.Algorithm, ok bool) {
	m := namePattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return time.Time{}, "", false
	}
	t, err := time.ParseInLocation(TimeLayout, m[1], time.UTC)
	if err != nil {
		return time.Time{}, "", false
	}
	algo, err = types.ParseAlgorithm(m[2])
	if err != nil {
		return time.Time{}, "", false
	}
	return t, algo, true
}

// Info describes a stored manifest.
type Info struct {
	Path      string          `json:"path"`
	CreatedAt time.Time       `json:"created_at"`
	Algorithm types.Algorithm `json:"algorithm"`
}

// ErrNoManifest is returned by Latest when the directory holds no manifest.
var ErrNoManifest = errors.New("no manifest found")

// Store keeps manifests in one directory. Saved manifests are never
// rewritten; a newer file supersedes older ones.
type Store struct {
	fs  afero.Fs
	dir string
	now func() time.Time
	log *logging.Logger
}

// NewStore returns a store rooted at dir on fsys.
func NewStore(fsys afero.Fs, dir string) *Store {
	return &Store{fs: fsys, dir: dir, now: time.Now, log: logging.Get("manifest")}
}

// Dir returns the directory manifests are written to.
func (s *Store) Dir() string { return s.dir }

// NextPath returns the path a manifest with algo saved now would get.
func (s *Store) NextPath(algo types.Algorithm) string {
	return filepath.Join(s.dir, FileName(s.now(), algo))
}

// Save writes m under a new time-stamped name and returns its path. The
// write goes through a temporary file and a rename so readers never see
// a partial manifest. Saving twice within one second fails rather than
// replacing the earlier file.
func (s *Store) Save(m *Manifest) (string, error) {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating manifest directory: %w", err)
	}

	path := s.NextPath(m.Algorithm)
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("manifest %s: %w", path, fs.ErrExist)
	}

	tmp, err := afero.TempFile(s.fs, s.dir, ".manifest-*.syncstage-tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = s.fs.Remove(tmpPath) }

	if err := Write(tmp, m); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("syncing manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", err
	}
	if err := s.fs.Rename(tmpPath, path); err != nil {
		cleanup()
		return "", fmt.Errorf("renaming manifest: %w", err)
	}

	s.log.Info("manifest written", "path", path, "entries", len(m.Entries), "algorithm", m.Algorithm)
	return path, nil
}

// Load parses the manifest at path. The algorithm comes from the file
// name; fallback is used for names that do not carry one.
func (s *Store) Load(path string, fallback types.Algorithm) (*Manifest, error) {
	algo := fallback
	if _, a, ok := ParseFileName(path); ok {
		algo = a
	}

	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f, path, algo)
}

// List returns the stored manifests, newest first.
func (s *Store) List() ([]Info, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading manifest directory: %w", err)
	}

	var out []Info
	for _, fi := range infos {
		if fi.IsDir() {
			continue
		}
		t, algo, ok := ParseFileName(fi.Name())
		if !ok {
			continue
		}
		out = append(out, Info{Path: filepath.Join(s.dir, fi.Name()), CreatedAt: t, Algorithm: algo})
	}
	slices.SortFunc(out, func(a, b Info) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
	return out, nil
}

// Latest returns the newest stored manifest.
func (s *Store) Latest() (Info, error) {
	list, err := s.List()
	if err != nil {
		return Info{}, err
	}
	if len(list) == 0 {
		return Info{}, fmt.Errorf("%w in %s", ErrNoManifest, s.dir)
	}
	return list[0], nil
}
