// Package ignore decides which paths under a scan root the engine never
// looks at. Patterns are doublestar globs matched against slash-separated
// paths relative to the root; a pattern without a slash also matches any
// base name. An optional .syncstageignore file in gitignore syntax adds
// more rules.
package ignore

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName is the per-root ignore file.
const FileName = ".syncstageignore"

// DefaultPatterns covers version control, sync client metadata, and files
// syncstage writes itself.
var DefaultPatterns = []string{
	".git",
	".svn",
	".hg",
	".dropbox",
	".dropbox.cache",
	".sync",
	".stversions",
	".tmp.drivedownload",
	".tmp.driveupload",
	"$RECYCLE.BIN",
	".Trash-*",
	".syncstage-dupes",
	"*.syncstage-linktmp",
	"*.syncstage-tmp",
	"MANIFEST-[0-9][0-9][0-9][0-9][0-9][0-9][0-9][0-9]-[0-9][0-9][0-9][0-9][0-9][0-9].*.txt",
	FileName,
	".syncstage.lock",
}

// DefaultJunk lists OS and editor litter that clean removes and every other
// command ignores.
var DefaultJunk = []string{
	".DS_Store",
	"._*",
	"Thumbs.db",
	"ehthumbs.db",
	"desktop.ini",
	"~$*",
	".~lock.*#",
	".dropbox.attr",
}

// Defaults returns DefaultPatterns followed by DefaultJunk.
func Defaults() []string {
	out := make([]string, 0, len(DefaultPatterns)+len(DefaultJunk))
	out = append(out, DefaultPatterns...)
	return append(out, DefaultJunk...)
}

// Without returns patterns minus every entry of remove.
func Without(patterns, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, p := range remove {
		drop[p] = struct{}{}
	}
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if _, ok := drop[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// Matcher reports whether a relative path is ignored. The zero value and a
// nil *Matcher ignore nothing.
type Matcher struct {
	patterns []string
	file     *gitignore.GitIgnore
}

// New compiles patterns. Invalid globs are rejected up front so a typo in
// the config fails the run before any work starts.
func New(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(filepath.ToSlash(p))
		if p == "" {
			continue
		}
		p = strings.TrimPrefix(p, "./")
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// Load compiles patterns and, when root holds a .syncstageignore file, its
// gitignore rules as well.
func Load(root string, patterns []string) (*Matcher, error) {
	m, err := New(patterns)
	if err != nil {
		return nil, err
	}

	file := filepath.Join(root, FileName)
	gi, err := gitignore.CompileIgnoreFile(file)
	switch {
	case err == nil:
		m.file = gi
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}
	return m, nil
}

// Patterns returns the compiled glob patterns.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}

// Match reports whether the file at rel is ignored.
func (m *Matcher) Match(rel string) bool {
	return m.match(rel, false)
}

// MatchDir reports whether the directory at rel, and so everything below
// it, is ignored.
func (m *Matcher) MatchDir(rel string) bool {
	return m.match(rel, true)
}

func (m *Matcher) match(rel string, dir bool) bool {
	if m == nil || rel == "" || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	base := path.Base(rel)

	for _, p := range m.patterns {
		if matchGlob(p, rel) {
			return true
		}
		if !strings.Contains(p, "/") && matchGlob(p, base) {
			return true
		}
		if dir && matchGlob(p, rel+"/**") {
			return true
		}
	}

	if m.file != nil {
		candidate := rel
		if dir {
			candidate += "/"
		}
		if m.file.MatchesPath(candidate) {
			return true
		}
	}
	return false
}

func matchGlob(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

// Rel converts an absolute path under root into the slash-separated form
// the matcher expects.
func Rel(root, abs string) (string, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
