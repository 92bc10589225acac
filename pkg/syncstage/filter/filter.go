package filter

import (
	"cmp"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// Filter holds the criteria for selecting, sorting and limiting records.
// The zero value keeps everything in path order.
type Filter struct {
	// MinSize excludes records smaller than this many bytes.
	MinSize int64

	// MaxSize excludes records larger than this many bytes. 0 means no limit.
	MaxSize int64

	// Include contains glob patterns. If non-empty, records must match at least one.
	Include []string

	// Exclude contains glob patterns. Matching records are excluded.
	Exclude []string

	// Extensions restricts records to these lowercase extensions (".jpg").
	Extensions []string

	// OlderThan excludes records modified more recently than this duration ago.
	OlderThan time.Duration

	// NewerThan excludes records modified longer ago than this duration.
	NewerThan time.Duration

	SortBy         SortField
	SortDescending bool

	// Limit is the maximum number of records to return. 0 means unlimited.
	Limit int

	now     func() time.Time
	include []glob.Glob
	exclude []glob.Glob
}

// Option is a functional option for configuring a Filter.
type Option func(*Filter) error

// New creates a Filter and compiles its patterns. An invalid glob or an
// unknown type group is an error.
func New(opts ...Option) (*Filter, error) {
	f := &Filter{now: time.Now}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}

	var err error
	if f.include, err = compile(f.Include); err != nil {
		return nil, err
	}
	if f.exclude, err = compile(f.Exclude); err != nil {
		return nil, err
	}
	return f, nil
}

func compile(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// WithMinSize sets the minimum record size. Negative values become 0.
func WithMinSize(n int64) Option {
	return func(f *Filter) error {
		f.MinSize = max(n, 0)
		return nil
	}
}

// WithMaxSize sets the maximum record size. 0 or less means no limit.
func WithMaxSize(n int64) Option {
	return func(f *Filter) error {
		f.MaxSize = max(n, 0)
		return nil
	}
}

// WithInclude sets the include glob patterns.
func WithInclude(patterns ...string) Option {
	return func(f *Filter) error {
		f.Include = patterns
		return nil
	}
}

// WithExclude sets the exclude glob patterns.
func WithExclude(patterns ...string) Option {
	return func(f *Filter) error {
		f.Exclude = patterns
		return nil
	}
}

// WithExtensions adds extensions, normalized to lowercase with a leading dot.
func WithExtensions(extensions ...string) Option {
	return func(f *Filter) error {
		for _, ext := range extensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			f.Extensions = append(f.Extensions, ext)
		}
		return nil
	}
}

// WithTypeGroups adds the extensions of each named group.
func WithTypeGroups(groups ...string) Option {
	return func(f *Filter) error {
		for _, group := range groups {
			exts, ok := TypeGroups[strings.ToLower(group)]
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnknownTypeGroup, group)
			}
			f.Extensions = append(f.Extensions, exts...)
		}
		return nil
	}
}

// WithOlderThan keeps records last modified at least d ago.
func WithOlderThan(d time.Duration) Option {
	return func(f *Filter) error {
		f.OlderThan = d
		return nil
	}
}

// WithNewerThan keeps records modified within the last d.
func WithNewerThan(d time.Duration) Option {
	return func(f *Filter) error {
		f.NewerThan = d
		return nil
	}
}

// WithSort sets the sort field and direction.
func WithSort(field SortField, descending bool) Option {
	return func(f *Filter) error {
		f.SortBy = field
		f.SortDescending = descending
		return nil
	}
}

// WithLimit caps the number of records returned. Negative values become 0.
func WithLimit(limit int) Option {
	return func(f *Filter) error {
		f.Limit = max(limit, 0)
		return nil
	}
}

// WithClock replaces time.Now for age checks.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) error {
		f.now = now
		return nil
	}
}

// Match reports whether rec satisfies every criterion.
func (f *Filter) Match(rec types.FileRecord) bool {
	return f.matchSize(rec) &&
		f.matchExtension(rec) &&
		f.matchAge(rec) &&
		f.matchPatterns(rec)
}

func (f *Filter) matchSize(rec types.FileRecord) bool {
	if rec.Size < f.MinSize {
		return false
	}
	return f.MaxSize <= 0 || rec.Size <= f.MaxSize
}

func (f *Filter) matchExtension(rec types.FileRecord) bool {
	if len(f.Extensions) == 0 {
		return true
	}
	return slices.Contains(f.Extensions, strings.ToLower(path.Ext(rec.Path)))
}

func (f *Filter) matchAge(rec types.FileRecord) bool {
	now := f.now()
	if f.OlderThan > 0 && rec.ModTime.After(now.Add(-f.OlderThan)) {
		return false
	}
	if f.NewerThan > 0 && rec.ModTime.Before(now.Add(-f.NewerThan)) {
		return false
	}
	return true
}

func (f *Filter) matchPatterns(rec types.FileRecord) bool {
	if matchAny(f.exclude, rec.Path) {
		return false
	}
	return len(f.include) == 0 || matchAny(f.include, rec.Path)
}

// matchAny tests the relative path and its base name, so "*.jpg" matches
// at any depth.
func matchAny(globs []glob.Glob, rel string) bool {
	base := path.Base(rel)
	for _, g := range globs {
		if g.Match(rel) || g.Match(base) {
			return true
		}
	}
	return false
}

// Sort returns a sorted copy of records. Ties fall back to path order so
// the result is deterministic.
func (f *Filter) Sort(records []types.FileRecord) []types.FileRecord {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b types.FileRecord) int {
		var result int
		switch f.SortBy {
		case SortSize:
			result = cmp.Compare(a.Size, b.Size)
		case SortAge:
			result = a.ModTime.Compare(b.ModTime)
		}
		if f.SortDescending {
			result = -result
		}
		if result == 0 {
			result = cmp.Compare(a.Path, b.Path)
			if f.SortBy == SortPath && f.SortDescending {
				result = -result
			}
		}
		return result
	})
	return sorted
}

// Apply runs Match, Sort and Limit in that order.
func (f *Filter) Apply(records []types.FileRecord) []types.FileRecord {
	matched := make([]types.FileRecord, 0, len(records))
	for _, rec := range records {
		if f.Match(rec) {
			matched = append(matched, rec)
		}
	}

	sorted := f.Sort(matched)
	if f.Limit > 0 && len(sorted) > f.Limit {
		return sorted[:f.Limit]
	}
	return sorted
}
