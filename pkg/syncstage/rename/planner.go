package rename

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	serrors "github.com/ysasiwat/syncstage/pkg/syncstage/errors"
	"github.com/ysasiwat/syncstage/pkg/syncstage/logging"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// maxCounter bounds the search for a free name.
const maxCounter = 9999

// Options configures a Planner.
type Options struct {
	Template string
	Pad      int

	// AppendCounter resolves collisions for templates without {counter}
	// by adding " NN" before the extension instead of failing.
	AppendCounter bool

	// SkipIfAlready skips files already carrying the rendered name or
	// matching IdempotentPrefix.
	SkipIfAlready    bool
	IdempotentPrefix string

	// Normalize runs NormalizeStem on the rendered stem.
	Normalize     bool
	NormalizeOpts NormalizeOptions
	ExtCase       string

	// Sanitize strips characters invalid on common filesystems.
	Sanitize     bool
	SanitizeMode string
}

// Rename moves one file to a new name in the same directory.
type Rename struct {
	Record types.FileRecord `json:"record"`
	From   string           `json:"from"`
	To     string           `json:"to"`

	// Counter is the {counter} value or appended suffix, 0 when neither applies.
	Counter int `json:"counter,omitempty"`
}

// Plan is the outcome of planning. Renames are ordered by source path.
type Plan struct {
	Template string          `json:"template"`
	Renames  []Rename        `json:"renames"`
	Skipped  []types.Skipped `json:"skipped,omitempty"`
}

// Planner turns records into a rename plan. It reads the filesystem to
// detect existing destinations but never changes it.
type Planner struct {
	tmpl   *Template
	opts   Options
	prefix *regexp.Regexp
	log    *logging.Logger

	// lstat is replaceable in tests.
	lstat func(string) (fs.FileInfo, error)
}

// New compiles the template and validates opts.
func New(opts Options) (*Planner, error) {
	tmpl, err := Compile(opts.Template)
	if err != nil {
		return nil, err
	}
	if opts.Pad < 1 {
		opts.Pad = 2
	}
	if err := opts.NormalizeOpts.Validate(); err != nil {
		return nil, err
	}
	switch opts.SanitizeMode {
	case "", SanitizeDrop, SanitizeUnderscore:
	default:
		return nil, fmt.Errorf("%w: sanitize %q", ErrInvalidMode, opts.SanitizeMode)
	}

	p := &Planner{tmpl: tmpl, opts: opts, log: logging.Get("rename"), lstat: os.Lstat}
	if opts.SkipIfAlready && opts.IdempotentPrefix != "" {
		p.prefix, err = regexp.Compile(opts.IdempotentPrefix)
		if err != nil {
			return nil, fmt.Errorf("idempotent prefix: %w", err)
		}
	}
	return p, nil
}

// Template returns the compiled template.
func (p *Planner) Template() *Template { return p.tmpl }

// Name renders the new file name for rec with the given counter. The
// result has been normalized and sanitized as configured.
func (p *Planner) Name(rec types.FileRecord, counter int) string {
	rendered := p.tmpl.Render(rec, counter, p.opts.Pad)
	if !p.tmpl.HasExt() {
		_, ext := SplitExt(rec.Name())
		rendered += ext
	}
	return p.finish(rendered)
}

func (p *Planner) finish(name string) string {
	stem, ext := SplitExt(name)
	if p.opts.Normalize {
		stem = NormalizeStem(stem, p.opts.NormalizeOpts)
	}
	name = stem + ApplyExtCase(ext, p.opts.ExtCase)
	if p.opts.Sanitize {
		name = Sanitize(name, p.opts.SanitizeMode)
	}
	return name
}

// appendCounter inserts " NN" before the extension.
func (p *Planner) appendCounter(name string, n int) string {
	stem, ext := SplitExt(name)
	return stem + " " + PadCounter(n, p.opts.Pad) + ext
}

// Plan renders a new name for every record. Records are processed in
// root then path order, so the same input always yields the same plan.
//
// A destination is taken when it exists on disk as a different file or
// was already assigned earlier in the pass. Taken destinations bump
// {counter}; without one, planning fails with a rename collision error
// unless AppendCounter is set.
func (p *Planner) Plan(records []types.FileRecord) (*Plan, error) {
	recs := slices.Clone(records)
	slices.SortFunc(recs, func(a, b types.FileRecord) int {
		if c := cmp.Compare(a.Root, b.Root); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})

	plan := &Plan{Template: p.tmpl.String()}
	assigned := mapset.NewThreadUnsafeSet[string]()
	owner := make(map[string]string)

	for _, rec := range recs {
		from := rec.Abs()
		current := filepath.Base(from)

		name := p.Name(rec, 1)
		if reason := p.skipReason(current, name); reason != "" {
			plan.Skipped = append(plan.Skipped, types.Skipped{Path: from, Reason: reason})
			continue
		}

		dir := filepath.Dir(from)
		to := filepath.Join(dir, name)
		counter := 0
		if p.tmpl.HasCounter() {
			counter = 1
		}

		for p.taken(from, to, assigned) {
			switch {
			case p.tmpl.HasCounter():
				counter++
				name = p.Name(rec, counter)
			case p.opts.AppendCounter:
				if counter == 0 {
					counter = 1
				}
				counter++
				name = p.appendCounter(p.Name(rec, 1), counter)
			default:
				sources := []string{from}
				if prev, ok := owner[to]; ok {
					sources = append([]string{prev}, sources...)
				}
				return nil, serrors.RenameCollision(to, sources...)
			}
			if counter > maxCounter {
				return nil, serrors.RenameCollision(to, from)
			}
			to = filepath.Join(dir, name)
		}

		if to == from {
			plan.Skipped = append(plan.Skipped, types.Skipped{Path: from, Reason: "name unchanged"})
			continue
		}

		assigned.Add(to)
		owner[to] = from
		plan.Renames = append(plan.Renames, Rename{Record: rec, From: from, To: to, Counter: counter})
	}

	p.log.Debug("rename planned",
		"template", p.tmpl.String(),
		"renames", len(plan.Renames),
		"skipped", len(plan.Skipped))
	return plan, nil
}

func (p *Planner) skipReason(current, name string) string {
	switch {
	case name == "" || name == "." || name == "..":
		return "rendered name is empty"
	case strings.ContainsAny(name, `/\`):
		return "rendered name " + quote(name) + " contains a path separator"
	}
	if p.opts.SkipIfAlready {
		if current == name {
			return "already named"
		}
		if p.prefix != nil && p.prefix.MatchString(current) {
			return "already has prefix"
		}
	}
	if current == name {
		return "name unchanged"
	}
	return ""
}

// taken reports whether to cannot be used for the file at from.
func (p *Planner) taken(from, to string, assigned mapset.Set[string]) bool {
	if to == from {
		return false
	}
	if assigned.Contains(to) {
		return true
	}
	dst, err := p.lstat(to)
	if err != nil {
		return !errors.Is(err, fs.ErrNotExist)
	}
	// A case-only rename on a case-insensitive filesystem finds the
	// source itself.
	src, err := p.lstat(from)
	return err != nil || !os.SameFile(src, dst)
}
