// Package organize plans moving files into date and extension folders.
package organize

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/lestrrat-go/strftime"

	"github.com/ysasiwat/syncstage/pkg/syncstage/logging"
	"github.com/ysasiwat/syncstage/pkg/syncstage/plan"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// By selects the folder layout.
type By string

// Layouts.
const (
	ByDate    By = "date"
	ByExt     By = "ext"
	ByDateExt By = "date_ext"
)

// NoExt names the folder for files without an extension.
const NoExt = "noext"

// ErrInvalidLayout is returned for an unknown By value.
var ErrInvalidLayout = errors.New("invalid organize layout")

// Options configures a Planner.
type Options struct {
	// Destination is the target directory. "{root}" expands to the
	// record's scan root; a relative destination is taken under the root.
	Destination string

	By By

	// DateFormat is a strftime layout applied to the modification time.
	DateFormat string

	LowercaseExt bool
}

// Planner plans organize moves. It reads the filesystem to detect
// existing targets but never changes it.
type Planner struct {
	opts   Options
	format *strftime.Strftime
	lstat  func(string) (fs.FileInfo, error)
	log    *logging.Logger
}

// New validates opts and returns a Planner.
func New(opts Options) (*Planner, error) {
	switch opts.By {
	case ByDate, ByExt, ByDateExt:
	case "":
		opts.By = ByDateExt
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidLayout, opts.By)
	}
	if opts.Destination == "" {
		opts.Destination = "{root}/Organized"
	}
	if opts.DateFormat == "" {
		opts.DateFormat = "%Y/%m"
	}
	f, err := strftime.New(opts.DateFormat)
	if err != nil {
		return nil, fmt.Errorf("date format %q: %w", opts.DateFormat, err)
	}
	return &Planner{opts: opts, format: f, lstat: os.Lstat, log: logging.Get("organize")}, nil
}

// Destination returns the organize directory for root.
func (p *Planner) Destination(root string) string {
	dest := strings.ReplaceAll(p.opts.Destination, "{root}", root)
	dest = filepath.FromSlash(dest)
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(root, dest)
	}
	return filepath.Clean(dest)
}

// Target returns where rec belongs, ignoring collisions.
func (p *Planner) Target(rec types.FileRecord) string {
	name := rec.Name()
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if p.opts.LowercaseExt {
		ext = strings.ToLower(ext)
	}
	if ext == "" {
		ext = NoExt
	}
	date := filepath.FromSlash(p.format.FormatString(rec.ModTime.Local()))

	dest := p.Destination(rec.Root)
	switch p.opts.By {
	case ByDate:
		return filepath.Join(dest, date, name)
	case ByExt:
		return filepath.Join(dest, ext, name)
	default:
		return filepath.Join(dest, date, ext, name)
	}
}

// Plan returns one move per record that is not already organized.
// Records inside the destination are left out. A target that already
// holds a file of the same size and modification second is skipped;
// other collisions get " (n)" suffixes.
func (p *Planner) Plan(records []types.FileRecord) (*plan.Plan, error) {
	assigned := mapset.NewThreadUnsafeSet[string]()
	var actions []plan.Action

	for _, rec := range records {
		from := rec.Abs()
		if inside(from, p.Destination(rec.Root)) {
			continue
		}

		to := p.Target(rec)
		if info, err := p.lstat(to); err == nil && sameFile(rec, info) {
			actions = append(actions, plan.Skip(from, "already organized at "+to))
			continue
		}

		base := to
		for n := 1; p.taken(to, assigned); n++ {
			to = suffixed(base, n)
		}
		assigned.Add(to)
		actions = append(actions, plan.Move(from, to, rec.Size))
	}

	p.log.Debug("organize planned", "records", len(records), "actions", len(actions))
	return plan.New("organize", actions)
}

func (p *Planner) taken(path string, assigned mapset.Set[string]) bool {
	if assigned.Contains(path) {
		return true
	}
	_, err := p.lstat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

func sameFile(rec types.FileRecord, info fs.FileInfo) bool {
	return info.Mode().IsRegular() &&
		info.Size() == rec.Size &&
		info.ModTime().Truncate(time.Second).Equal(rec.ModTime.Truncate(time.Second))
}

// suffixed turns "dir/name.ext" into "dir/name (n).ext".
func suffixed(path string, n int) string {
	dir, name := filepath.Split(path)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem, ext = name, ""
	}
	return filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
}

func inside(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
