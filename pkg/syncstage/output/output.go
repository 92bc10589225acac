// Package output renders command reports in the selectable output formats
// (pretty, plain, json, yaml, tsv, csv, paths, null, template).
//
// Formatters are looked up by name in a registry:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, report); err != nil {
//	    return err
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ysasiwat/syncstage/pkg/syncstage/apply"
	"github.com/ysasiwat/syncstage/pkg/syncstage/dedupe"
	"github.com/ysasiwat/syncstage/pkg/syncstage/history"
	"github.com/ysasiwat/syncstage/pkg/syncstage/manifest"
	"github.com/ysasiwat/syncstage/pkg/syncstage/plan"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// ScanStats summarizes the scan behind a report.
type ScanStats struct {
	Files       int           `json:"files" yaml:"files"`
	Bytes       int64         `json:"bytes" yaml:"bytes"`
	DirsScanned int64         `json:"dirs_scanned" yaml:"dirs_scanned"`
	Ignored     int64         `json:"ignored" yaml:"ignored"`
	Elapsed     time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Add folds another root's scan into the stats.
func (s *ScanStats) Add(r *types.ScanResult) {
	s.Files += len(r.Files)
	s.Bytes += r.TotalSize
	s.DirsScanned += r.DirsScanned
	s.Ignored += r.Ignored
	s.Elapsed += r.Elapsed
}

// Report is what a command hands to a formatter. Only the sections the
// command produced are set.
type Report struct {
	Command string   `json:"command" yaml:"command"`
	Roots   []string `json:"roots,omitempty" yaml:"roots,omitempty"`
	DryRun  bool     `json:"dry_run" yaml:"dry_run"`

	Scan  *ScanStats         `json:"scan,omitempty" yaml:"scan,omitempty"`
	Files []types.FileRecord `json:"files,omitempty" yaml:"files,omitempty"`

	Groups      []dedupe.Group `json:"groups,omitempty" yaml:"groups,omitempty"`
	DedupeStats *dedupe.Stats  `json:"dedupe_stats,omitempty" yaml:"dedupe_stats,omitempty"`

	// Manifest is the manifest file written or checked.
	Manifest string               `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Diff     *manifest.DiffResult `json:"diff,omitempty" yaml:"diff,omitempty"`

	Plan    *plan.Plan      `json:"plan,omitempty" yaml:"plan,omitempty"`
	Apply   *apply.Report   `json:"apply,omitempty" yaml:"apply,omitempty"`
	History []history.Entry `json:"history,omitempty" yaml:"history,omitempty"`

	Skipped  []types.Skipped `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Warnings []string        `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	// Interrupted is set when the user cancelled the command.
	Interrupted bool `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
}

// TotalSize returns the sum of the listed file sizes.
func (r *Report) TotalSize() int64 {
	var total int64
	for _, f := range r.Files {
		total += f.Size
	}
	return total
}

// Paths returns the paths the report is about, for the path-list
// formatters: changed paths of a plan or diff, redundant copies of
// duplicate groups, or the listed files.
func (r *Report) Paths() []string {
	var out []string
	switch {
	case r.Apply != nil:
		for _, res := range r.Apply.Results {
			if res.Status == apply.StatusDone || res.Status == apply.StatusWould {
				out = append(out, res.Action.Source())
			}
		}
	case r.Plan != nil:
		for _, a := range r.Plan.Changes() {
			out = append(out, a.Source())
		}
	case r.Groups != nil:
		for _, g := range r.Groups {
			for _, f := range g.Redundant {
				out = append(out, f.Abs())
			}
		}
	case r.Diff != nil:
		for _, c := range r.Diff.Modified {
			out = append(out, c.Path)
		}
		for _, e := range r.Diff.Added {
			out = append(out, e.Path)
		}
		for _, e := range r.Diff.Removed {
			out = append(out, e.Path)
		}
	default:
		for _, f := range r.Files {
			out = append(out, f.Abs())
		}
	}
	return out
}

// Formatter renders a report.
type Formatter interface {
	// Format writes the formatted output to the buffer.
	Format(w *bytes.Buffer, r *Report) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FormatterFactory)}
}

// Register adds a formatter factory, replacing any with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown output format %q (available: %v)", name, r.available())
	}
	return factory(), nil
}

// Available returns the registered formatter names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available()
}

func (r *Registry) available() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in formatters.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
