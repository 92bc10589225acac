// Package history journals applied runs. Every run that changes the
// filesystem is written as one JSON file so a user can see afterwards what
// was deleted, linked or moved, and why.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ysasiwat/syncstage/pkg/syncstage/apply"
	"github.com/ysasiwat/syncstage/pkg/syncstage/logging"
)

// ErrNotFound is returned by Get when no entry matches.
var ErrNotFound = errors.New("history entry not found")

// ErrAmbiguous is returned by Get when an id prefix matches several entries.
var ErrAmbiguous = errors.New("history id prefix is ambiguous")

// Entry is one journaled run.
type Entry struct {
	ID        string         `json:"id" yaml:"id"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Operation string         `json:"operation" yaml:"operation"`
	Roots     []string       `json:"roots" yaml:"roots"`
	Elapsed   time.Duration  `json:"elapsed" yaml:"elapsed"`
	Results   []apply.Result `json:"results" yaml:"results"`
	Summary   apply.Summary  `json:"summary" yaml:"summary"`
}

// Journal stores entries as JSON files in a directory.
type Journal struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
	log *logging.Logger
}

// New returns a Journal rooted at dir. The directory is created on the
// first write.
func New(dir string) (*Journal, error) {
	if dir == "" {
		return nil, errors.New("history directory cannot be empty")
	}
	return &Journal{dir: dir, now: time.Now, log: logging.Get("history")}, nil
}

// Dir returns the journal directory.
func (j *Journal) Dir() string { return j.dir }

// Record journals a finished run. Dry runs are not recorded and return a
// nil entry.
func (j *Journal) Record(report *apply.Report, roots []string) (*Entry, error) {
	if report == nil || report.DryRun {
		return nil, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry := &Entry{
		ID:        uuid.NewString(),
		Timestamp: j.now().UTC(),
		Operation: report.Operation,
		Roots:     roots,
		Elapsed:   report.Elapsed,
		Results:   report.Results,
		Summary:   report.Summary,
	}
	if err := j.write(entry); err != nil {
		return nil, fmt.Errorf("writing history entry: %w", err)
	}
	j.log.Info("run recorded", "id", entry.ID, "operation", entry.Operation, "failed", entry.Summary.Failed)
	return entry, nil
}

func filename(e *Entry) string {
	return fmt.Sprintf("%s-%s-%s.json", e.Timestamp.Format("20060102T150405"), e.Operation, e.ID)
}

// write stores the entry through a temp file and a rename.
func (j *Journal) write(e *Entry) error {
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling entry: %w", err)
	}

	path := filepath.Join(j.dir, filename(e))
	tmp, err := os.CreateTemp(j.dir, ".entry-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// List returns entries newest first. A positive limit caps the count.
// Files that do not parse are skipped with a warning.
func (j *Journal) List(limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readAll()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Get returns the entry whose id is id or starts with it.
func (j *Journal) Get(id string) (*Entry, error) {
	if id == "" {
		return nil, errors.New("entry ID cannot be empty")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readAll()
	if err != nil {
		return nil, err
	}

	var match *Entry
	for i := range entries {
		switch {
		case entries[i].ID == id:
			return &entries[i], nil
		case strings.HasPrefix(entries[i].ID, id):
			if match != nil {
				return nil, fmt.Errorf("%w: %s", ErrAmbiguous, id)
			}
			match = &entries[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return match, nil
}

// Cleanup removes entries recorded more than retentionDays ago and returns
// how many were removed. Zero or negative retention keeps everything.
func (j *Journal) Cleanup(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := j.now().AddDate(0, 0, -retentionDays)
	files, err := j.files()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, name := range files {
		e, err := j.read(name)
		if err != nil || !e.Timestamp.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, name)); err != nil {
			j.log.Warn("removing history entry", "file", name, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (j *Journal) files() ([]string, error) {
	dirents, err := os.ReadDir(j.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading history directory: %w", err)
	}
	var names []string
	for _, d := range dirents {
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".json") {
			names = append(names, d.Name())
		}
	}
	return names, nil
}

func (j *Journal) readAll() ([]Entry, error) {
	names, err := j.files()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		e, err := j.read(name)
		if err != nil {
			j.log.Warn("skipping unreadable history entry", "file", name, "error", err)
			continue
		}
		entries = append(entries, *e)
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].Timestamp.After(entries[b].Timestamp)
	})
	return entries, nil
}

func (j *Journal) read(name string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(j.dir, name))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return &e, nil
}
