package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ysasiwat/syncstage/pkg/syncstage/apply"
)

// Table is the tabular view of a report shared by the plain, pretty, tsv
// and csv formatters.
type Table struct {
	Header []string
	Rows   [][]string
}

// digestWidth is how many hex digits of a digest tables show.
const digestWidth = 12

// TableOf picks the main table of r: apply results, else the plan, else
// duplicate groups, else the manifest diff, else history, else files.
func TableOf(r *Report) Table {
	switch {
	case r.Apply != nil:
		t := Table{Header: []string{"STATUS", "ACTION", "PATH", "DETAIL"}}
		for _, res := range r.Apply.Results {
			detail := res.Message
			if res.Status == apply.StatusFailed {
				detail = res.Error
			}
			t.Rows = append(t.Rows, []string{string(res.Status), string(res.Action.Kind), res.Action.Source(), detail})
		}
		return t

	case r.Plan != nil:
		t := Table{Header: []string{"ACTION", "PATH", "TARGET"}}
		for _, a := range r.Plan.Actions {
			target := a.To
			switch {
			case a.Reason != "":
				target = a.Reason
			case a.Keeper != "" && a.To == "":
				target = "duplicate of " + a.Keeper
			case a.Dir:
				target = "empty directory"
			}
			t.Rows = append(t.Rows, []string{string(a.Kind), a.Source(), target})
		}
		return t

	case r.Groups != nil:
		t := Table{Header: []string{"GROUP", "SIZE", "DIGEST", "ROLE", "PATH"}}
		for i, g := range r.Groups {
			hex := g.Digest.Hex()
			if len(hex) > digestWidth {
				hex = hex[:digestWidth]
			}
			for j, f := range g.Members() {
				role := "dup"
				if j == 0 {
					role = "keep"
				}
				t.Rows = append(t.Rows, []string{strconv.Itoa(i + 1), humanize.IBytes(uint64(f.Size)), hex, role, f.Abs()})
			}
		}
		return t

	case r.Diff != nil:
		t := Table{Header: []string{"STATUS", "PATH"}}
		for _, c := range r.Diff.Modified {
			t.Rows = append(t.Rows, []string{"MODIFIED", c.Path})
		}
		for _, e := range r.Diff.Added {
			t.Rows = append(t.Rows, []string{"ADDED", e.Path})
		}
		for _, e := range r.Diff.Removed {
			t.Rows = append(t.Rows, []string{"REMOVED", e.Path})
		}
		return t

	case r.History != nil:
		t := Table{Header: []string{"ID", "WHEN", "OPERATION", "DONE", "FAILED"}}
		for _, e := range r.History {
			t.Rows = append(t.Rows, []string{
				shortID(e.ID),
				e.Timestamp.Local().Format(time.DateTime),
				e.Operation,
				strconv.Itoa(e.Summary.Done),
				strconv.Itoa(e.Summary.Failed),
			})
		}
		return t

	default:
		t := Table{Header: []string{"SIZE", "CREATED", "PATH"}}
		for _, f := range r.Files {
			t.Rows = append(t.Rows, []string{
				humanize.IBytes(uint64(f.Size)),
				f.CreateTime.Local().Format(time.DateOnly),
				f.Abs(),
			})
		}
		return t
	}
}

// Field is one labelled summary value.
type Field struct {
	Label string
	Value string
}

// SummaryOf returns the summary fields for r, in display order.
func SummaryOf(r *Report) []Field {
	var fields []Field
	add := func(label, format string, args ...any) {
		fields = append(fields, Field{Label: label, Value: fmt.Sprintf(format, args...)})
	}

	if r.Scan != nil {
		add("Scanned", "%d files, %s in %s", r.Scan.Files, humanize.IBytes(uint64(r.Scan.Bytes)), formatDuration(r.Scan.Elapsed))
	}
	if r.DedupeStats != nil {
		s := r.DedupeStats
		add("Duplicates", "%d groups, %d redundant, %s wasted", s.Groups, s.Redundant, humanize.IBytes(uint64(s.Wasted)))
	}
	if r.Manifest != "" {
		if r.DryRun {
			add("Would write", "%s", r.Manifest)
		} else {
			add("Manifest", "%s", r.Manifest)
		}
	}
	if r.Diff != nil {
		d := r.Diff
		add("Verify", "%d unchanged, %d modified, %d added, %d removed",
			len(d.Unchanged), len(d.Modified), len(d.Added), len(d.Removed))
	}
	if r.Plan != nil && r.Apply == nil {
		add("Plan", "%s", r.Plan.Summary())
	}
	if r.Apply != nil {
		s := r.Apply.Summary
		if r.Apply.DryRun {
			add("Dry run", "%d would change, %d skipped", s.Would, s.Skipped)
		} else {
			add("Applied", "%d done, %d skipped, %d failed", s.Done, s.Skipped, s.Failed)
		}
		if s.Reclaimed > 0 {
			add("Reclaimed", "%s", humanize.IBytes(uint64(s.Reclaimed)))
		}
	}
	if len(r.Skipped) > 0 {
		add("Skipped", "%d", len(r.Skipped))
	}
	return fields
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// TSVFormatter writes the report table as tab-separated values.
type TSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *TSVFormatter) Format(w *bytes.Buffer, r *Report) error {
	t := TableOf(r)
	w.WriteString(strings.Join(t.Header, "\t"))
	w.WriteByte('\n')
	for _, row := range t.Rows {
		w.WriteString(strings.Join(row, "\t"))
		w.WriteByte('\n')
	}
	return nil
}

// CSVFormatter writes the report table as RFC 4180 CSV.
type CSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *CSVFormatter) Format(w *bytes.Buffer, r *Report) error {
	t := TableOf(r)
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

func init() {
	Register("tsv", func() Formatter { return &TSVFormatter{} })
	Register("csv", func() Formatter { return &CSVFormatter{} })
}

var (
	_ Formatter = (*TSVFormatter)(nil)
	_ Formatter = (*CSVFormatter)(nil)
)
