package rename

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// CSV header columns of an exported plan.
var csvHeader = []string{"old_path", "new_name"}

// ErrPlanCSV is returned for a plan file that cannot be used.
var ErrPlanCSV = errors.New("invalid plan csv")

// WriteCSV exports plan as old_path,new_name rows so it can be reviewed
// or edited and fed back with ReadCSV.
func WriteCSV(w io.Writer, plan *Plan) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range plan.Renames {
		if err := cw.Write([]string{r.From, filepath.Base(r.To)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV builds a plan from an exported or hand-edited CSV. Rows whose
// source is missing or whose name is unchanged become skips. A new name
// that is already taken gets a " NN" suffix starting at 2.
func ReadCSV(r io.Reader, pad int) (*Plan, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrPlanCSV, err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	oldIdx, ok1 := col[csvHeader[0]]
	newIdx, ok2 := col[csvHeader[1]]
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: header must contain %s", ErrPlanCSV, strings.Join(csvHeader, ","))
	}

	p := &Planner{opts: Options{Pad: max(pad, 1)}, lstat: os.Lstat}
	plan := &Plan{Template: "csv"}
	assigned := mapset.NewThreadUnsafeSet[string]()

	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPlanCSV, err)
		}
		if len(row) <= max(oldIdx, newIdx) {
			return nil, fmt.Errorf("%w: line %d has %d fields", ErrPlanCSV, line, len(row))
		}

		from, name := row[oldIdx], strings.TrimSpace(row[newIdx])
		switch {
		case name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`):
			return nil, fmt.Errorf("%w: line %d: %q is not a bare file name", ErrPlanCSV, line, name)
		case !filepath.IsAbs(from):
			return nil, fmt.Errorf("%w: line %d: old_path %q is not absolute", ErrPlanCSV, line, from)
		}

		info, err := os.Lstat(from)
		if err != nil {
			reason := "unreadable"
			if errors.Is(err, fs.ErrNotExist) {
				reason = "missing"
			}
			plan.Skipped = append(plan.Skipped, types.Skipped{Path: from, Reason: reason})
			continue
		}
		if !info.Mode().IsRegular() {
			plan.Skipped = append(plan.Skipped, types.Skipped{Path: from, Reason: "not a regular file"})
			continue
		}

		dir := filepath.Dir(from)
		to := filepath.Join(dir, name)
		counter := 0
		for n := 2; p.taken(from, to, assigned); n++ {
			if n > maxCounter {
				return nil, fmt.Errorf("%w: line %d: no free name for %q", ErrPlanCSV, line, name)
			}
			counter = n
			to = filepath.Join(dir, p.appendCounter(name, n))
		}
		if to == from {
			plan.Skipped = append(plan.Skipped, types.Skipped{Path: from, Reason: "name unchanged"})
			continue
		}

		assigned.Add(to)
		plan.Renames = append(plan.Renames, Rename{
			Record:  types.FileRecord{Root: dir, Path: filepath.Base(from), Size: info.Size(), ModTime: info.ModTime()},
			From:    from,
			To:      to,
			Counter: counter,
		})
	}

	slices.SortFunc(plan.Renames, func(a, b Rename) int { return strings.Compare(a.From, b.From) })
	return plan, nil
}
