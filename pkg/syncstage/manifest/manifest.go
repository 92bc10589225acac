// Package manifest reads, writes and compares checksum manifests. A
// manifest is a UTF-8 text file with one line per file:
//
//	<hex digest>  <size>  <path relative to the root>
//
// Lines are sorted by path. The digest algorithm is not stored in the body;
// it is carried by the file name (see FileName).
package manifest

import (
	"bufio"
	"cmp"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	serrors "github.com/ysasiwat/syncstage/pkg/syncstage/errors"
	"github.com/ysasiwat/syncstage/pkg/syncstage/hasher"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

const separator = "  "

// Entry is one line of a manifest.
type Entry struct {
	Path   string       `json:"path"`
	Size   int64        `json:"size"`
	Digest types.Digest `json:"digest"`
}

// Manifest is an in-memory manifest. Entries are kept sorted by path.
type Manifest struct {
	Algorithm types.Algorithm `json:"algorithm"`
	Entries   []Entry         `json:"entries"`
}

// ErrInvalidPath is returned by Write for a path that cannot be
// represented on a single line.
var ErrInvalidPath = errors.New("path cannot be written to a manifest")

// New builds a manifest from entries, sorting a copy by path.
func New(algo types.Algorithm, entries []Entry) *Manifest {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int { return cmp.Compare(a.Path, b.Path) })
	return &Manifest{Algorithm: algo, Entries: sorted}
}

// FromResults builds a manifest from hash results. Records that failed to
// hash are returned as skips instead.
func FromResults(algo types.Algorithm, results []hasher.Result) (*Manifest, []types.Skipped) {
	entries := make([]Entry, 0, len(results))
	var skipped []types.Skipped
	for _, r := range results {
		if r.Err != nil {
			skipped = append(skipped, types.Skipped{Path: r.Record.Path, Reason: r.Err.Error()})
			continue
		}
		entries = append(entries, Entry{Path: r.Record.Path, Size: r.Record.Size, Digest: r.Digest})
	}
	return New(algo, entries), skipped
}

// Lookup returns the entry for path.
func (m *Manifest) Lookup(path string) (Entry, bool) {
	i, ok := slices.BinarySearchFunc(m.Entries, path, func(e Entry, p string) int { return cmp.Compare(e.Path, p) })
	if !ok {
		return Entry{}, false
	}
	return m.Entries[i], true
}

// Write serializes m to w, sorted by path.
func Write(w io.Writer, m *Manifest) error {
	entries := m.Entries
	if !slices.IsSortedFunc(entries, func(a, b Entry) int { return cmp.Compare(a.Path, b.Path) }) {
		entries = New(m.Algorithm, entries).Entries
	}

	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if e.Path == "" || strings.ContainsAny(e.Path, "\n\r") {
			return fmt.Errorf("%w: %q", ErrInvalidPath, e.Path)
		}
		if _, err := fmt.Fprintf(bw, "%s%s%d%s%s\n", e.Digest.Hex(), separator, e.Size, separator, e.Path); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Parse reads a manifest. name is used in error messages. When algo is
// set every digest must have its length; otherwise digests only have to
// agree with each other. Any malformed line fails the whole parse with a
// manifest format error carrying the 1-based line number.
func Parse(r io.Reader, name string, algo types.Algorithm) (*Manifest, error) {
	wantLen := 0
	if algo != "" {
		wantLen = algo.DigestSize() * 2
	}

	m := &Manifest{Algorithm: algo}
	seen := make(map[string]struct{})
	sorted := true

	br := bufio.NewReader(r)
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading manifest %s: %w", name, err)
		}
		if line == "" && errors.Is(err, io.EOF) {
			break
		}
		line = strings.TrimSuffix(line, "\n")

		entry, perr := parseLine(line, wantLen, m.Algorithm)
		if perr != nil {
			return nil, serrors.ManifestFormat(name, lineNo, "%v", perr)
		}
		if wantLen == 0 {
			wantLen = len(entry.Digest.Sum) * 2
		}
		if _, dup := seen[entry.Path]; dup {
			return nil, serrors.ManifestFormat(name, lineNo, "duplicate path %q", entry.Path)
		}
		seen[entry.Path] = struct{}{}

		if n := len(m.Entries); n > 0 && m.Entries[n-1].Path > entry.Path {
			sorted = false
		}
		m.Entries = append(m.Entries, entry)

		if errors.Is(err, io.EOF) {
			break
		}
	}

	if !sorted {
		m.Entries = New(m.Algorithm, m.Entries).Entries
	}
	return m, nil
}

func parseLine(line string, wantLen int, algo types.Algorithm) (Entry, error) {
	if line == "" {
		return Entry{}, errors.New("empty line")
	}
	fields := strings.SplitN(line, separator, 3)
	if len(fields) != 3 {
		return Entry{}, errors.New("expected <digest>  <size>  <path>")
	}
	hexSum, sizeStr, path := fields[0], fields[1], fields[2]

	sum, err := hex.DecodeString(hexSum)
	if err != nil || len(sum) == 0 {
		return Entry{}, fmt.Errorf("invalid hex digest %q", hexSum)
	}
	if wantLen > 0 && len(hexSum) != wantLen {
		return Entry{}, fmt.Errorf("digest has %d hex characters, want %d", len(hexSum), wantLen)
	}

	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil || size < 0 {
		return Entry{}, fmt.Errorf("invalid size %q", sizeStr)
	}
	if path == "" {
		return Entry{}, errors.New("missing path")
	}

	return Entry{Path: path, Size: size, Digest: types.Digest{Algorithm: algo, Sum: sum}}, nil
}

// Change is a path present in both manifests with different content.
type Change struct {
	Path string `json:"path"`
	Old  Entry  `json:"old"`
	New  Entry  `json:"new"`
}

// DiffResult partitions the union of two manifests' paths. Every path
// lands in exactly one list and each list is sorted by path.
type DiffResult struct {
	Unchanged []Entry  `json:"unchanged"`
	Modified  []Change `json:"modified"`
	Added     []Entry  `json:"added"`
	Removed   []Entry  `json:"removed"`
}

// Clean reports whether nothing changed.
func (d *DiffResult) Clean() bool {
	return len(d.Modified) == 0 && len(d.Added) == 0 && len(d.Removed) == 0
}

// Exclude drops paths from every list. It is used for files that exist
// but could not be read, which are neither removed nor unchanged.
func (d *DiffResult) Exclude(paths ...string) {
	if len(paths) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		drop[p] = struct{}{}
	}
	dropped := func(path string) bool {
		_, ok := drop[path]
		return ok
	}
	byEntry := func(e Entry) bool { return dropped(e.Path) }

	d.Unchanged = slices.DeleteFunc(d.Unchanged, byEntry)
	d.Added = slices.DeleteFunc(d.Added, byEntry)
	d.Removed = slices.DeleteFunc(d.Removed, byEntry)
	d.Modified = slices.DeleteFunc(d.Modified, func(c Change) bool { return dropped(c.Path) })
}

// ErrAlgorithmMismatch is returned when diffing manifests written with
// different digest algorithms.
var ErrAlgorithmMismatch = errors.New("manifests use different algorithms")

// Diff compares an older manifest with a fresh one. An entry is modified
// when its size or digest differs.
func Diff(old, fresh *Manifest) (*DiffResult, error) {
	if old.Algorithm != "" && fresh.Algorithm != "" && old.Algorithm != fresh.Algorithm {
		return nil, fmt.Errorf("%w: %s and %s", ErrAlgorithmMismatch, old.Algorithm, fresh.Algorithm)
	}

	a, b := New(old.Algorithm, old.Entries).Entries, New(fresh.Algorithm, fresh.Entries).Entries
	d := &DiffResult{}
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j == len(b) || (i < len(a) && a[i].Path < b[j].Path):
			d.Removed = append(d.Removed, a[i])
			i++
		case i == len(a) || b[j].Path < a[i].Path:
			d.Added = append(d.Added, b[j])
			j++
		default:
			if a[i].Size == b[j].Size && a[i].Digest.Hex() == b[j].Digest.Hex() {
				d.Unchanged = append(d.Unchanged, b[j])
			} else {
				d.Modified = append(d.Modified, Change{Path: a[i].Path, Old: a[i], New: b[j]})
			}
			i++
			j++
		}
	}
	return d, nil
}
