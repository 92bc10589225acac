package manifest

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/ysasiwat/syncstage/pkg/syncstage/errors"
	"github.com/ysasiwat/syncstage/pkg/syncstage/hasher"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

func digestOf(b byte) types.Digest {
	return types.Digest{Algorithm: types.SHA256, Sum: bytes.Repeat([]byte{b}, 32)}
}

func entry(path string, size int64, b byte) Entry {
	return Entry{Path: path, Size: size, Digest: digestOf(b)}
}

func TestWriteParse_RoundTrip(t *testing.T) {
	t.Parallel()

	m := New(types.SHA256, []Entry{
		entry("z last.txt", 3, 0x03),
		entry("a/b/c.bin", 0, 0x01),
		entry("dir with  double  spaces/x", 42, 0x02),
		entry("ünïcödé/日本.txt", 7, 0xff),
	})

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, strings.Repeat("01", 32)+"  0  a/b/c.bin", lines[0])

	got, err := Parse(bytes.NewReader(buf.Bytes()), "m.txt", types.SHA256)
	require.NoError(t, err)
	assert.Equal(t, m.Entries, got.Entries)

	var again bytes.Buffer
	require.NoError(t, Write(&again, got))
	assert.Equal(t, buf.String(), again.String(), "write(parse(write(m))) is byte-identical")
}

func TestWrite_SortsUnsortedEntries(t *testing.T) {
	t.Parallel()

	m := &Manifest{Algorithm: types.SHA256, Entries: []Entry{entry("b", 1, 1), entry("a", 1, 1)}}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m))
	assert.True(t, strings.HasSuffix(strings.Split(buf.String(), "\n")[0], "  a"))
}

func TestWrite_RejectsNewlineInPath(t *testing.T) {
	t.Parallel()

	m := New(types.SHA256, []Entry{entry("bad\nname", 1, 1)})
	err := Write(&bytes.Buffer{}, m)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	m, err := Parse(strings.NewReader(""), "empty", types.SHA256)
	require.NoError(t, err)
	assert.Empty(t, m.Entries)
}

func TestParse_NoTrailingNewline(t *testing.T) {
	t.Parallel()

	line := strings.Repeat("ab", 32) + "  5  file.txt"
	m, err := Parse(strings.NewReader(line), "m", types.SHA256)
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, "file.txt", m.Entries[0].Path)
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	good := strings.Repeat("ab", 32) + "  5  ok.txt\n"
	tests := []struct {
		name     string
		body     string
		algo     types.Algorithm
		wantLine int
	}{
		{"bad hex", good + strings.Repeat("zz", 32) + "  5  x\n", types.SHA256, 2},
		{"bad size", good + strings.Repeat("ab", 32) + "  five  x\n", types.SHA256, 2},
		{"negative size", strings.Repeat("ab", 32) + "  -1  x\n", types.SHA256, 1},
		{"missing path", good + strings.Repeat("ab", 32) + "  5\n", types.SHA256, 2},
		{"single space", strings.Repeat("ab", 32) + " 5 x\n", types.SHA256, 1},
		{"empty path", strings.Repeat("ab", 32) + "  5  \n", types.SHA256, 1},
		{"blank line", good + "\n", types.SHA256, 2},
		{"duplicate path", good + good, types.SHA256, 2},
		{"wrong digest length", "abcd  5  x\n", types.SHA256, 1},
		{"inconsistent digest length", "abcd  5  x\n" + "abcdef  5  y\n", "", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(strings.NewReader(tt.body), "MANIFEST.txt", tt.algo)
			require.Error(t, err)
			assert.ErrorIs(t, err, serrors.ErrManifestFormat)

			var se *serrors.Error
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.wantLine, se.Line)
			assert.Equal(t, "MANIFEST.txt", se.Path)
		})
	}
}

func TestFromResults(t *testing.T) {
	t.Parallel()

	results := []hasher.Result{
		{Record: types.FileRecord{Path: "b", Size: 1}, Digest: digestOf(2)},
		{Record: types.FileRecord{Path: "a", Size: 2}, Digest: digestOf(1)},
		{Record: types.FileRecord{Path: "gone", Size: 3}, Err: errors.New("vanished")},
	}
	m, skipped := FromResults(types.SHA256, results)

	require.Len(t, m.Entries, 2)
	assert.Equal(t, "a", m.Entries[0].Path)
	require.Len(t, skipped, 1)
	assert.Equal(t, "gone", skipped[0].Path)

	e, ok := m.Lookup("b")
	assert.True(t, ok)
	assert.Equal(t, int64(1), e.Size)
	_, ok = m.Lookup("nope")
	assert.False(t, ok)
}

func TestDiff(t *testing.T) {
	t.Parallel()

	old := New(types.SHA256, []Entry{
		entry("same", 1, 1),
		entry("content", 1, 1),
		entry("grown", 1, 1),
		entry("removed", 1, 1),
	})
	fresh := New(types.SHA256, []Entry{
		entry("same", 1, 1),
		entry("content", 1, 2),
		entry("grown", 2, 1),
		entry("added", 1, 1),
	})

	d, err := Diff(old, fresh)
	require.NoError(t, err)

	assert.Equal(t, []Entry{entry("same", 1, 1)}, d.Unchanged)
	require.Len(t, d.Modified, 2)
	assert.Equal(t, "content", d.Modified[0].Path)
	assert.Equal(t, "grown", d.Modified[1].Path)
	assert.Equal(t, []Entry{entry("added", 1, 1)}, d.Added)
	assert.Equal(t, []Entry{entry("removed", 1, 1)}, d.Removed)
	assert.False(t, d.Clean())

	// Every path of old ∪ fresh appears in exactly one list.
	seen := map[string]int{}
	for _, e := range d.Unchanged {
		seen[e.Path]++
	}
	for _, c := range d.Modified {
		seen[c.Path]++
	}
	for _, e := range d.Added {
		seen[e.Path]++
	}
	for _, e := range d.Removed {
		seen[e.Path]++
	}
	assert.Len(t, seen, 5)
	for p, n := range seen {
		assert.Equal(t, 1, n, p)
	}
}

func TestDiff_Identical(t *testing.T) {
	t.Parallel()

	m := New(types.SHA256, []Entry{entry("a", 1, 1), entry("b", 2, 2)})
	d, err := Diff(m, m)
	require.NoError(t, err)
	assert.True(t, d.Clean())
	assert.Len(t, d.Unchanged, 2)
}

func TestDiff_AlgorithmMismatch(t *testing.T) {
	t.Parallel()

	_, err := Diff(&Manifest{Algorithm: types.SHA256}, &Manifest{Algorithm: types.BLAKE2b256})
	assert.ErrorIs(t, err, ErrAlgorithmMismatch)
}

func TestDiff_ExcludeUnreadable(t *testing.T) {
	t.Parallel()

	old := New(types.SHA256, []Entry{entry("locked", 1, 1), entry("same", 1, 1)})
	fresh := New(types.SHA256, []Entry{entry("same", 1, 1)})

	d, err := Diff(old, fresh)
	require.NoError(t, err)
	require.Len(t, d.Removed, 1)

	d.Exclude("locked")
	assert.Empty(t, d.Removed)
	assert.Equal(t, []Entry{entry("same", 1, 1)}, d.Unchanged)
	assert.True(t, d.Clean())
}
