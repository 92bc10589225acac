package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysasiwat/syncstage/pkg/syncstage/apply"
	"github.com/ysasiwat/syncstage/pkg/syncstage/hasher"
	"github.com/ysasiwat/syncstage/pkg/syncstage/ignore"
	"github.com/ysasiwat/syncstage/pkg/syncstage/plan"
	"github.com/ysasiwat/syncstage/pkg/syncstage/scanner"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

var stamp = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// writeTree creates files under a fresh directory, all modified at stamp.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		require.NoError(t, os.Chtimes(p, stamp, stamp))
	}
	return root
}

func scan(t *testing.T, root string) []types.FileRecord {
	t.Helper()
	matcher, err := ignore.New(ignore.Defaults())
	require.NoError(t, err)
	res, err := scanner.New(scanner.Options{Root: root, Ignore: matcher}).Scan(context.Background())
	require.NoError(t, err)
	return res.Files
}

func planFor(t *testing.T, opts Options, src, dst string) *plan.Plan {
	t.Helper()
	p, err := New(opts)
	require.NoError(t, err)
	out, err := p.Plan(context.Background(), dst, scan(t, src), scan(t, dst))
	require.NoError(t, err)
	return out
}

func summary(p *plan.Plan) []string {
	out := make([]string, len(p.Actions))
	for i, a := range p.Actions {
		out[i] = a.String()
	}
	return out
}

func TestNew_ChecksumNeedsHasher(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Checksum: true})
	assert.ErrorIs(t, err, ErrNoHasher)
}

func TestPlan_CopiesAndUpdates(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{
		"new.txt":     "fresh",
		"deep/a.txt":  "alpha",
		"grown.txt":   "longer now",
		"same.txt":    "same",
		"touched.txt": "same",
	})
	dst := writeTree(t, map[string]string{
		"grown.txt":   "short",
		"same.txt":    "same",
		"touched.txt": "same",
		"extra.txt":   "only in target",
	})
	later := stamp.Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(src, "touched.txt"), later, later))

	p := planFor(t, Options{}, src, dst)
	assert.Equal(t, []string{
		"copy " + filepath.Join(src, "deep", "a.txt") + " -> " + filepath.Join(dst, "deep", "a.txt"),
		"update " + filepath.Join(dst, "grown.txt") + " <- " + filepath.Join(src, "grown.txt"),
		"copy " + filepath.Join(src, "new.txt") + " -> " + filepath.Join(dst, "new.txt"),
		"update " + filepath.Join(dst, "touched.txt") + " <- " + filepath.Join(src, "touched.txt"),
	}, summary(p))
}

func TestPlan_OlderSourceIsNotCopied(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "aaaa"})
	dst := writeTree(t, map[string]string{"a.txt": "bbbb"})
	earlier := stamp.Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(src, "a.txt"), earlier, earlier))

	assert.Empty(t, planFor(t, Options{}, src, dst).Actions)
}

func TestPlan_Checksum(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"same.txt": "same", "rot.txt": "good"})
	dst := writeTree(t, map[string]string{"same.txt": "same", "rot.txt": "bad!"})

	assert.Empty(t, planFor(t, Options{}, src, dst).Actions, "size and mtime agree")

	h, err := hasher.New(hasher.Options{Workers: 2})
	require.NoError(t, err)
	p := planFor(t, Options{Checksum: true, Hasher: h}, src, dst)
	require.Len(t, p.Actions, 1)
	assert.Equal(t, plan.Update(filepath.Join(src, "rot.txt"), filepath.Join(dst, "rot.txt"), 4), p.Actions[0])
}

func TestPlan_DeleteExtraneous(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"keep.txt": "k", "photos/a.jpg": "img"})
	dst := writeTree(t, map[string]string{"keep.txt": "k", "old.txt": "gone", "photos": "was a file"})

	p := planFor(t, Options{}, src, dst)
	assert.Equal(t, map[plan.Kind]int{plan.KindCopy: 1}, p.Counts(), "nothing deleted by default")

	p = planFor(t, Options{DeleteExtraneous: true}, src, dst)
	assert.Equal(t, []string{
		"delete " + filepath.Join(dst, "old.txt"),
		"delete " + filepath.Join(dst, "photos"),
		"copy " + filepath.Join(src, "photos", "a.jpg") + " -> " + filepath.Join(dst, "photos", "a.jpg"),
	}, summary(p))
}

func TestPlan_AppliedTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "alpha", "b/c.txt": "charlie"})
	dst := writeTree(t, map[string]string{"a.txt": "old", "stale.txt": "x"})
	opts := Options{DeleteExtraneous: true}

	engine := apply.New(apply.Options{Roots: []string{dst}})
	report, err := engine.Apply(context.Background(), planFor(t, opts, src, dst))
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 3, report.Summary.Done)

	for rel, want := range map[string]string{"a.txt": "alpha", "b/c.txt": "charlie"} {
		got, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(rel)))
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
	assert.NoFileExists(t, filepath.Join(dst, "stale.txt"))

	assert.Empty(t, planFor(t, opts, src, dst).Actions)
	assert.FileExists(t, filepath.Join(src, "a.txt"), "the source is never changed")
}
