package rename

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/ysasiwat/syncstage/pkg/syncstage/errors"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

var created = time.Date(2024, 5, 17, 8, 0, 0, 0, time.UTC)

// makeTree creates the files under a fresh root and returns records for
// them, all created at the same instant.
func makeTree(t *testing.T, rels ...string) (string, []types.FileRecord) {
	t.Helper()
	root := t.TempDir()
	recs := make([]types.FileRecord, 0, len(rels))
	for _, rel := range rels {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(rel), 0o644))
		recs = append(recs, types.FileRecord{
			Root: root, Path: rel, Size: int64(len(rel)),
			CreateTime: created, ModTime: created,
		})
	}
	return root, recs
}

func newPlanner(t *testing.T, opts Options) *Planner {
	t.Helper()
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func targets(plan *Plan) []string {
	out := make([]string, len(plan.Renames))
	for i, r := range plan.Renames {
		out[i] = filepath.Base(r.To)
	}
	return out
}

func TestNew_RejectsBadTemplateBeforePlanning(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Template: "{created:%Y} {title}{ext}"})
	assert.ErrorIs(t, err, serrors.ErrTemplate)

	_, err = New(Options{Template: "{stem}", NormalizeOpts: NormalizeOptions{Case: "loud"}})
	assert.ErrorIs(t, err, ErrInvalidMode)

	_, err = New(Options{Template: "{stem}", SanitizeMode: "shred"})
	assert.ErrorIs(t, err, ErrInvalidMode)

	_, err = New(Options{Template: "{stem}", SkipIfAlready: true, IdempotentPrefix: "(["})
	assert.Error(t, err)
}

func TestPlan_DatePrefix(t *testing.T) {
	t.Parallel()

	root, recs := makeTree(t, "IMG_0001.JPG", "sub/notes.txt")
	p := newPlanner(t, Options{Template: "{created:%Y-%m-%d} {stem}{ext}", ExtCase: CaseLower})

	plan, err := p.Plan(recs)
	require.NoError(t, err)
	require.Len(t, plan.Renames, 2)

	assert.Equal(t, filepath.Join(root, "IMG_0001.JPG"), plan.Renames[0].From)
	assert.Equal(t, filepath.Join(root, "2024-05-17 IMG_0001.jpg"), plan.Renames[0].To)
	assert.Equal(t, filepath.Join(root, "sub", "2024-05-17 notes.txt"), plan.Renames[1].To)
	assert.Zero(t, plan.Renames[0].Counter)
}

func TestPlan_CollisionWithoutCounterFails(t *testing.T) {
	t.Parallel()

	root, recs := makeTree(t, "trip/x.txt", "trip/y.txt")
	p := newPlanner(t, Options{Template: "{parent}{ext}"})

	_, err := p.Plan(recs)
	require.ErrorIs(t, err, serrors.ErrRenameCollision)

	var se *serrors.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, filepath.Join(root, "trip", "trip.txt"), se.Path)
	assert.Equal(t, []string{filepath.Join(root, "trip", "x.txt"), filepath.Join(root, "trip", "y.txt")}, se.Paths)
}

func TestPlan_CollisionWithFileOnDisk(t *testing.T) {
	t.Parallel()

	_, recs := makeTree(t, "a b.txt", "a_b.txt")
	p := newPlanner(t, Options{Template: "{stem}{ext}", Normalize: true})

	_, err := p.Plan(recs)
	assert.ErrorIs(t, err, serrors.ErrRenameCollision)
}

func TestPlan_CounterResolvesCollisions(t *testing.T) {
	t.Parallel()

	_, recs := makeTree(t, "trip/a.jpg", "trip/b.jpg", "trip/c.jpg", "trip/trip 02.jpg")
	p := newPlanner(t, Options{Template: "{parent} {counter}{ext}", Pad: 2})

	plan, err := p.Plan(recs)
	require.NoError(t, err)

	// "trip 02.jpg" exists on disk, so b moves on to 03. The existing
	// file reaches its own name and is left alone.
	assert.Equal(t, []string{"trip 01.jpg", "trip 03.jpg", "trip 04.jpg"}, targets(plan))
	assert.Equal(t, 1, plan.Renames[0].Counter)
	assert.Equal(t, 3, plan.Renames[1].Counter)
	require.Len(t, plan.Skipped, 1)
	assert.Equal(t, "name unchanged", plan.Skipped[0].Reason)
}

func TestPlan_AppendCounter(t *testing.T) {
	t.Parallel()

	_, recs := makeTree(t, "trip/a.png", "trip/b.png", "trip/c.png")
	p := newPlanner(t, Options{Template: "{parent}{ext}", AppendCounter: true, Pad: 2})

	plan, err := p.Plan(recs)
	require.NoError(t, err)
	assert.Equal(t, []string{"trip.png", "trip 02.png", "trip 03.png"}, targets(plan))
}

func TestPlan_SkipIfAlready(t *testing.T) {
	t.Parallel()

	_, recs := makeTree(t, "2024-05-17 done.txt", "20240101_old.txt", "fresh.txt")
	p := newPlanner(t, Options{
		Template:         "{created:%Y-%m-%d} {stem}{ext}",
		SkipIfAlready:    true,
		IdempotentPrefix: `^(?:\d{8}|\d{4}-\d{2}-\d{2})[ _-]`,
	})

	plan, err := p.Plan(recs)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-17 fresh.txt"}, targets(plan))
	require.Len(t, plan.Skipped, 2)
	for _, s := range plan.Skipped {
		assert.Equal(t, "already has prefix", s.Reason)
	}
}

func TestPlan_UnchangedNameIsSkipped(t *testing.T) {
	t.Parallel()

	_, recs := makeTree(t, "same.txt")
	plan, err := newPlanner(t, Options{Template: "{stem}{ext}"}).Plan(recs)
	require.NoError(t, err)
	assert.Empty(t, plan.Renames)
	require.Len(t, plan.Skipped, 1)
	assert.Equal(t, "name unchanged", plan.Skipped[0].Reason)
}

func TestPlan_EmptyNameIsSkipped(t *testing.T) {
	t.Parallel()

	_, recs := makeTree(t, "???")
	p := newPlanner(t, Options{Template: "{stem}", Sanitize: true})
	plan, err := p.Plan(recs)
	require.NoError(t, err)
	assert.Empty(t, plan.Renames)
	require.Len(t, plan.Skipped, 1)
	assert.Contains(t, plan.Skipped[0].Reason, "empty")
}

func TestPlan_TemplateWithoutExtKeepsExtension(t *testing.T) {
	t.Parallel()

	_, recs := makeTree(t, "clip.MOV")
	p := newPlanner(t, Options{Template: "{modified:%Y%m%d}", ExtCase: CaseLower})
	plan, err := p.Plan(recs)
	require.NoError(t, err)
	assert.Equal(t, []string{"20240517.mov"}, targets(plan))
}

func TestPlan_DeterministicAndUnique(t *testing.T) {
	t.Parallel()

	rels := []string{"d/x.txt", "d/y.txt", "d/z.txt", "e/x.txt", "e/q.md", "a.txt"}
	_, recs := makeTree(t, rels...)
	p := newPlanner(t, Options{Template: "{created:%Y} {counter}{ext}"})

	first, err := p.Plan(recs)
	require.NoError(t, err)

	shuffled := slices.Clone(recs)
	slices.Reverse(shuffled)
	second, err := p.Plan(shuffled)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	seen := map[string]string{}
	for _, r := range first.Renames {
		if prev, ok := seen[r.To]; ok {
			t.Fatalf("%s and %s both map to %s", prev, r.From, r.To)
		}
		seen[r.To] = r.From
	}
	assert.Len(t, seen, len(rels))
}

func TestCSV_RoundTrip(t *testing.T) {
	t.Parallel()

	_, recs := makeTree(t, "a.txt", "b.txt")
	plan, err := newPlanner(t, Options{Template: "{created:%Y} {stem}{ext}"}).Plan(recs)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, plan))
	assert.True(t, strings.HasPrefix(buf.String(), "old_path,new_name\n"))

	back, err := ReadCSV(&buf, 2)
	require.NoError(t, err)
	require.Len(t, back.Renames, 2)
	for i := range plan.Renames {
		assert.Equal(t, plan.Renames[i].From, back.Renames[i].From)
		assert.Equal(t, plan.Renames[i].To, back.Renames[i].To)
	}
}

func TestReadCSV(t *testing.T) {
	t.Parallel()

	root, _ := makeTree(t, "one.txt", "two.txt", "taken.txt")
	csvText := "old_path,new_name\n" +
		filepath.Join(root, "one.txt") + ",taken.txt\n" +
		filepath.Join(root, "two.txt") + ",taken.txt\n" +
		filepath.Join(root, "missing.txt") + ",whatever.txt\n" +
		filepath.Join(root, "taken.txt") + ",taken.txt\n"

	plan, err := ReadCSV(strings.NewReader(csvText), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"taken 02.txt", "taken 03.txt"}, targets(plan))

	reasons := map[string]string{}
	for _, s := range plan.Skipped {
		reasons[filepath.Base(s.Path)] = s.Reason
	}
	assert.Equal(t, map[string]string{"missing.txt": "missing", "taken.txt": "name unchanged"}, reasons)
}

func TestReadCSV_OnlyRegularFiles(t *testing.T) {
	t.Parallel()

	root, _ := makeTree(t, "file.txt", "album/inside.txt")
	link := filepath.Join(root, "link.txt")
	require.NoError(t, os.Symlink(filepath.Join(root, "file.txt"), link))

	csvText := "old_path,new_name\n" +
		filepath.Join(root, "album") + ",photos\n" +
		link + ",renamed-link.txt\n" +
		filepath.Join(root, "file.txt") + ",renamed.txt\n"

	plan, err := ReadCSV(strings.NewReader(csvText), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"renamed.txt"}, targets(plan))

	reasons := map[string]string{}
	for _, s := range plan.Skipped {
		reasons[filepath.Base(s.Path)] = s.Reason
	}
	assert.Equal(t, map[string]string{"album": "not a regular file", "link.txt": "not a regular file"}, reasons)
}

func TestReadCSV_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"bad header":  "from,to\n/a,b\n",
		"empty":       "",
		"relative":    "old_path,new_name\nrel/a.txt,b.txt\n",
		"nested name": "old_path,new_name\n/abs/a.txt,sub/b.txt\n",
		"dot name":    "old_path,new_name\n/abs/a.txt,..\n",
		"short row":   "old_path,new_name\n/abs/a.txt\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ReadCSV(strings.NewReader(body), 2)
			assert.ErrorIs(t, err, ErrPlanCSV)
		})
	}
}
