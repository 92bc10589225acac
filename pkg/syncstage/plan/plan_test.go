package plan

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysasiwat/syncstage/pkg/syncstage/dedupe"
	serrors "github.com/ysasiwat/syncstage/pkg/syncstage/errors"
	"github.com/ysasiwat/syncstage/pkg/syncstage/rename"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

const root = "/data/photos"

func record(rel string, size int64) types.FileRecord {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return types.FileRecord{Root: root, Path: rel, Size: size, CreateTime: t, ModTime: t}
}

func group() dedupe.Group {
	return dedupe.Group{
		Size:      10,
		Keeper:    record("a.jpg", 10),
		Redundant: []types.FileRecord{record("copy/a.jpg", 10), record("b.jpg", 10)},
	}
}

func TestFromGroups(t *testing.T) {
	t.Parallel()

	keeper := filepath.Join(root, "a.jpg")
	copyA := filepath.Join(root, "copy", "a.jpg")
	b := filepath.Join(root, "b.jpg")

	tests := []struct {
		name       string
		mode       DedupeMode
		quarantine string
		want       []Action
	}{
		{
			name: "report",
			mode: ModeReport,
			want: []Action{Skip(copyA, "duplicate of "+keeper), Skip(b, "duplicate of "+keeper)},
		},
		{
			name: "delete",
			mode: ModeDelete,
			want: []Action{Delete(copyA, keeper, 10), Delete(b, keeper, 10)},
		},
		{
			name: "hardlink",
			mode: ModeHardlink,
			want: []Action{Hardlink(keeper, copyA, 10), Hardlink(keeper, b, 10)},
		},
		{
			name:       "move relative quarantine",
			mode:       ModeMove,
			quarantine: ".syncstage-dupes",
			want: []Action{
				Quarantine(copyA, filepath.Join(root, ".syncstage-dupes", "copy", "a.jpg"), keeper, 10),
				Quarantine(b, filepath.Join(root, ".syncstage-dupes", "b.jpg"), keeper, 10),
			},
		},
		{
			name:       "move absolute quarantine",
			mode:       ModeMove,
			quarantine: "/quarantine",
			want: []Action{
				Quarantine(copyA, filepath.Join("/quarantine", "copy", "a.jpg"), keeper, 10),
				Quarantine(b, filepath.Join("/quarantine", "b.jpg"), keeper, 10),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := FromGroups([]dedupe.Group{group()}, tt.mode, tt.quarantine)
			require.NoError(t, err)
			assert.Equal(t, "dedupe", p.Operation)
			assert.Equal(t, tt.want, p.Actions)
		})
	}
}

func TestFromGroups_MoveNeedsQuarantine(t *testing.T) {
	t.Parallel()

	_, err := FromGroups([]dedupe.Group{group()}, ModeMove, "")
	assert.Error(t, err)
}

func TestFromGroups_NeverTouchesKeeper(t *testing.T) {
	t.Parallel()

	p, err := FromGroups([]dedupe.Group{group()}, ModeDelete, "")
	require.NoError(t, err)
	for _, a := range p.Actions {
		assert.NotContains(t, a.Writes(), filepath.Join(root, "a.jpg"))
	}
	assert.Equal(t, int64(20), p.Reclaimable())
}

func TestFromRenames(t *testing.T) {
	t.Parallel()

	rp := &rename.Plan{
		Renames: []rename.Rename{{Record: record("x.jpg", 3), From: "/r/x.jpg", To: "/r/2024 x.jpg"}},
		Skipped: []types.Skipped{{Path: "/r/y.jpg", Reason: "already named"}},
	}
	p, err := FromRenames(rp)
	require.NoError(t, err)
	assert.Equal(t, []Action{
		Move("/r/x.jpg", "/r/2024 x.jpg", 3),
		Skip("/r/y.jpg", "already named"),
	}, p.Actions)
	assert.Equal(t, map[Kind]int{KindMove: 1, KindSkip: 1}, p.Counts())
	assert.Len(t, p.Changes(), 1)
	assert.False(t, p.Empty())
}

func TestValidate_Conflicts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		actions []Action
		dest    string
	}{
		{
			name:    "two moves to one destination",
			actions: []Action{Move("/r/a", "/r/c", 1), Move("/r/b", "/r/c", 1)},
			dest:    "/r/c",
		},
		{
			name:    "delete of a move source",
			actions: []Action{Move("/r/a", "/r/c", 1), Delete("/r/a", "", 1)},
			dest:    "/r/a",
		},
		{
			name:    "link over a move destination",
			actions: []Action{Move("/r/a", "/r/c", 1), Hardlink("/r/k", "/r/c", 1)},
			dest:    "/r/c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New("test", tt.actions)
			require.ErrorIs(t, err, serrors.ErrConflict)

			var e *serrors.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.dest, e.Path)
			assert.Len(t, e.Paths, 2)
		})
	}
}

func TestValidate_SharedKeeperIsFine(t *testing.T) {
	t.Parallel()

	actions := []Action{
		Hardlink("/r/k", "/r/a", 1),
		Hardlink("/r/k", "/r/b", 1),
		Skip("/r/c", "x"),
		Skip("/r/c", "y"),
	}
	assert.NoError(t, Validate(actions))
}

func TestOverlaps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b Action
		want bool
	}{
		{"same keeper", Hardlink("/r/k", "/r/a", 1), Hardlink("/r/k", "/r/b", 1), true},
		{"disjoint", Delete("/r/a", "", 1), Delete("/r/b", "", 1), false},
		{"file inside dir", Delete("/r/d/x", "", 1), DeleteDir("/r/d"), true},
		{"prefix is not parent", Delete("/r/dx", "", 1), DeleteDir("/r/d"), false},
		{"skip touches nothing", Skip("/r/a", "x"), Delete("/r/a", "", 1), false},
		{"move into dir", Move("/r/a", "/r/q/a", 1), DeleteDir("/r/q"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a))
		})
	}
}

func TestParseDedupeMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]DedupeMode{
		"":         ModeReport,
		"none":     ModeReport,
		"report":   ModeReport,
		"Delete":   ModeDelete,
		"hardlink": ModeHardlink,
		"move":     ModeMove,
	} {
		got, err := ParseDedupeMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDedupeMode("shred")
	assert.Error(t, err)
}

func TestActionString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "delete /r/a (duplicate of /r/k)", Delete("/r/a", "/r/k", 1).String())
	assert.Equal(t, "delete empty dir /r/d", DeleteDir("/r/d").String())
	assert.Equal(t, "hardlink /r/a -> /r/k", Hardlink("/r/k", "/r/a", 1).String())
	assert.Equal(t, "move /r/a -> /r/b", Move("/r/a", "/r/b", 1).String())
	assert.Equal(t, "copy /s/a -> /t/a", Copy("/s/a", "/t/a", 1).String())
	assert.Equal(t, "update /t/a <- /s/a", Update("/s/a", "/t/a", 1).String())
	assert.Equal(t, "skip /r/a: why", Skip("/r/a", "why").String())
}

func TestCopyWritesOnlyTarget(t *testing.T) {
	t.Parallel()

	c := Update("/s/a", "/t/a", 3)
	assert.Equal(t, "/s/a", c.Source())
	assert.Equal(t, []string{"/t/a"}, c.Writes())
	assert.Equal(t, []string{"/s/a", "/t/a"}, c.Touches())

	p, err := New("mirror", []Action{Delete("/t/old", "", 1), c, Copy("/s/b", "/t/b", 2)})
	require.NoError(t, err)
	assert.Equal(t, "mirror: 1 delete, 2 copy", p.Summary())
	assert.Zero(t, p.Reclaimable())

	_, err = New("mirror", []Action{Copy("/s/a", "/t/a", 1), Update("/s/b", "/t/a", 1)})
	assert.Error(t, err, "two copies into one target conflict")
}

func TestQuarantineTouchesKeeper(t *testing.T) {
	t.Parallel()

	q := Quarantine("/r/b", "/r/.q/b", "/r/a", 1)
	assert.Equal(t, []string{"/r/b", "/r/.q/b"}, q.Writes())
	assert.Equal(t, []string{"/r/b", "/r/.q/b", "/r/a"}, q.Touches())
}

func TestPreview(t *testing.T) {
	t.Parallel()

	p, err := FromGroups([]dedupe.Group{group()}, ModeDelete, "")
	require.NoError(t, err)

	var buf strings.Builder
	require.NoError(t, p.Preview(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, p.Actions[0].String(), lines[0])
	assert.Equal(t, "dedupe: 2 delete (reclaims 20 B)", lines[2])

	empty := &Plan{Operation: "clean"}
	assert.Equal(t, "clean: nothing to do", empty.Summary())
}
