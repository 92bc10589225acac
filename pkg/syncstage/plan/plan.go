// Package plan turns the results of the analysis stages into ordered lists
// of filesystem actions. Nothing in this package touches the filesystem:
// a Plan is a value that can be previewed, journaled, and handed to the
// apply engine.
package plan

import (
	"fmt"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ysasiwat/syncstage/pkg/syncstage/dedupe"
	serrors "github.com/ysasiwat/syncstage/pkg/syncstage/errors"
	"github.com/ysasiwat/syncstage/pkg/syncstage/rename"
)

// Kind identifies an action variant.
type Kind string

// Action kinds.
const (
	KindDelete   Kind = "delete"
	KindHardlink Kind = "hardlink"
	KindMove     Kind = "move"
	KindCopy     Kind = "copy"
	KindSkip     Kind = "skip"
)

// Action is one planned filesystem change. All paths are absolute.
//
//   - Delete removes Path. Keeper, when set, must still exist at apply
//     time. Dir deletes only remove empty directories.
//   - Hardlink replaces To with a hard link to From.
//   - Move renames From to To without overwriting. Keeper, when set,
//     must still exist at apply time.
//   - Copy writes From to To. Replace allows an existing To to be
//     overwritten; otherwise To must not exist.
//   - Skip records Path and Reason and changes nothing.
type Action struct {
	Kind    Kind   `json:"kind" yaml:"kind"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	From    string `json:"from,omitempty" yaml:"from,omitempty"`
	To      string `json:"to,omitempty" yaml:"to,omitempty"`
	Keeper  string `json:"keeper,omitempty" yaml:"keeper,omitempty"`
	Dir     bool   `json:"dir,omitempty" yaml:"dir,omitempty"`
	Replace bool   `json:"replace,omitempty" yaml:"replace,omitempty"`
	Size    int64  `json:"size,omitempty" yaml:"size,omitempty"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Delete returns an action removing path, a redundant copy of keeper.
func Delete(path, keeper string, size int64) Action {
	return Action{Kind: KindDelete, Path: path, Keeper: keeper, Size: size}
}

// DeleteDir returns an action removing path if it is an empty directory.
func DeleteDir(path string) Action {
	return Action{Kind: KindDelete, Path: path, Dir: true}
}

// Hardlink returns an action replacing to with a link to from.
func Hardlink(from, to string, size int64) Action {
	return Action{Kind: KindHardlink, From: from, To: to, Keeper: from, Size: size}
}

// Move returns an action renaming from to to.
func Move(from, to string, size int64) Action {
	return Action{Kind: KindMove, From: from, To: to, Size: size}
}

// Quarantine returns an action moving from, a redundant copy of keeper,
// to to.
func Quarantine(from, to, keeper string, size int64) Action {
	return Action{Kind: KindMove, From: from, To: to, Keeper: keeper, Size: size}
}

// Copy returns an action copying from to the new file to.
func Copy(from, to string, size int64) Action {
	return Action{Kind: KindCopy, From: from, To: to, Size: size}
}

// Update returns an action overwriting to with a copy of from.
func Update(from, to string, size int64) Action {
	return Action{Kind: KindCopy, From: from, To: to, Size: size, Replace: true}
}

// Skip returns a no-op action explaining why path is left alone.
func Skip(path, reason string) Action {
	return Action{Kind: KindSkip, Path: path, Reason: reason}
}

// Source is the path the action starts from.
func (a Action) Source() string {
	switch a.Kind {
	case KindHardlink, KindMove, KindCopy:
		return a.From
	default:
		return a.Path
	}
}

// Writes returns the paths the action creates, replaces, or removes.
func (a Action) Writes() []string {
	switch a.Kind {
	case KindDelete:
		return []string{a.Path}
	case KindHardlink, KindCopy:
		return []string{a.To}
	case KindMove:
		return []string{a.From, a.To}
	default:
		return nil
	}
}

// Touches returns every path the action reads or writes.
func (a Action) Touches() []string {
	switch a.Kind {
	case KindDelete:
		if a.Keeper != "" {
			return []string{a.Path, a.Keeper}
		}
		return []string{a.Path}
	case KindHardlink, KindCopy:
		return []string{a.From, a.To}
	case KindMove:
		if a.Keeper != "" {
			return []string{a.From, a.To, a.Keeper}
		}
		return []string{a.From, a.To}
	default:
		return nil
	}
}

// Overlaps reports whether a and b touch the same path, or a path inside a
// directory the other touches.
func (a Action) Overlaps(b Action) bool {
	for _, p := range a.Touches() {
		for _, q := range b.Touches() {
			if related(p, q) {
				return true
			}
		}
	}
	return false
}

func related(p, q string) bool {
	if p == q {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(p, strings.TrimSuffix(q, sep)+sep) ||
		strings.HasPrefix(q, strings.TrimSuffix(p, sep)+sep)
}

// String renders the action on one line.
func (a Action) String() string {
	switch a.Kind {
	case KindDelete:
		if a.Dir {
			return fmt.Sprintf("delete empty dir %s", a.Path)
		}
		if a.Keeper != "" {
			return fmt.Sprintf("delete %s (duplicate of %s)", a.Path, a.Keeper)
		}
		return fmt.Sprintf("delete %s", a.Path)
	case KindHardlink:
		return fmt.Sprintf("hardlink %s -> %s", a.To, a.From)
	case KindMove:
		return fmt.Sprintf("move %s -> %s", a.From, a.To)
	case KindCopy:
		if a.Replace {
			return fmt.Sprintf("update %s <- %s", a.To, a.From)
		}
		return fmt.Sprintf("copy %s -> %s", a.From, a.To)
	case KindSkip:
		return fmt.Sprintf("skip %s: %s", a.Path, a.Reason)
	default:
		return fmt.Sprintf("unknown action %q", a.Kind)
	}
}

// Plan is an ordered, conflict-free list of actions for one operation.
type Plan struct {
	Operation string   `json:"operation" yaml:"operation"`
	Actions   []Action `json:"actions" yaml:"actions"`
}

// New builds a plan and rejects it if two actions write the same path.
func New(operation string, actions []Action) (*Plan, error) {
	if err := Validate(actions); err != nil {
		return nil, err
	}
	return &Plan{Operation: operation, Actions: actions}, nil
}

// Validate returns a conflict error for the first path written by more
// than one action.
func Validate(actions []Action) error {
	written := mapset.NewThreadUnsafeSet[string]()
	owners := make(map[string][]string)
	var first string
	for _, a := range actions {
		for _, p := range a.Writes() {
			if written.Contains(p) && first == "" {
				first = p
			}
			written.Add(p)
			owners[p] = append(owners[p], a.Source())
		}
	}
	if first != "" {
		return serrors.Conflict(first, owners[first]...)
	}
	return nil
}

// Counts tallies the actions by kind.
func (p *Plan) Counts() map[Kind]int {
	counts := make(map[Kind]int, 5)
	for _, a := range p.Actions {
		counts[a.Kind]++
	}
	return counts
}

// Changes returns the actions that modify the filesystem.
func (p *Plan) Changes() []Action {
	var out []Action
	for _, a := range p.Actions {
		if a.Kind != KindSkip {
			out = append(out, a)
		}
	}
	return out
}

// Reclaimable is the number of bytes the plan frees by deleting or linking
// duplicates.
func (p *Plan) Reclaimable() int64 {
	var n int64
	for _, a := range p.Actions {
		if a.Kind == KindHardlink || (a.Kind == KindDelete && a.Keeper != "") {
			n += a.Size
		}
	}
	return n
}

// Empty reports whether the plan changes nothing.
func (p *Plan) Empty() bool {
	return len(p.Changes()) == 0
}

// DedupeMode selects what happens to the redundant members of a group.
type DedupeMode string

// Dedupe modes.
const (
	ModeReport   DedupeMode = "report"
	ModeDelete   DedupeMode = "delete"
	ModeHardlink DedupeMode = "hardlink"
	ModeMove     DedupeMode = "move"
)

// ParseDedupeMode accepts the mode names, plus "none" for report.
func ParseDedupeMode(s string) (DedupeMode, error) {
	switch DedupeMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeReport, "none", "":
		return ModeReport, nil
	case ModeDelete:
		return ModeDelete, nil
	case ModeHardlink:
		return ModeHardlink, nil
	case ModeMove:
		return ModeMove, nil
	default:
		return "", fmt.Errorf("unknown dedupe mode %q", s)
	}
}

// FromGroups plans the handling of every redundant copy in groups.
// Quarantine is the move destination: a relative quarantine lives under
// each record's root, an absolute one is shared by all roots. Either way
// the record's relative path is preserved below it.
func FromGroups(groups []dedupe.Group, mode DedupeMode, quarantine string) (*Plan, error) {
	if mode == ModeMove && quarantine == "" {
		return nil, fmt.Errorf("move mode needs a quarantine directory")
	}

	var actions []Action
	for _, g := range groups {
		keeper := g.Keeper.Abs()
		for _, r := range g.Redundant {
			path := r.Abs()
			switch mode {
			case ModeDelete:
				actions = append(actions, Delete(path, keeper, r.Size))
			case ModeHardlink:
				actions = append(actions, Hardlink(keeper, path, r.Size))
			case ModeMove:
				base := quarantine
				if !filepath.IsAbs(base) {
					base = filepath.Join(r.Root, base)
				}
				actions = append(actions, Quarantine(path, filepath.Join(base, filepath.FromSlash(r.Path)), keeper, r.Size))
			default:
				actions = append(actions, Skip(path, "duplicate of "+keeper))
			}
		}
	}
	return New("dedupe", actions)
}

// FromRenames plans one move per rename and one skip per skipped record.
func FromRenames(rp *rename.Plan) (*Plan, error) {
	actions := make([]Action, 0, len(rp.Renames)+len(rp.Skipped))
	for _, r := range rp.Renames {
		actions = append(actions, Move(r.From, r.To, r.Record.Size))
	}
	for _, s := range rp.Skipped {
		actions = append(actions, Skip(s.Path, s.Reason))
	}
	return New("rename", actions)
}
