// Package mirror plans a one-way copy of a source tree into a target tree.
// Files missing from the target are copied, files that differ are
// updated, and with DeleteExtraneous target files the source no longer has
// are deleted. The source is never changed.
package mirror

import (
	"cmp"
	"context"
	"errors"
	"path/filepath"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"

	"github.com/ysasiwat/syncstage/pkg/syncstage/hasher"
	"github.com/ysasiwat/syncstage/pkg/syncstage/logging"
	"github.com/ysasiwat/syncstage/pkg/syncstage/plan"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// ErrNoHasher is returned by New when checksum mode has no hasher.
var ErrNoHasher = errors.New("checksum mode needs a hasher")

// Options configures a Planner.
type Options struct {
	// Checksum compares content digests. Without it a file differs when
	// its size differs or the source was modified in a later second.
	Checksum bool

	// DeleteExtraneous deletes target files with no source counterpart.
	DeleteExtraneous bool

	// Hasher digests both sides in checksum mode.
	Hasher *hasher.Hasher
}

// Planner plans mirror runs.
type Planner struct {
	opts Options
	log  *logging.Logger
}

// New validates opts and returns a Planner.
func New(opts Options) (*Planner, error) {
	if opts.Checksum && opts.Hasher == nil {
		return nil, ErrNoHasher
	}
	return &Planner{opts: opts, log: logging.Get("mirror")}, nil
}

// Plan compares source, scanned under one root, with existing, scanned
// under target, by relative path. Deletes come first so that a file in
// the target can make way for a source directory of the same name. A
// pair that cannot be hashed in checksum mode becomes a skip.
func (p *Planner) Plan(ctx context.Context, target string, source, existing []types.FileRecord) (*plan.Plan, error) {
	source = slices.Clone(source)
	slices.SortFunc(source, func(a, b types.FileRecord) int { return cmp.Compare(a.Path, b.Path) })
	byPath := lo.KeyBy(existing, func(r types.FileRecord) string { return r.Path })

	var deletes, copies, skips []plan.Action
	if p.opts.DeleteExtraneous {
		wanted := mapset.NewThreadUnsafeSet(lo.Map(source, func(r types.FileRecord, _ int) string { return r.Path })...)
		extra := lo.Filter(existing, func(r types.FileRecord, _ int) bool { return !wanted.Contains(r.Path) })
		slices.SortFunc(extra, func(a, b types.FileRecord) int { return cmp.Compare(a.Path, b.Path) })
		for _, r := range extra {
			deletes = append(deletes, plan.Delete(r.Abs(), "", r.Size))
		}
	}

	var pairs [][2]types.FileRecord
	for _, src := range source {
		to := filepath.Join(target, filepath.FromSlash(src.Path))
		dst, ok := byPath[src.Path]
		switch {
		case !ok:
			copies = append(copies, plan.Copy(src.Abs(), to, src.Size))
		case src.Size != dst.Size:
			copies = append(copies, plan.Update(src.Abs(), to, src.Size))
		case p.opts.Checksum:
			pairs = append(pairs, [2]types.FileRecord{src, dst})
		case src.ModTime.Unix() > dst.ModTime.Unix():
			copies = append(copies, plan.Update(src.Abs(), to, src.Size))
		}
	}

	if len(pairs) > 0 {
		changed, skipped, err := p.compare(ctx, pairs)
		if err != nil {
			return nil, err
		}
		for _, src := range changed {
			copies = append(copies, plan.Update(src.Abs(), filepath.Join(target, filepath.FromSlash(src.Path)), src.Size))
		}
		skips = append(skips, skipped...)
		slices.SortFunc(copies, func(a, b plan.Action) int { return cmp.Compare(a.To, b.To) })
	}

	actions := slices.Concat(deletes, copies, skips)
	p.log.Debug("mirror planned",
		"source", len(source),
		"target", len(existing),
		"copies", len(copies),
		"deletes", len(deletes))
	return plan.New("mirror", actions)
}

// compare hashes both sides of every pair and returns the source records
// whose content differs.
func (p *Planner) compare(ctx context.Context, pairs [][2]types.FileRecord) ([]types.FileRecord, []plan.Action, error) {
	records := make([]types.FileRecord, 0, 2*len(pairs))
	for _, pr := range pairs {
		records = append(records, pr[0], pr[1])
	}
	results, err := p.opts.Hasher.HashAll(ctx, records)
	if err != nil {
		return nil, nil, err
	}

	var changed []types.FileRecord
	var skips []plan.Action
	for i := 0; i < len(results); i += 2 {
		src, dst := results[i], results[i+1]
		switch {
		case src.Err != nil:
			skips = append(skips, plan.Skip(src.Record.Abs(), src.Err.Error()))
		case dst.Err != nil:
			skips = append(skips, plan.Skip(src.Record.Abs(), dst.Err.Error()))
		case !src.Digest.Equal(dst.Digest):
			changed = append(changed, src.Record)
		}
	}
	return changed, skips, nil
}
