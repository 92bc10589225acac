// Package dedupe finds files with identical content. Records are bucketed
// by size first; only buckets with two or more members are hashed, and
// each bucket is then split by digest.
package dedupe

import (
	"cmp"
	"context"
	"path/filepath"
	"slices"

	"github.com/samber/lo"

	"github.com/ysasiwat/syncstage/pkg/syncstage/hasher"
	"github.com/ysasiwat/syncstage/pkg/syncstage/logging"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// Group is a set of two or more files with the same size and digest.
type Group struct {
	Digest    types.Digest       `json:"digest"`
	Size      int64              `json:"size"`
	Keeper    types.FileRecord   `json:"keeper"`
	Redundant []types.FileRecord `json:"redundant"`
}

// Members returns the keeper followed by the redundant copies.
func (g Group) Members() []types.FileRecord {
	return append([]types.FileRecord{g.Keeper}, g.Redundant...)
}

// Wasted is the number of bytes the redundant copies occupy.
func (g Group) Wasted() int64 {
	return g.Size * int64(len(g.Redundant))
}

// Stats summarizes one grouping pass.
type Stats struct {
	Files      int   `json:"files"`
	Candidates int   `json:"candidates"`
	Groups     int   `json:"groups"`
	Redundant  int   `json:"redundant"`
	Wasted     int64 `json:"wasted"`
}

// Result holds the duplicate groups and the files that could not be hashed.
type Result struct {
	Groups  []Group         `json:"groups"`
	Skipped []types.Skipped `json:"skipped,omitempty"`
	Stats   Stats           `json:"stats"`
}

// Options configures a Grouper.
type Options struct {
	// SkipEmpty leaves zero-byte files out of every group.
	SkipEmpty bool
}

// Grouper groups duplicate records.
type Grouper struct {
	hasher *hasher.Hasher
	opts   Options
	log    *logging.Logger
}

// New returns a Grouper that hashes with h.
func New(h *hasher.Hasher, opts Options) *Grouper {
	return &Grouper{hasher: h, opts: opts, log: logging.Get("dedupe")}
}

// KeeperOrder orders the members of a group so that the keeper sorts
// first: earliest creation time, then shortest path, then path, then root.
func KeeperOrder(a, b types.FileRecord) int {
	if c := a.CreateTime.Compare(b.CreateTime); c != 0 {
		return c
	}
	if c := cmp.Compare(len(a.Path), len(b.Path)); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Path, b.Path); c != 0 {
		return c
	}
	return cmp.Compare(a.Root, b.Root)
}

// Candidates returns the records that share their size with at least one
// other record, in size then keeper order. These are the only records
// Group will hash. Records naming the same file on disk, through nested
// roots or symlinked directories, are kept once.
func (g *Grouper) Candidates(records []types.FileRecord) []types.FileRecord {
	if g.opts.SkipEmpty {
		records = lo.Filter(records, func(r types.FileRecord, _ int) bool { return r.Size > 0 })
	}

	bySize := lo.GroupBy(records, func(r types.FileRecord) int64 { return r.Size })
	sizes := lo.Keys(bySize)
	slices.Sort(sizes)

	var out []types.FileRecord
	for _, size := range sizes {
		bucket := bySize[size]
		if len(bucket) < 2 {
			continue
		}
		slices.SortFunc(bucket, KeeperOrder)
		bucket = lo.UniqBy(bucket, realPath)
		if len(bucket) < 2 {
			continue
		}
		out = append(out, bucket...)
	}
	return out
}

// realPath is the record's absolute path with symlinks resolved, or the
// plain absolute path when it cannot be resolved.
func realPath(r types.FileRecord) string {
	p, err := filepath.EvalSymlinks(r.Abs())
	if err != nil {
		return r.Abs()
	}
	return p
}

// Group finds every duplicate group in records. Records may come from
// several roots. A file that fails to hash is reported in Result.Skipped
// and left out of grouping; only cancellation returns an error.
func (g *Grouper) Group(ctx context.Context, records []types.FileRecord) (*Result, error) {
	candidates := g.Candidates(records)
	result := &Result{Stats: Stats{Files: len(records), Candidates: len(candidates)}}

	hashed, err := g.hasher.HashAll(ctx, candidates)
	if err != nil {
		return nil, err
	}

	type key struct {
		size int64
		hex  string
	}
	buckets := make(map[key][]types.FileRecord)
	digests := make(map[key]types.Digest)
	for _, r := range hashed {
		if r.Err != nil {
			result.Skipped = append(result.Skipped, types.Skipped{Path: r.Record.Abs(), Reason: r.Err.Error()})
			continue
		}
		k := key{size: r.Record.Size, hex: r.Digest.Hex()}
		buckets[k] = append(buckets[k], r.Record)
		digests[k] = r.Digest
	}

	for k, members := range buckets {
		if len(members) < 2 {
			continue
		}
		slices.SortFunc(members, KeeperOrder)
		grp := Group{
			Digest:    digests[k],
			Size:      k.size,
			Keeper:    members[0],
			Redundant: members[1:],
		}
		result.Groups = append(result.Groups, grp)
		result.Stats.Redundant += len(grp.Redundant)
		result.Stats.Wasted += grp.Wasted()
	}
	result.Stats.Groups = len(result.Groups)

	// Largest first; equal sizes by digest.
	slices.SortFunc(result.Groups, func(a, b Group) int {
		if c := cmp.Compare(b.Size, a.Size); c != 0 {
			return c
		}
		return cmp.Compare(a.Digest.Hex(), b.Digest.Hex())
	})
	slices.SortFunc(result.Skipped, func(a, b types.Skipped) int { return cmp.Compare(a.Path, b.Path) })

	g.log.Info("grouping complete",
		"files", result.Stats.Files,
		"candidates", result.Stats.Candidates,
		"groups", result.Stats.Groups,
		"wasted", result.Stats.Wasted)
	return result, nil
}

// Confirm hashes every member of prev's groups again and regroups them by
// the new digests. With a hasher that bypasses the cache, a file whose
// content changed while its size and modification time did not is split
// from its former twins. File and candidate counts carry over from prev.
func (g *Grouper) Confirm(ctx context.Context, prev *Result) (*Result, error) {
	var members []types.FileRecord
	for _, grp := range prev.Groups {
		members = append(members, grp.Members()...)
	}

	res, err := g.Group(ctx, members)
	if err != nil {
		return nil, err
	}
	res.Stats.Files = prev.Stats.Files
	res.Stats.Candidates = prev.Stats.Candidates
	res.Skipped = append(slices.Clone(prev.Skipped), res.Skipped...)
	slices.SortFunc(res.Skipped, func(a, b types.Skipped) int { return cmp.Compare(a.Path, b.Path) })
	return res, nil
}
