package apply

import (
	"path/filepath"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ysasiwat/syncstage/pkg/syncstage/plan"
)

// dependencies returns, for every action, the earlier actions it has to
// wait for: those touching the same path, an ancestor of it, or anything
// below it. Waiting on the latest writer of a path is enough since that
// writer waited on the ones before it.
func dependencies(actions []plan.Action) [][]int {
	last := make(map[string]int)
	under := make(map[string][]int)
	deps := make([][]int, len(actions))

	for i, a := range actions {
		seen := mapset.NewThreadUnsafeSet[int]()
		for _, p := range a.Touches() {
			for _, q := range lineage(p) {
				if j, ok := last[q]; ok {
					seen.Add(j)
				}
			}
			seen.Append(under[p]...)
		}
		deps[i] = seen.ToSlice()
		slices.Sort(deps[i])

		for _, p := range a.Touches() {
			last[p] = i
			for _, anc := range lineage(p)[1:] {
				under[anc] = append(under[anc], i)
			}
		}
	}
	return deps
}

// lineage returns p followed by each of its parent directories.
func lineage(p string) []string {
	out := []string{p}
	for {
		parent := filepath.Dir(p)
		if parent == p {
			return out
		}
		out = append(out, parent)
		p = parent
	}
}
