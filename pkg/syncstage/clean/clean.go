// Package clean plans the removal of junk files and the directories left
// empty once they are gone.
package clean

import (
	"cmp"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	serrors "github.com/ysasiwat/syncstage/pkg/syncstage/errors"
	"github.com/ysasiwat/syncstage/pkg/syncstage/ignore"
	"github.com/ysasiwat/syncstage/pkg/syncstage/logging"
	"github.com/ysasiwat/syncstage/pkg/syncstage/plan"
)

// Options configures a clean pass over one root.
type Options struct {
	// Junk selects the files to delete.
	Junk *ignore.Matcher

	// Protect selects paths clean must leave alone. Protected directories
	// are not entered and keep their parents from being pruned.
	Protect *ignore.Matcher

	// PruneEmpty also removes directories that hold nothing but junk.
	PruneEmpty bool

	Workers int
}

// Plan walks root and returns the clean plan: junk deletes first, then
// empty directory deletes, deepest first. The root itself is never
// pruned. Unreadable entries come back as skips.
func Plan(ctx context.Context, root string, opts Options) (*plan.Plan, error) {
	log := logging.Get("clean")

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, serrors.Scan(root, err)
	}
	if info, err := os.Stat(root); err != nil {
		return nil, serrors.Scan(root, err)
	} else if !info.IsDir() {
		return nil, serrors.Scan(root, errors.New("not a directory"))
	}

	var (
		mu      sync.Mutex
		junk    []plan.Action
		skipped []plan.Action
		dirs    []string
		keep    = make(map[string]struct{})
	)

	// occupied marks every directory between path and root as holding
	// something that survives the clean.
	occupied := func(path string) {
		for d := filepath.Dir(path); d != root && strings.HasPrefix(d, root); d = filepath.Dir(d) {
			if _, ok := keep[d]; ok {
				return
			}
			keep[d] = struct{}{}
		}
	}

	conf := fastwalk.Config{Follow: false, NumWorkers: opts.Workers}
	walkErr := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == root {
			return err
		}
		rel, relErr := ignore.Rel(root, path)

		mu.Lock()
		defer mu.Unlock()

		if err != nil || relErr != nil {
			skipped = append(skipped, plan.Skip(path, "unreadable"))
			keep[path] = struct{}{}
			occupied(path)
			return nil
		}

		if d.IsDir() {
			if opts.Protect.MatchDir(rel) {
				occupied(path)
				return fastwalk.SkipDir
			}
			dirs = append(dirs, path)
			return nil
		}

		if d.Type().IsRegular() && opts.Junk.Match(rel) && !opts.Protect.Match(rel) {
			var size int64
			if info, err := d.Info(); err == nil {
				size = info.Size()
			}
			junk = append(junk, plan.Delete(path, "", size))
			return nil
		}
		occupied(path)
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return nil, walkErr
		}
		var se *serrors.Error
		if errors.As(walkErr, &se) {
			return nil, se
		}
		return nil, serrors.Scan(root, walkErr)
	}

	slices.SortFunc(junk, func(a, b plan.Action) int { return cmp.Compare(a.Path, b.Path) })
	slices.SortFunc(skipped, func(a, b plan.Action) int { return cmp.Compare(a.Path, b.Path) })

	actions := append(junk, skipped...)
	if opts.PruneEmpty {
		var empty []string
		for _, d := range dirs {
			if _, ok := keep[d]; !ok {
				empty = append(empty, d)
			}
		}
		slices.SortFunc(empty, deepestFirst)
		for _, d := range empty {
			actions = append(actions, plan.DeleteDir(d))
		}
	}

	log.Debug("clean planned", "root", root, "junk", len(junk), "actions", len(actions))
	return plan.New("clean", actions)
}

func deepestFirst(a, b string) int {
	da := strings.Count(a, string(filepath.Separator))
	db := strings.Count(b, string(filepath.Separator))
	if da != db {
		return cmp.Compare(db, da)
	}
	return cmp.Compare(a, b)
}
