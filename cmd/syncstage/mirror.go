package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ysasiwat/syncstage/pkg/syncstage/config"
	"github.com/ysasiwat/syncstage/pkg/syncstage/mirror"
	"github.com/ysasiwat/syncstage/pkg/syncstage/output"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// errOutsideRoots is returned when a mirror target lies outside every
// configured root.
var errOutsideRoots = errors.New("target is not inside a configured root")

func newMirrorCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror SOURCE TARGET",
		Short: "Copy new and changed files from a source folder into a target",
		Long: `Mirror makes TARGET hold every file of SOURCE. Files missing from the
target are copied; files whose size differs, or whose source copy was
modified later, are updated. With --checksum both copies are hashed and
compared instead. With --delete, target files that no longer exist in the
source are deleted. The source is never changed.

When roots are configured (or given with --root), TARGET must lie inside
one of them.`,
		Example: `  syncstage mirror ~/Camera ~/OneDrive/Photos
  syncstage mirror ~/Work ~/Dropbox/Work --checksum --delete --apply`,
		Args: cobra.ExactArgs(2),
		RunE: a.runMirror,
	}

	f := cmd.Flags()
	f.Bool("checksum", false, "compare content digests instead of size and modification time")
	f.Bool("delete", false, "delete target files missing from the source")
	f.String("algorithm", "", "digest algorithm for --checksum: blake2b or sha256")
	f.Bool("trash", false, "send deleted files to the trash")
	a.bind(f, "checksum", "mirror.checksum")
	a.bind(f, "delete", "mirror.delete_extraneous")
	a.bind(f, "algorithm", "dedupe.algorithm")
	a.bind(f, "trash", "apply.trash")
	return cmd
}

func (a *app) runMirror(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sources, err := resolveRoots(args[:1], nil)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	targets, err := resolveRoots(args[1:], nil)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	src, dst := sources[0], targets[0]
	if src == dst || within(src, dst) || within(dst, src) {
		return fmt.Errorf("%w: %s and %s", errOverlappingRoots, src, dst)
	}
	if err := a.insideRoots(dst); err != nil {
		return err
	}

	rep := &output.Report{Command: "mirror"}
	tc := a.tune()
	records, err := a.scan(ctx, []string{src, dst}, tc, rep)
	if err != nil {
		return err
	}
	source, existing := lo.FilterReject(records, func(r types.FileRecord, _ int) bool { return r.Root == src })

	mc := a.cfg.Mirror
	opts := mirror.Options{Checksum: mc.Checksum, DeleteExtraneous: mc.DeleteExtraneous}
	if opts.Checksum {
		h, closeHasher, err := a.openHasher(a.cfg.Algorithm(), tc, nil, rep, false)
		if err != nil {
			return err
		}
		defer closeHasher()
		opts.Hasher = h
	}
	planner, err := mirror.New(opts)
	if err != nil {
		return err
	}

	a.printInfo("Comparing %d source files with %d target files...", len(source), len(existing))
	p, err := planner.Plan(ctx, dst, source, existing)
	if err != nil {
		if ctx.Err() != nil {
			rep.Interrupted = true
			return a.finish(rep)
		}
		return err
	}
	if err := a.execute(ctx, p, []string{dst}, tc, rep); err != nil {
		return err
	}
	return a.finish(rep)
}

// insideRoots requires path to be one of the configured roots or to lie
// below one. Without configured roots any path is accepted.
func (a *app) insideRoots(path string) error {
	if len(a.cfg.Roots) == 0 {
		return nil
	}
	for _, r := range a.cfg.Roots {
		expanded, err := config.ExpandPath(r)
		if err != nil {
			continue
		}
		root, err := filepath.Abs(expanded)
		if err != nil {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(root); err == nil {
			root = resolved
		}
		if path == root || within(path, root) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", errOutsideRoots, path)
}
