package main

import (
	"context"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ysasiwat/syncstage/pkg/syncstage/dedupe"
	"github.com/ysasiwat/syncstage/pkg/syncstage/output"
	"github.com/ysasiwat/syncstage/pkg/syncstage/plan"
	"github.com/ysasiwat/syncstage/pkg/syncstage/tuner"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

func newDedupeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedupe [root...]",
		Short: "Find duplicate files and optionally remove, link or quarantine them",
		Long: `Dedupe groups files with identical content across all roots. In each
group the earliest created copy is the keeper; the others are redundant.

Modes:
  report    list the groups (default)
  delete    delete redundant copies
  hardlink  replace redundant copies with hard links to the keeper
  move      move redundant copies into the quarantine directory

Nothing changes without --apply.`,
		RunE: a.runDedupe,
	}

	f := cmd.Flags()
	f.StringP("mode", "m", "", "report, delete, hardlink or move")
	f.String("algorithm", "", "digest algorithm: blake2b or sha256")
	f.String("quarantine", "", "move mode target, relative to each root or absolute")
	f.Bool("skip-empty", true, "leave empty files out of every group")
	f.Bool("trash", false, "send deleted files to the trash")
	a.bind(f, "mode", "dedupe.mode")
	a.bind(f, "algorithm", "dedupe.algorithm")
	a.bind(f, "quarantine", "dedupe.quarantine")
	a.bind(f, "skip-empty", "dedupe.skip_empty")
	a.bind(f, "trash", "apply.trash")

	a.addFilterFlags(cmd, false)
	a.bind(f, "min-size", "dedupe.min_size")
	return cmd
}

func (a *app) runDedupe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mode, err := plan.ParseDedupeMode(a.cfg.Dedupe.Mode)
	if err != nil {
		return err
	}
	roots, err := a.roots(args)
	if err != nil {
		return err
	}

	tc := a.tune()
	rep := &output.Report{Command: "dedupe"}
	scanned, err := a.scan(ctx, roots, tc, rep)
	if err != nil {
		return err
	}
	records, err := a.selectRecords(scanned)
	if err != nil {
		return err
	}
	if minSize := a.cfg.MinSize(); minSize > 0 {
		records = lo.Filter(records, func(r types.FileRecord, _ int) bool { return r.Size >= minSize })
	}

	h, closeHasher, err := a.openHasher(a.cfg.Algorithm(), tc, scanned, rep, true)
	if err != nil {
		return err
	}
	defer closeHasher()

	opts := dedupe.Options{SkipEmpty: a.cfg.Dedupe.SkipEmpty}
	a.printInfo("Hashing %d candidate files...", len(records))
	result, err := dedupe.New(h, opts).Group(ctx, records)
	if err == nil && mode != plan.ModeReport && h.Cached() {
		result, err = a.confirmGroups(ctx, result, tc, opts, rep)
	}
	if err != nil {
		if ctx.Err() != nil {
			rep.Interrupted = true
			return a.finish(rep)
		}
		return err
	}

	rep.Groups = result.Groups
	if rep.Groups == nil {
		rep.Groups = []dedupe.Group{}
	}
	rep.DedupeStats = &result.Stats
	rep.Skipped = append(rep.Skipped, result.Skipped...)

	if mode != plan.ModeReport {
		p, err := plan.FromGroups(result.Groups, mode, a.cfg.Dedupe.Quarantine)
		if err != nil {
			return err
		}
		if err := a.execute(ctx, p, roots, tc, rep); err != nil {
			return err
		}
	}
	return a.finish(rep)
}

// confirmGroups hashes every group member again straight from disk before
// anything is deleted, linked or moved, so a cached digest never decides
// what is redundant.
func (a *app) confirmGroups(ctx context.Context, prev *dedupe.Result, tc tuner.Config, opts dedupe.Options, rep *output.Report) (*dedupe.Result, error) {
	h, closeHasher, err := a.openHasher(a.cfg.Algorithm(), tc, nil, rep, false)
	if err != nil {
		return nil, err
	}
	defer closeHasher()

	a.printInfo("Confirming %d duplicate groups...", len(prev.Groups))
	return dedupe.New(h, opts).Confirm(ctx, prev)
}
