package main

import (
	"github.com/spf13/cobra"

	"github.com/ysasiwat/syncstage/pkg/syncstage/clean"
	"github.com/ysasiwat/syncstage/pkg/syncstage/ignore"
	"github.com/ysasiwat/syncstage/pkg/syncstage/output"
	"github.com/ysasiwat/syncstage/pkg/syncstage/plan"
)

func newCleanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean [roots...]",
		Short: "Remove junk files and empty directories",
		Long: `Clean deletes files matching the junk patterns (clean.junk, by default
OS and editor droppings such as .DS_Store, Thumbs.db and *~) and, with
--prune-empty, the directories left empty once they are gone.

Paths matched by the ignore patterns are never touched.`,
		RunE: a.runClean,
	}

	cmd.Flags().Bool("prune-empty", true, "also remove directories left empty")
	a.bind(cmd.Flags(), "prune-empty", "clean.prune_empty")
	return cmd
}

func (a *app) runClean(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	roots, err := a.roots(args)
	if err != nil {
		return err
	}

	junk, err := ignore.New(a.cfg.Clean.Junk)
	if err != nil {
		return err
	}
	protected := ignore.Without(a.ignorePatterns(), a.cfg.Clean.Junk)

	rep := &output.Report{Command: "clean", Roots: roots}
	tc := a.tune()

	var actions []plan.Action
	for _, root := range roots {
		protect, err := ignore.Load(root, protected)
		if err != nil {
			return err
		}
		a.printInfo("Scanning %s...", root)
		p, err := clean.Plan(ctx, root, clean.Options{
			Junk:       junk,
			Protect:    protect,
			PruneEmpty: a.cfg.Clean.PruneEmpty,
			Workers:    tc.ScanWorkers,
		})
		if err != nil {
			if ctx.Err() != nil {
				rep.Interrupted = true
				return a.finish(rep)
			}
			return err
		}
		actions = append(actions, p.Actions...)
	}

	p, err := plan.New("clean", actions)
	if err != nil {
		return err
	}
	if err := a.execute(ctx, p, roots, tc, rep); err != nil {
		return err
	}
	return a.finish(rep)
}
