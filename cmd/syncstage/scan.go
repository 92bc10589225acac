package main

import (
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ysasiwat/syncstage/pkg/syncstage/output"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

func newScanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [root...]",
		Short: "List the files syncstage sees under the roots",
		Long: `Scan walks the roots without following symlinks, drops ignored paths,
and lists the remaining regular files. Use it to check ignore patterns
and filters before running another command.`,
		RunE: a.runScan,
	}
	a.addFilterFlags(cmd, true)
	return cmd
}

func (a *app) runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	roots, err := a.roots(args)
	if err != nil {
		return err
	}
	f, err := buildFilter(a.v)
	if err != nil {
		return err
	}

	rep := &output.Report{Command: "scan"}
	records, err := a.scan(ctx, roots, a.tune(), rep)
	if err != nil {
		return err
	}

	rep.Files = f.Apply(records)
	if rep.Files == nil {
		rep.Files = []types.FileRecord{}
	}
	return a.finish(rep)
}

// selectRecords keeps the records matching the filter flags, in order.
func (a *app) selectRecords(records []types.FileRecord) ([]types.FileRecord, error) {
	f, err := buildFilter(a.v)
	if err != nil {
		return nil, err
	}
	return lo.Filter(records, func(r types.FileRecord, _ int) bool { return f.Match(r) }), nil
}
