package main

import (
	"github.com/spf13/cobra"

	"github.com/ysasiwat/syncstage/pkg/syncstage/organize"
	"github.com/ysasiwat/syncstage/pkg/syncstage/output"
)

func newOrganizeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "organize [roots...]",
		Short: "Move files into date and extension folders",
		Long: `Organize moves every selected file into a folder chosen from its
modification date, its extension, or both.

Layouts (--by):
  date       <dest>/<date>/name
  ext        <dest>/<ext>/name
  date_ext   <dest>/<date>/<ext>/name

The destination may contain {root}; a relative destination is taken under
each root. Name clashes get a " (N)" suffix.`,
		Example: `  syncstage organize ~/Downloads --by ext
  syncstage organize ~/Photos --date-format "%Y/%m-%b" --apply`,
		RunE: a.runOrganize,
	}

	fs := cmd.Flags()
	fs.String("dest", "", "destination directory")
	fs.String("by", "", "layout: date, ext or date_ext")
	fs.String("date-format", "", "strftime layout of date folders")
	a.bind(fs, "dest", "organize.destination")
	a.bind(fs, "by", "organize.by")
	a.bind(fs, "date-format", "organize.date_format")

	a.addFilterFlags(cmd, false)
	return cmd
}

func (a *app) runOrganize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	roots, err := a.roots(args)
	if err != nil {
		return err
	}

	oc := a.cfg.Organize
	planner, err := organize.New(organize.Options{
		Destination:  oc.Destination,
		By:           organize.By(oc.By),
		DateFormat:   oc.DateFormat,
		LowercaseExt: oc.LowercaseExt,
	})
	if err != nil {
		return err
	}

	rep := &output.Report{Command: "organize"}
	tc := a.tune()
	records, err := a.scan(ctx, roots, tc, rep)
	if err != nil {
		return err
	}
	if records, err = a.selectRecords(records); err != nil {
		return err
	}

	p, err := planner.Plan(records)
	if err != nil {
		return err
	}
	if err := a.execute(ctx, p, roots, tc, rep); err != nil {
		return err
	}
	return a.finish(rep)
}
