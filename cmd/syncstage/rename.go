package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ysasiwat/syncstage/pkg/syncstage/output"
	"github.com/ysasiwat/syncstage/pkg/syncstage/plan"
	"github.com/ysasiwat/syncstage/pkg/syncstage/rename"
)

func newRenameCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename [roots...]",
		Short: "Rename files from a template",
		Long: `Rename gives every selected file a name rendered from a template.

Template tokens:
  {created:FMT}    creation time, strftime FMT (default %Y-%m-%d)
  {modified:FMT}   modification time, strftime FMT
  {counter}        collision counter from 1, zero padded to --pad
  {stem}           current name without extension
  {ext}            current extension, including the dot
  {parent}         name of the containing directory

A plan can be exported with --export, edited, and applied with --import.`,
		Example: `  # Preview date-prefixed names
  syncstage rename ~/Photos --template "{created:%Y-%m-%d}_{counter}{ext}"

  # Review a plan in a spreadsheet, then apply it
  syncstage rename ~/Photos --export plan.csv
  syncstage rename --import plan.csv --apply`,
		RunE: a.runRename,
	}

	fs := cmd.Flags()
	fs.String("template", "", "name template")
	fs.String("case", "", "stem case: keep, smart, title, lower or upper")
	fs.String("ext-case", "", "extension case: keep, lower or upper")
	fs.Int("pad", 0, "zero padding width of {counter}")
	fs.Bool("append-counter", false, "resolve collisions by appending a counter")
	fs.String("export", "", "write the plan as CSV to FILE instead of showing it")
	fs.String("import", "", "read the plan from a CSV FILE instead of a template")

	a.bind(fs, "template", "rename.template")
	a.bind(fs, "case", "rename.case")
	a.bind(fs, "ext-case", "rename.ext_case")
	a.bind(fs, "pad", "rename.pad")
	a.bind(fs, "append-counter", "rename.append_counter")

	a.addFilterFlags(cmd, false)
	return cmd
}

func (a *app) renamePlanner() (*rename.Planner, error) {
	rc := a.cfg.Rename
	return rename.New(rename.Options{
		Template:         rc.Template,
		Pad:              rc.Pad,
		AppendCounter:    rc.AppendCounter,
		SkipIfAlready:    rc.SkipIfAlready,
		IdempotentPrefix: rc.IdempotentPrefix,
		Normalize:        rc.Normalize,
		NormalizeOpts: rename.NormalizeOptions{
			Case:            rc.Case,
			KeepSymbols:     rc.KeepSymbols,
			KeepUnderscores: rc.KeepUnderscores,
			ConvertDashes:   rc.ConvertDashes,
		},
		ExtCase:      rc.ExtCase,
		Sanitize:     rc.Sanitize,
		SanitizeMode: rc.SanitizeMode,
	})
}

func (a *app) runRename(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rep := &output.Report{Command: "rename"}
	tc := a.tune()

	var (
		rp    *rename.Plan
		roots []string
		err   error
	)
	if file, _ := cmd.Flags().GetString("import"); file != "" {
		if rp, err = readRenameCSV(file, a.cfg.Rename.Pad); err != nil {
			return err
		}
		if len(args) > 0 {
			if roots, err = resolveRoots(args, nil); err != nil {
				return err
			}
		}
	} else {
		if roots, err = a.roots(args); err != nil {
			return err
		}
		records, err := a.scan(ctx, roots, tc, rep)
		if err != nil {
			return err
		}
		if records, err = a.selectRecords(records); err != nil {
			return err
		}
		planner, err := a.renamePlanner()
		if err != nil {
			return err
		}
		if rp, err = planner.Plan(records); err != nil {
			return err
		}
	}
	if file, _ := cmd.Flags().GetString("export"); file != "" {
		if err := writeRenameCSV(file, rp); err != nil {
			return err
		}
		a.printInfo("Wrote %d renames to %s", len(rp.Renames), file)
		return nil
	}

	p, err := plan.FromRenames(rp)
	if err != nil {
		return err
	}
	if err := a.execute(ctx, p, roots, tc, rep); err != nil {
		return err
	}
	return a.finish(rep)
}

func readRenameCSV(path string, pad int) (*rename.Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening plan: %w", err)
	}
	defer func() { _ = f.Close() }()
	return rename.ReadCSV(f, pad)
}

func writeRenameCSV(path string, rp *rename.Plan) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating plan file: %w", err)
	}
	if err := rename.WriteCSV(f, rp); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
