package main

import (
	"github.com/spf13/cobra"

	"github.com/ysasiwat/syncstage/pkg/syncstage/apply"
	"github.com/ysasiwat/syncstage/pkg/syncstage/history"
	"github.com/ysasiwat/syncstage/pkg/syncstage/output"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show applied runs",
		Long: `History lists the runs that changed the filesystem, newest first. Every
applied dedupe, rename, organize or clean is journaled with each action's
outcome. Dry runs are not recorded.`,
		Args: cobra.NoArgs,
		RunE: a.runHistoryList,
	}
	cmd.Flags().IntP("limit", "l", 20, "number of runs to show (0 for all)")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show every action of one run",
		Long:  `Show prints the results of a journaled run. ID may be any unique prefix.`,
		Args:  cobra.ExactArgs(1),
		RunE:  a.runHistoryShow,
	}

	clean := &cobra.Command{
		Use:   "clean",
		Short: "Remove runs older than the retention period",
		Args:  cobra.NoArgs,
		RunE:  a.runHistoryClean,
	}
	clean.Flags().Int("days", 0, "retention in days (default history.retention_days)")

	cmd.AddCommand(show, clean)
	return cmd
}

func (a *app) journalStore() (*history.Journal, error) {
	return history.New(a.cfg.History.Path)
}

func (a *app) runHistoryList(cmd *cobra.Command, _ []string) error {
	j, err := a.journalStore()
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := j.List(limit)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return a.finish(&output.Report{Command: "history", History: entries})
}

func (a *app) runHistoryShow(_ *cobra.Command, args []string) error {
	j, err := a.journalStore()
	if err != nil {
		return err
	}
	e, err := j.Get(args[0])
	if err != nil {
		return err
	}

	rep := &output.Report{
		Command: "history show " + e.ID,
		Roots:   e.Roots,
		Apply: &apply.Report{
			Operation: e.Operation,
			Started:   e.Timestamp,
			Elapsed:   e.Elapsed,
			Results:   e.Results,
			Summary:   e.Summary,
		},
	}
	// Failures of a past run do not fail this command.
	f, err := a.formatter()
	if err != nil {
		return err
	}
	return render(a.stdout, f, rep)
}

func (a *app) runHistoryClean(cmd *cobra.Command, _ []string) error {
	j, err := a.journalStore()
	if err != nil {
		return err
	}
	days := a.cfg.History.RetentionDays
	if cmd.Flags().Changed("days") {
		days, _ = cmd.Flags().GetInt("days")
	}
	n, err := j.Cleanup(days)
	if err != nil {
		return err
	}
	a.printInfo("Removed %d runs older than %d days", n, days)
	return nil
}
