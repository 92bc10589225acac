package main

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ysasiwat/syncstage/pkg/syncstage/cache"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the digest cache",
		Long: `The digest cache remembers the digest of every hashed file, keyed by root,
algorithm and path, and reuses it while the file's size and modification
time are unchanged. Entries of files that disappear are pruned on the
next run over their root.`,
	}

	clearCmd := &cobra.Command{
		Use:   "clear [roots...]",
		Short: "Drop cached digests for roots, or everything",
		RunE:  a.runCacheClear,
	}
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and entries per root",
		Args:  cobra.NoArgs,
		RunE:  a.runCacheStats,
	}
	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the cache location",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			_, err := fmt.Fprintln(a.stdout, a.cfg.Cache.Path)
			return err
		},
	}

	cmd.AddCommand(clearCmd, statsCmd, pathCmd)
	return cmd
}

func (a *app) openCache() (*cache.Cache, error) {
	c, err := cache.Open(a.cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("opening digest cache: %w", err)
	}
	return c, nil
}

func (a *app) runCacheClear(_ *cobra.Command, args []string) (err error) {
	c, err := a.openCache()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}()

	if len(args) == 0 {
		if err := c.ClearAll(); err != nil {
			return err
		}
		a.printInfo("Cleared digest cache")
		return nil
	}

	roots, err := resolveRoots(args, nil)
	if err != nil {
		return err
	}
	for _, root := range roots {
		if err := c.Clear(root); err != nil {
			return err
		}
		a.printInfo("Cleared cached digests for %s", root)
	}
	return nil
}

func (a *app) runCacheStats(_ *cobra.Command, _ []string) (err error) {
	c, err := a.openCache()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}()

	stats, err := c.Stats()
	if err != nil {
		return err
	}

	if a.v.GetString("cli.output") == "json" {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Fprintf(a.stdout, "Path:     %s\n", a.cfg.Cache.Path)
	fmt.Fprintf(a.stdout, "Entries:  %s\n", humanize.Comma(int64(stats.Entries)))
	fmt.Fprintf(a.stdout, "On disk:  %s\n", humanize.IBytes(uint64(stats.DiskBytes)))
	for _, r := range stats.Roots {
		fmt.Fprintf(a.stdout, "  %-8s  %s\n", humanize.Comma(int64(r.Entries)), r.Root)
	}
	return nil
}
