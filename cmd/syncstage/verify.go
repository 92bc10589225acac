package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ysasiwat/syncstage/pkg/syncstage/manifest"
	"github.com/ysasiwat/syncstage/pkg/syncstage/output"
	"github.com/ysasiwat/syncstage/pkg/syncstage/tuner"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// errTreeChanged is returned by verify check when the tree no longer
// matches its manifest.
var errTreeChanged = errors.New("tree differs from manifest")

func newVerifyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Write and check integrity manifests",
		Long: `Verify records the digest of every file under a root in a manifest and
later compares the tree against it.

Manifests are named MANIFEST-<YYYYmmdd-HHMMSS>.<algorithm>.txt and are
written into the root unless manifest.dir is configured. Every file is
read in full; the digest cache is never consulted.`,
	}

	write := &cobra.Command{
		Use:   "write [root]",
		Short: "Hash the tree and write a new manifest (with --apply)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  a.runVerifyWrite,
	}
	write.Flags().String("algorithm", "", "digest algorithm: blake2b or sha256")
	a.bind(write.Flags(), "algorithm", "dedupe.algorithm")

	check := &cobra.Command{
		Use:   "check [root]",
		Short: "Compare the tree against its newest manifest",
		Long: `Check hashes the tree with the manifest's algorithm and reports files
that were MODIFIED, ADDED or REMOVED since the manifest was written. It
exits non-zero when anything changed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.runVerifyCheck,
	}
	check.Flags().String("manifest", "", "manifest to check against (default: the newest)")

	diff := &cobra.Command{
		Use:   "diff OLD NEW",
		Short: "Compare two manifests",
		Args:  cobra.ExactArgs(2),
		RunE:  a.runVerifyDiff,
	}

	cmd.AddCommand(write, check, diff)
	return cmd
}

// manifestStore returns the store for root.
func (a *app) manifestStore(root string) *manifest.Store {
	dir := a.cfg.Manifest.Dir
	if dir == "" {
		dir = root
	}
	return manifest.NewStore(afero.NewOsFs(), dir)
}

// singleRoot resolves the roots and insists on exactly one.
func (a *app) singleRoot(args []string) (string, error) {
	roots, err := a.roots(args)
	if err != nil {
		return "", err
	}
	if len(roots) != 1 {
		return "", fmt.Errorf("verify works on one root at a time, got %d", len(roots))
	}
	return roots[0], nil
}

// hashTree scans root and builds a manifest of it with algo. Every digest
// is read from disk. Files that exist but could not be hashed are left out
// of the manifest; their relative paths are returned as unread.
func (a *app) hashTree(ctx context.Context, root string, algo types.Algorithm, tc tuner.Config, rep *output.Report) (*manifest.Manifest, []string, error) {
	records, err := a.scan(ctx, []string{root}, tc, rep)
	if err != nil {
		return nil, nil, err
	}

	h, closeHasher, err := a.openHasher(algo, tc, records, rep, false)
	if err != nil {
		return nil, nil, err
	}
	defer closeHasher()

	a.printInfo("Hashing %d files...", len(records))
	results, err := h.HashAll(ctx, records)
	if err != nil {
		return nil, nil, err
	}

	m, skipped := manifest.FromResults(algo, results)
	unread := make([]string, 0, len(skipped))
	for _, s := range skipped {
		unread = append(unread, s.Path)
		rep.Skipped = append(rep.Skipped, types.Skipped{Path: filepath.Join(root, filepath.FromSlash(s.Path)), Reason: s.Reason})
	}
	return m, unread, nil
}

func (a *app) runVerifyWrite(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	root, err := a.singleRoot(args)
	if err != nil {
		return err
	}

	rep := &output.Report{Command: "verify write", DryRun: a.dryRun()}
	m, _, err := a.hashTree(ctx, root, a.cfg.Algorithm(), a.tune(), rep)
	if err != nil {
		if ctx.Err() != nil {
			rep.Interrupted = true
			return a.finish(rep)
		}
		return err
	}

	store := a.manifestStore(root)
	if rep.DryRun {
		rep.Manifest = store.NextPath(m.Algorithm)
	} else {
		path, err := store.Save(m)
		if err != nil {
			return err
		}
		rep.Manifest = path
	}
	if len(rep.Skipped) > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d files could not be hashed and are not in the manifest", len(rep.Skipped)))
	}
	return a.finish(rep)
}

func (a *app) runVerifyCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	root, err := a.singleRoot(args)
	if err != nil {
		return err
	}

	store := a.manifestStore(root)
	path, _ := cmd.Flags().GetString("manifest")
	if path == "" {
		latest, err := store.Latest()
		if err != nil {
			return err
		}
		path = latest.Path
	}
	old, err := store.Load(path, a.cfg.Algorithm())
	if err != nil {
		return err
	}

	rep := &output.Report{Command: "verify check", Manifest: path}
	fresh, unread, err := a.hashTree(ctx, root, old.Algorithm, a.tune(), rep)
	if err != nil {
		if ctx.Err() != nil {
			rep.Interrupted = true
			return a.finish(rep)
		}
		return err
	}

	diff, err := manifest.Diff(old, fresh)
	if err != nil {
		return err
	}
	diff.Exclude(unread...)
	rep.Diff = diff
	if err := a.finish(rep); err != nil {
		return err
	}
	if !diff.Clean() {
		return errTreeChanged
	}
	return nil
}

func (a *app) runVerifyDiff(cmd *cobra.Command, args []string) error {
	store := manifest.NewStore(afero.NewOsFs(), "")
	old, err := store.Load(args[0], a.cfg.Algorithm())
	if err != nil {
		return err
	}
	fresh, err := store.Load(args[1], a.cfg.Algorithm())
	if err != nil {
		return err
	}

	diff, err := manifest.Diff(old, fresh)
	if err != nil {
		return err
	}
	return a.finish(&output.Report{Command: "verify diff", Manifest: args[1], Diff: diff})
}
