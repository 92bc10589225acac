package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ysasiwat/syncstage/pkg/syncstage/apply"
	"github.com/ysasiwat/syncstage/pkg/syncstage/cache"
	"github.com/ysasiwat/syncstage/pkg/syncstage/config"
	"github.com/ysasiwat/syncstage/pkg/syncstage/hasher"
	"github.com/ysasiwat/syncstage/pkg/syncstage/history"
	"github.com/ysasiwat/syncstage/pkg/syncstage/ignore"
	"github.com/ysasiwat/syncstage/pkg/syncstage/logging"
	"github.com/ysasiwat/syncstage/pkg/syncstage/output"
	"github.com/ysasiwat/syncstage/pkg/syncstage/plan"
	"github.com/ysasiwat/syncstage/pkg/syncstage/scanner"
	"github.com/ysasiwat/syncstage/pkg/syncstage/tuner"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// bootstrap is the root PersistentPreRunE: it loads the configuration and
// starts logging.
func (a *app) bootstrap(cmd *cobra.Command, _ []string) error {
	a.stdout = cmd.OutOrStdout()
	a.stderr = cmd.ErrOrStderr()

	if err := a.bindFlags(cmd); err != nil {
		return err
	}
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := initializeLogging(cfg, a.verbose(), a.stderr); err != nil {
		return err
	}
	a.log.Debug("command started", "command", cmd.CommandPath(), "config", a.v.ConfigFileUsed())
	return nil
}

func (a *app) shutdown(*cobra.Command, []string) error {
	return logging.Close()
}

// initializeLogging makes sure the state directory exists and starts file
// logging. Verbose runs also log debug output to console.
func initializeLogging(cfg *config.Config, verbose bool, console io.Writer) error {
	if err := os.MkdirAll(config.StateDir(), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	lc := logging.Config{
		Level:      cfg.Logging.Level,
		Path:       cfg.Logging.Path,
		Format:     cfg.Logging.Format,
		Rotation:   parseRotationConfig(cfg.Logging.Rotation),
		Components: cfg.Logging.Components,
	}
	if verbose {
		lc.ConsoleLevel = "debug"
		lc.Console = console
	}
	if err := logging.Init(lc); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	return nil
}

// parseRotationConfig converts the config rotation section. An empty or
// unparsable max_size falls back to the default.
func parseRotationConfig(rc config.RotationConfig) logging.RotationConfig {
	out := logging.DefaultRotationConfig()
	if n, err := types.ParseSize(rc.MaxSize); err == nil && n > 0 {
		out.MaxSize = n
	}
	out.MaxAge = rc.MaxAge
	out.MaxBackups = rc.MaxBackups
	out.Daily = rc.Daily
	return out
}

// errOverlappingRoots is returned when one root lies inside another. The
// shared files would be scanned twice and judged duplicates of themselves.
var errOverlappingRoots = errors.New("roots overlap")

// resolveRoots picks the roots of a run: the arguments, else the
// configured roots, else the working directory. Each must be an existing
// directory. Roots are returned with symlinks resolved; duplicates are
// dropped and nested roots rejected.
func resolveRoots(args, configured []string) ([]string, error) {
	roots := args
	if len(roots) == 0 {
		roots = configured
	}
	if len(roots) == 0 {
		roots = []string{"."}
	}

	out := make([]string, 0, len(roots))
	for _, r := range roots {
		expanded, err := config.ExpandPath(r)
		if err != nil {
			return nil, err
		}
		abs, err := filepath.Abs(expanded)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", r, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("cannot access root: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("root is not a directory: %s", abs)
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", r, err)
		}
		out = append(out, resolved)
	}
	out = lo.Uniq(out)

	for i, outer := range out {
		for _, inner := range out[i+1:] {
			if within(inner, outer) || within(outer, inner) {
				return nil, fmt.Errorf("%w: %s and %s", errOverlappingRoots, outer, inner)
			}
		}
	}
	return out, nil
}

// within reports whether path lies strictly below dir.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (a *app) roots(args []string) ([]string, error) {
	return resolveRoots(args, a.cfg.Roots)
}

// ignorePatterns returns the configured ignore globs plus --ignore.
func (a *app) ignorePatterns() []string {
	return append(a.cfg.IgnorePatterns(), a.v.GetStringSlice("cli.ignore")...)
}

// tune sizes the worker pools from the machine and the configuration.
func (a *app) tune() tuner.Config {
	res, err := tuner.Detect()
	if err != nil {
		a.log.Warn("resource detection failed, using defaults", "error", err)
	}
	cfg := tuner.CalculateWithOverrides(res, a.cfg.BlockSize(), a.cfg.Dedupe.Workers)
	if a.cfg.Apply.Workers > 0 {
		cfg.ApplyWorkers = a.cfg.Apply.Workers
	}
	a.log.Debug("worker pools",
		"cores", res.CPUCores,
		"available_ram", types.FormatSize(res.AvailableRAM),
		"scan", cfg.ScanWorkers,
		"hash", cfg.HashWorkers,
		"apply", cfg.ApplyWorkers)
	return cfg
}

// scan walks every root and folds the results into rep. Per-file errors
// become report skips; an unusable root fails the run.
func (a *app) scan(ctx context.Context, roots []string, tc tuner.Config, rep *output.Report) ([]types.FileRecord, error) {
	rep.Roots = roots
	rep.Scan = &output.ScanStats{}

	var records []types.FileRecord
	for _, root := range roots {
		matcher, err := ignore.Load(root, a.ignorePatterns())
		if err != nil {
			return nil, err
		}

		a.printInfo("Scanning %s...", root)
		s := scanner.New(scanner.Options{
			Root:    root,
			Ignore:  matcher,
			Workers: tc.ScanWorkers,
			Buffer:  tc.ScanBuffer,
		})
		res, err := s.Scan(ctx)
		if err != nil {
			return nil, err
		}

		rep.Scan.Add(res)
		for _, sk := range res.Skipped {
			rep.Skipped = append(rep.Skipped, types.Skipped{Path: filepath.Join(res.Root, filepath.FromSlash(sk.Path)), Reason: sk.Reason})
		}
		records = append(records, res.Files...)
	}
	return records, nil
}

// openHasher returns a hasher for algo. With cached set it is backed by
// the digest cache unless caching is off, and cache entries of records no
// longer on disk are pruned. A cache that cannot be opened becomes a
// warning. Without cached every digest is read from the file.
func (a *app) openHasher(algo types.Algorithm, tc tuner.Config, records []types.FileRecord, rep *output.Report, cached bool) (*hasher.Hasher, func(), error) {
	opts := hasher.Options{
		Algorithm: algo,
		BlockSize: a.cfg.BlockSize(),
		Workers:   tc.HashWorkers,
	}
	closeFn := func() {}

	if cached && a.cfg.Cache.Enabled && !a.v.GetBool("cli.no_cache") {
		c, err := cache.Open(a.cfg.Cache.Path)
		if err != nil {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("digest cache disabled: %v", err))
		} else {
			opts.Cache = c
			a.pruneCache(c, rep.Roots, records)
			closeFn = func() {
				if err := c.Close(); err != nil {
					a.log.Warn("closing digest cache", "error", err)
				}
			}
		}
	}

	h, err := hasher.New(opts)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return h, closeFn, nil
}

func (a *app) pruneCache(c *cache.Cache, roots []string, records []types.FileRecord) {
	live := make(map[string]map[string]struct{}, len(roots))
	for _, root := range roots {
		live[root] = map[string]struct{}{}
	}
	for _, r := range records {
		if set, ok := live[r.Root]; ok {
			set[r.Path] = struct{}{}
		}
	}
	for root, set := range live {
		n, err := c.Prune(root, set)
		if err != nil {
			a.log.Warn("pruning digest cache", "root", root, "error", err)
			continue
		}
		if n > 0 {
			a.log.Debug("pruned digest cache", "root", root, "removed", n)
		}
	}
}

// execute runs p through the apply engine, as a dry run unless --apply
// was given, and journals real runs.
func (a *app) execute(ctx context.Context, p *plan.Plan, roots []string, tc tuner.Config, rep *output.Report) error {
	rep.Plan = p
	rep.DryRun = a.dryRun()

	engine := apply.New(apply.Options{
		DryRun:  rep.DryRun,
		Trash:   a.cfg.Apply.Trash,
		Workers: tc.ApplyWorkers,
		Roots:   roots,
	})
	report, err := engine.Apply(ctx, p)
	if report != nil {
		rep.Apply = report
	}
	switch {
	case ctx.Err() != nil:
		rep.Interrupted = true
	case err != nil:
		return err
	}

	if !rep.DryRun && report != nil {
		a.journal(report, roots, rep)
	}
	return nil
}

// journal records a finished run. History is best effort: a failure to
// write it is reported but does not fail the run.
func (a *app) journal(report *apply.Report, roots []string, rep *output.Report) {
	j, err := history.New(a.cfg.History.Path)
	if err == nil {
		var entry *history.Entry
		if entry, err = j.Record(report, roots); err == nil && entry != nil {
			a.log.Info("run recorded", "id", entry.ID, "operation", entry.Operation)
			if _, cerr := j.Cleanup(a.cfg.History.RetentionDays); cerr != nil {
				a.log.Warn("history cleanup failed", "error", cerr)
			}
		}
	}
	if err != nil {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("history not recorded: %v", err))
	}
}

// formatter returns the formatter selected by --output.
func (a *app) formatter() (output.Formatter, error) {
	name := a.v.GetString("cli.output")
	if name == "template" {
		tmpl := a.v.GetString("cli.format")
		if tmpl == "" {
			return nil, errors.New("--format is required when using -o template")
		}
		return output.NewTemplateFormatter(tmpl), nil
	}
	return output.Get(name)
}

// errFailedActions is returned after rendering a report with failures.
var errFailedActions = errors.New("some actions failed")

// finish renders rep and turns failed actions or an interrupt into the
// command's error.
func (a *app) finish(rep *output.Report) error {
	f, err := a.formatter()
	if err != nil {
		return err
	}
	if err := render(a.stdout, f, rep); err != nil {
		return err
	}

	switch {
	case rep.Interrupted:
		return context.Canceled
	case rep.Apply != nil && rep.Apply.Summary.Failed > 0:
		for _, res := range rep.Apply.Failures() {
			a.log.Error("action failed", "action", res.Action.String(), "error", res.Error)
		}
		return fmt.Errorf("%w: %d of %d", errFailedActions, rep.Apply.Summary.Failed, len(rep.Apply.Results))
	}
	return nil
}

func render(w io.Writer, f output.Formatter, rep *output.Report) error {
	var buf bytes.Buffer
	if err := f.Format(&buf, rep); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
