// Package apply executes plans.
//
// Actions run in plan order, except that actions touching unrelated paths
// may run concurrently. Every action gets its own result: one failure never
// stops the actions that do not depend on it. In dry-run mode the engine
// only describes what it would do.
package apply

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	serrors "github.com/ysasiwat/syncstage/pkg/syncstage/errors"
	"github.com/ysasiwat/syncstage/pkg/syncstage/logging"
	"github.com/ysasiwat/syncstage/pkg/syncstage/plan"
	"github.com/ysasiwat/syncstage/pkg/syncstage/trash"
)

// LockName is the per-root lock file held for the duration of a run.
const LockName = ".syncstage.lock"

// Suffixes of the temporary files the engine creates next to a target.
const (
	LinkTempSuffix = ".syncstage-linktmp"
	CopyTempSuffix = ".syncstage-tmp"
)

// ErrLocked is returned when another run holds a root's lock.
var ErrLocked = errors.New("another syncstage run is applying changes to this root")

// Status is the outcome of one action.
type Status string

// Statuses.
const (
	StatusDone    Status = "done"
	StatusWould   Status = "would"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Result is the outcome of one action.
type Result struct {
	Action  plan.Action `json:"action" yaml:"action"`
	Status  Status      `json:"status" yaml:"status"`
	Message string      `json:"message" yaml:"message"`
	Error   string      `json:"error,omitempty" yaml:"error,omitempty"`

	err error
}

// Err returns the failure, if any.
func (r Result) Err() error { return r.err }

// Summary counts results by status.
type Summary struct {
	Done      int   `json:"done" yaml:"done"`
	Would     int   `json:"would" yaml:"would"`
	Skipped   int   `json:"skipped" yaml:"skipped"`
	Failed    int   `json:"failed" yaml:"failed"`
	Reclaimed int64 `json:"reclaimed" yaml:"reclaimed"`
}

// Report is the record of one run.
type Report struct {
	Operation string        `json:"operation" yaml:"operation"`
	DryRun    bool          `json:"dry_run" yaml:"dry_run"`
	Started   time.Time     `json:"started" yaml:"started"`
	Elapsed   time.Duration `json:"elapsed" yaml:"elapsed"`
	Results   []Result      `json:"results" yaml:"results"`
	Summary   Summary       `json:"summary" yaml:"summary"`
}

// Failures returns the failed results in plan order.
func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Err joins every failure, or returns nil when all actions succeeded.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failures() {
		errs = append(errs, res.err)
	}
	return errors.Join(errs...)
}

// Options configures an Engine.
type Options struct {
	// DryRun describes the actions without touching the filesystem.
	DryRun bool

	// Trash sends deleted files to the trash instead of unlinking them.
	Trash bool

	// Workers bounds concurrent actions. Zero means one.
	Workers int

	// Roots are locked for the duration of a real run.
	Roots []string

	// OnResult, when set, is called once per finished action. Calls may
	// come from several goroutines.
	OnResult func(Result)
}

// Engine executes plans.
type Engine struct {
	opts  Options
	trash *trash.Trash
	log   *logging.Logger
}

// New returns an Engine.
func New(opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	e := &Engine{opts: opts, log: logging.Get("apply")}
	if opts.Trash {
		e.trash = trash.New()
	}
	return e
}

// Apply runs every action of p and reports each outcome. The returned
// error is reserved for failures that prevent the run as a whole: a held
// lock or cancellation. Per-action failures are in the report.
func (e *Engine) Apply(ctx context.Context, p *plan.Plan) (*Report, error) {
	report := &Report{
		Operation: p.Operation,
		DryRun:    e.opts.DryRun,
		Started:   time.Now(),
		Results:   make([]Result, len(p.Actions)),
	}

	if !e.opts.DryRun {
		unlock, err := e.lock()
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	deps := dependencies(p.Actions)
	finished := make([]chan struct{}, len(p.Actions))
	for i := range finished {
		finished[i] = make(chan struct{})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, a := range p.Actions {
		g.Go(func() error {
			defer close(finished[i])
			for _, j := range deps[i] {
				select {
				case <-finished[j]:
				case <-gctx.Done():
				}
			}
			var res Result
			if err := gctx.Err(); err != nil {
				res = Result{Action: a, Status: StatusSkipped, Message: "cancelled"}
			} else {
				res = e.run(a)
			}
			report.Results[i] = res
			e.logResult(res)
			if e.opts.OnResult != nil {
				e.opts.OnResult(res)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Elapsed = time.Since(report.Started)
	report.Summary = summarize(report.Results)
	e.log.Info("apply finished",
		"operation", p.Operation,
		"dry_run", e.opts.DryRun,
		"done", report.Summary.Done,
		"skipped", report.Summary.Skipped,
		"failed", report.Summary.Failed)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// lock takes every root's lock or none.
func (e *Engine) lock() (func(), error) {
	roots := slices.Clone(e.opts.Roots)
	slices.Sort(roots)
	roots = slices.Compact(roots)

	var held []*flock.Flock
	unlock := func() {
		for _, l := range held {
			_ = l.Unlock()
		}
	}
	for _, root := range roots {
		l := flock.New(filepath.Join(root, LockName))
		ok, err := l.TryLock()
		if err != nil {
			unlock()
			return nil, fmt.Errorf("locking %s: %w", root, err)
		}
		if !ok {
			unlock()
			return nil, fmt.Errorf("%w: %s", ErrLocked, root)
		}
		held = append(held, l)
	}
	return unlock, nil
}

func (e *Engine) run(a plan.Action) Result {
	if e.opts.DryRun {
		return describe(a)
	}
	switch a.Kind {
	case plan.KindDelete:
		if a.Dir {
			return e.deleteDir(a)
		}
		return e.delete(a)
	case plan.KindHardlink:
		return e.hardlink(a)
	case plan.KindMove:
		return e.move(a)
	case plan.KindCopy:
		return e.copyFile(a)
	case plan.KindSkip:
		return Result{Action: a, Status: StatusSkipped, Message: a.Reason}
	default:
		return failed(a, string(a.Kind), a.Source(), fmt.Errorf("unknown action kind %q", a.Kind))
	}
}

// describe renders the dry-run result of a.
func describe(a plan.Action) Result {
	var msg string
	switch a.Kind {
	case plan.KindDelete:
		switch {
		case a.Dir:
			msg = "would remove empty directory " + a.Path
		case a.Keeper != "":
			msg = fmt.Sprintf("would delete %s (duplicate of %s)", a.Path, a.Keeper)
		default:
			msg = "would delete " + a.Path
		}
	case plan.KindHardlink:
		msg = fmt.Sprintf("would link %s to %s", a.To, a.From)
	case plan.KindMove:
		msg = fmt.Sprintf("would move %s to %s", a.From, a.To)
	case plan.KindCopy:
		if a.Replace {
			msg = fmt.Sprintf("would update %s from %s", a.To, a.From)
		} else {
			msg = fmt.Sprintf("would copy %s to %s", a.From, a.To)
		}
	default:
		return Result{Action: a, Status: StatusSkipped, Message: a.Reason}
	}
	return Result{Action: a, Status: StatusWould, Message: msg}
}

func done(a plan.Action, msg string) Result {
	return Result{Action: a, Status: StatusDone, Message: msg}
}

func skipped(a plan.Action, msg string) Result {
	return Result{Action: a, Status: StatusSkipped, Message: msg}
}

// failed wraps err as an apply failure unless it already carries a more
// specific engine error kind.
func failed(a plan.Action, op, path string, err error) Result {
	var se *serrors.Error
	if !errors.As(err, &se) || se.Kind != serrors.KindCrossVolume {
		err = serrors.Apply(op, path, err)
	}
	return Result{Action: a, Status: StatusFailed, Message: op + " failed", Error: err.Error(), err: err}
}

func (e *Engine) logResult(r Result) {
	switch r.Status {
	case StatusFailed:
		e.log.Warn("action failed", "action", r.Action.String(), "error", r.Error)
	case StatusDone:
		e.log.Info(r.Message, "action", r.Action.String())
	default:
		e.log.Debug(r.Message, "action", r.Action.String(), "status", r.Status)
	}
}

func summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.Status {
		case StatusDone:
			s.Done++
			if a := r.Action; a.Kind == plan.KindHardlink || (a.Kind == plan.KindDelete && a.Keeper != "") {
				s.Reclaimed += a.Size
			}
		case StatusWould:
			s.Would++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
