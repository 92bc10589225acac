package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"

	serrors "github.com/ysasiwat/syncstage/pkg/syncstage/errors"
	"github.com/ysasiwat/syncstage/pkg/syncstage/ignore"
	"github.com/ysasiwat/syncstage/pkg/syncstage/logging"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// Entry is one item of a scan: either a file record or a skipped path.
type Entry struct {
	Record types.FileRecord
	Skip   *types.Skipped
}

// Skipped reports whether the entry is a skip rather than a record.
func (e Entry) Skipped() bool {
	return e.Skip != nil
}

// Scanner performs parallel directory scanning using fastwalk.
// A Scanner holds no per-walk state, so the sequence returned by Records
// may be ranged over any number of times and each range starts a fresh walk.
type Scanner struct {
	opts Options
	log  *logging.Logger
}

// New creates a new Scanner with the given options.
// Options are validated and defaults are applied.
func New(opts Options) *Scanner {
	_ = opts.Validate()
	return &Scanner{opts: opts, log: logging.Get("scanner")}
}

// Root resolves the configured root to an absolute directory path.
// It fails with a scan error when the root is missing, is not a
// directory, or cannot be listed.
func (s *Scanner) Root() (string, error) {
	root, err := filepath.Abs(s.opts.Root)
	if err != nil {
		return "", serrors.Scan(s.opts.Root, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return "", serrors.Scan(root, err)
	}
	if !info.IsDir() {
		return "", serrors.Scan(root, errors.New("not a directory"))
	}

	f, err := os.Open(root)
	if err != nil {
		return "", serrors.Scan(root, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.ReadDir(1); err != nil && !errors.Is(err, io.EOF) {
		return "", serrors.Scan(root, err)
	}
	return root, nil
}

// Records validates the root and returns a lazy sequence over it. The walk
// starts when the sequence is ranged over and stops early when the loop
// breaks or ctx is cancelled. Entries arrive in walk order, not sorted.
func (s *Scanner) Records(ctx context.Context) (iter.Seq[Entry], error) {
	root, err := s.Root()
	if err != nil {
		return nil, err
	}
	return func(yield func(Entry) bool) {
		s.run(ctx, &walk{root: root, opts: s.opts}, yield)
	}, nil
}

// Scan walks the whole tree and returns every record and skip, each sorted
// by path.
func (s *Scanner) Scan(ctx context.Context) (*types.ScanResult, error) {
	start := time.Now()

	root, err := s.Root()
	if err != nil {
		return nil, err
	}

	w := &walk{root: root, opts: s.opts}
	result := &types.ScanResult{Root: root}
	s.run(ctx, w, func(e Entry) bool {
		if e.Skipped() {
			result.Skipped = append(result.Skipped, *e.Skip)
			return true
		}
		result.Files = append(result.Files, e.Record)
		result.TotalSize += e.Record.Size
		return true
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(result.Files, func(i, j int) bool { return result.Files[i].Path < result.Files[j].Path })
	sort.Slice(result.Skipped, func(i, j int) bool { return result.Skipped[i].Path < result.Skipped[j].Path })

	result.DirsScanned = w.dirs.Load()
	result.Ignored = w.ignored.Load()
	result.Elapsed = time.Since(start)

	s.log.Debug("scan complete",
		"root", root,
		"files", len(result.Files),
		"skipped", len(result.Skipped),
		"ignored", result.Ignored,
		"elapsed", result.Elapsed)
	return result, nil
}

// run drives one fastwalk pass and hands entries to yield on the calling
// goroutine.
func (s *Scanner) run(ctx context.Context, w *walk, yield func(Entry) bool) {
	walkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan Entry, s.opts.Buffer)
	go func() {
		defer close(out)
		conf := fastwalk.Config{Follow: false, NumWorkers: s.opts.Workers}
		err := fastwalk.Walk(&conf, w.root, w.callback(walkCtx, out))
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("walk ended early", "root", w.root, "error", err)
		}
	}()

	for e := range out {
		if !yield(e) {
			cancel()
			for range out {
			}
			return
		}
	}
}

// walk holds the counters of a single pass.
type walk struct {
	root string
	opts Options

	dirs    atomic.Int64
	files   atomic.Int64
	bytes   atomic.Int64
	ignored atomic.Int64

	// lastProgress throttles progress callbacks.
	lastProgress atomic.Int64
}

// callback returns the fastwalk callback. fastwalk invokes it from several
// goroutines at once.
func (w *walk) callback(ctx context.Context, out chan<- Entry) fs.WalkDirFunc {
	emit := func(e Entry) error {
		select {
		case out <- e:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	skip := func(rel, reason string) error {
		return emit(Entry{Skip: &types.Skipped{Path: rel, Reason: reason}})
	}

	return func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := ignore.Rel(w.root, path)
		if relErr != nil {
			return skip(path, relErr.Error())
		}

		if err != nil {
			return skip(rel, skipReason(err))
		}

		if path == w.root {
			return nil
		}

		switch {
		case d.IsDir():
			if w.opts.Ignore.MatchDir(rel) {
				w.ignored.Add(1)
				return fastwalk.SkipDir
			}
			w.dirs.Add(1)
			w.progress(path)
			return nil
		case d.Type()&fs.ModeSymlink != 0:
			if w.opts.Ignore.Match(rel) {
				w.ignored.Add(1)
				return nil
			}
			return skip(rel, "symbolic link not followed")
		case !d.Type().IsRegular():
			if w.opts.Ignore.Match(rel) {
				w.ignored.Add(1)
				return nil
			}
			return skip(rel, "not a regular file")
		}

		if w.opts.Ignore.Match(rel) {
			w.ignored.Add(1)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return skip(rel, skipReason(err))
		}

		w.files.Add(1)
		w.bytes.Add(info.Size())
		return emit(Entry{Record: types.FileRecord{
			Root:       w.root,
			Path:       rel,
			Size:       info.Size(),
			CreateTime: createTime(path, info),
			ModTime:    info.ModTime(),
		}})
	}
}

// progress calls the progress callback at most every 10ms.
func (w *walk) progress(current string) {
	if w.opts.OnProgress == nil {
		return
	}
	now := time.Now().UnixMilli()
	last := w.lastProgress.Load()
	if now-last < 10 || !w.lastProgress.CompareAndSwap(last, now) {
		return
	}
	w.opts.OnProgress(types.ScanProgress{
		DirsScanned:  w.dirs.Load(),
		FilesScanned: w.files.Load(),
		BytesScanned: w.bytes.Load(),
		CurrentPath:  current,
	})
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return "permission denied"
	case errors.Is(err, fs.ErrNotExist):
		return "vanished during scan"
	default:
		return fmt.Sprintf("unreadable: %v", err)
	}
}
