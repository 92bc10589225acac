// Package hasher computes streaming content digests. Files are read in
// fixed-size blocks, so memory use is bounded by the block size times the
// number of workers no matter how large the files are.
package hasher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	serrors "github.com/ysasiwat/syncstage/pkg/syncstage/errors"
	"github.com/ysasiwat/syncstage/pkg/syncstage/logging"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// DefaultBlockSize is used when Options.BlockSize is not positive.
const DefaultBlockSize = 1 << 20

// Cache remembers digests across runs. A hit must only be returned when
// the record's size and modification time match what was stored.
type Cache interface {
	Lookup(rec types.FileRecord, algo types.Algorithm) (types.Digest, bool)
	Store(rec types.FileRecord, d types.Digest)
}

// Options configures a Hasher.
type Options struct {
	Algorithm types.Algorithm
	BlockSize int

	// Workers bounds HashAll concurrency. Zero or less means one.
	Workers int

	// Cache is optional.
	Cache Cache
}

// Stats counts work done by a Hasher.
type Stats struct {
	Hashed    int64 `json:"hashed"`
	Bytes     int64 `json:"bytes"`
	CacheHits int64 `json:"cache_hits"`
	Failed    int64 `json:"failed"`
}

// Hasher computes digests. It is safe for concurrent use.
type Hasher struct {
	opts Options
	bufs sync.Pool
	log  *logging.Logger

	hashed, bytes, hits, failed atomic.Int64
}

// New validates opts and returns a Hasher.
func New(opts Options) (*Hasher, error) {
	if opts.Algorithm == "" {
		opts.Algorithm = types.BLAKE2b256
	}
	if _, err := newHash(opts.Algorithm); err != nil {
		return nil, err
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	h := &Hasher{opts: opts, log: logging.Get("hasher")}
	size := opts.BlockSize
	h.bufs.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return h, nil
}

// Algorithm returns the configured algorithm.
func (h *Hasher) Algorithm() types.Algorithm { return h.opts.Algorithm }

// Cached reports whether digests may come from the cache instead of the
// file's current content.
func (h *Hasher) Cached() bool { return h.opts.Cache != nil }

// Stats returns a snapshot of the counters.
func (h *Hasher) Stats() Stats {
	return Stats{
		Hashed:    h.hashed.Load(),
		Bytes:     h.bytes.Load(),
		CacheHits: h.hits.Load(),
		Failed:    h.failed.Load(),
	}
}

func newHash(algo types.Algorithm) (hash.Hash, error) {
	switch algo {
	case types.BLAKE2b256:
		return blake2b.New256(nil)
	case types.SHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", algo)
	}
}

// Sum digests r block by block and returns the digest with the number of
// bytes read.
func (h *Hasher) Sum(ctx context.Context, r io.Reader) (types.Digest, int64, error) {
	hh, err := newHash(h.opts.Algorithm)
	if err != nil {
		return types.Digest{}, 0, err
	}

	bp := h.bufs.Get().(*[]byte)
	defer h.bufs.Put(bp)
	buf := *bp

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return types.Digest{}, total, err
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			_, _ = hh.Write(buf[:n])
			total += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return types.Digest{}, total, err
		}
	}
	return types.Digest{Algorithm: h.opts.Algorithm, Sum: hh.Sum(nil)}, total, nil
}

// HashFile digests the file behind rec. A read failure, or a byte count
// different from rec.Size, is a hash error for this file only.
func (h *Hasher) HashFile(ctx context.Context, rec types.FileRecord) (types.Digest, error) {
	if h.opts.Cache != nil {
		if d, ok := h.opts.Cache.Lookup(rec, h.opts.Algorithm); ok {
			h.hits.Add(1)
			return d, nil
		}
	}

	path := rec.Abs()
	f, err := os.Open(path)
	if err != nil {
		h.failed.Add(1)
		return types.Digest{}, serrors.Hash(rec.Path, err)
	}
	defer func() { _ = f.Close() }()

	d, n, err := h.Sum(ctx, f)
	if err != nil {
		if ctx.Err() != nil {
			return types.Digest{}, ctx.Err()
		}
		h.failed.Add(1)
		return types.Digest{}, serrors.Hash(rec.Path, err)
	}
	if n != rec.Size {
		h.failed.Add(1)
		return types.Digest{}, serrors.HashSizeMismatch(rec.Path, rec.Size, n)
	}

	h.hashed.Add(1)
	h.bytes.Add(n)
	if h.opts.Cache != nil {
		h.opts.Cache.Store(rec, d)
	}
	return d, nil
}

// Result pairs a record with its digest or the error that prevented one.
type Result struct {
	Record types.FileRecord
	Digest types.Digest
	Err    error
}

// HashAll digests records on a pool of Options.Workers goroutines. Results
// are in input order. Per-file failures are reported in Result.Err; the
// returned error is only ever the context's.
func (h *Hasher) HashAll(ctx context.Context, records []types.FileRecord) ([]Result, error) {
	results := make([]Result, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.opts.Workers)
	for i, rec := range records {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			d, err := h.HashFile(gctx, rec)
			results[i] = Result{Record: rec, Digest: d, Err: err}
			if err != nil && gctx.Err() == nil {
				h.log.Warn("hash failed", "path", rec.Path, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
