// Package cache persists file digests between runs in a Badger database so
// unchanged files are not re-read. An entry is only trusted while the file
// keeps the size and modification time it had when it was hashed.
package cache

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ysasiwat/syncstage/pkg/syncstage/logging"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// FlushEvery is the number of pending writes that triggers a flush.
const FlushEvery = 512

// Cache is the digest cache. It satisfies hasher.Cache and is safe for
// concurrent use.
type Cache struct {
	store *Store
	log   *logging.Logger

	mu      sync.Mutex
	pending []KV
}

// Open opens or creates a cache at the given directory.
func Open(path string) (*Cache, error) {
	store, err := OpenStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening digest cache %s: %w", path, err)
	}
	return &Cache{store: store, log: logging.Get("cache")}, nil
}

// Close flushes pending writes and closes the database.
func (c *Cache) Close() error {
	return errors.Join(c.Flush(), c.store.Close())
}

// Lookup returns the cached digest for rec when one exists and still
// matches rec's size and modification time.
func (c *Cache) Lookup(rec types.FileRecord, algo types.Algorithm) (types.Digest, bool) {
	entry, err := c.store.Get(MakeKey(rec.Root, algo, rec.Path))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.log.Warn("cache read failed", "path", rec.Path, "error", err)
		}
		return types.Digest{}, false
	}
	if !entry.Matches(rec) {
		return types.Digest{}, false
	}
	return entry.Digest(), true
}

// Store queues the digest of rec. Writes are batched; call Flush or Close
// to persist the tail.
func (c *Cache) Store(rec types.FileRecord, d types.Digest) {
	c.mu.Lock()
	c.pending = append(c.pending, KV{Key: MakeKey(rec.Root, d.Algorithm, rec.Path), Entry: NewEntry(rec, d)})
	full := len(c.pending) >= FlushEvery
	c.mu.Unlock()

	if full {
		if err := c.Flush(); err != nil {
			c.log.Warn("cache flush failed", "error", err)
		}
	}
}

// Flush writes every queued entry.
func (c *Cache) Flush() error {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := c.store.PutBatch(batch); err != nil {
		return fmt.Errorf("writing %d cache entries: %w", len(batch), err)
	}
	c.log.Debug("cache flushed", "entries", len(batch))
	return nil
}

// Prune deletes entries under root whose relative path is not in live,
// returning how many were removed.
func (c *Cache) Prune(root string, live map[string]struct{}) (int, error) {
	if err := c.Flush(); err != nil {
		return 0, err
	}

	var stale [][]byte
	err := c.store.Keys(MakeKeyPrefix(root), func(key []byte) error {
		_, _, rel, ok := ParseKey(key)
		if !ok {
			return nil
		}
		if _, keep := live[rel]; !keep {
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("listing cache entries: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := c.store.DeleteKeys(stale); err != nil {
		return 0, fmt.Errorf("pruning cache entries: %w", err)
	}
	return len(stale), nil
}

// Clear removes all cached entries for a root.
func (c *Cache) Clear(root string) error {
	c.dropPending(root)
	return c.store.DropPrefix(MakeKeyPrefix(root))
}

// ClearAll removes all cached entries.
func (c *Cache) ClearAll() error {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	return c.store.DropAll()
}

func (c *Cache) dropPending(root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.pending[:0]
	for _, kv := range c.pending {
		if r, _, _, ok := ParseKey(kv.Key); ok && r == root {
			continue
		}
		kept = append(kept, kv)
	}
	c.pending = kept
}

// RootStats counts entries for one root.
type RootStats struct {
	Root    string `json:"root"`
	Entries int    `json:"entries"`
}

// Stats describes the cache contents.
type Stats struct {
	Entries   int         `json:"entries"`
	DiskBytes int64       `json:"disk_bytes"`
	Roots     []RootStats `json:"roots"`
}

// Stats counts entries per root, sorted by root.
func (c *Cache) Stats() (Stats, error) {
	if err := c.Flush(); err != nil {
		return Stats{}, err
	}

	perRoot := map[string]int{}
	var total int
	err := c.store.Keys(nil, func(key []byte) error {
		root, _, _, ok := ParseKey(key)
		if !ok {
			return nil
		}
		perRoot[root]++
		total++
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Entries: total, DiskBytes: c.store.Size()}
	for root, n := range perRoot {
		stats.Roots = append(stats.Roots, RootStats{Root: root, Entries: n})
	}
	sort.Slice(stats.Roots, func(i, j int) bool { return stats.Roots[i].Root < stats.Roots[j].Root })
	return stats, nil
}
