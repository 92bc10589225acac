package cache

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a cache entry doesn't exist.
var ErrNotFound = errors.New("cache entry not found")

// Store wraps Badger for cache operations.
type Store struct {
	db *badger.DB
}

// OpenStore opens or creates a cache store at the given path.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get retrieves the entry stored under key.
func (s *Store) Get(key []byte) (*Entry, error) {
	var entry Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(entry.Decode)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Put stores one entry.
func (s *Store) Put(key []byte, entry *Entry) error {
	value, err := entry.Encode()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// KV is one pending write.
type KV struct {
	Key   []byte
	Entry *Entry
}

// PutBatch stores many entries through a write batch, which splits large
// batches across transactions on its own.
func (s *Store) PutBatch(kvs []KV) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, kv := range kvs {
		value, err := kv.Entry.Encode()
		if err != nil {
			return err
		}
		if err := wb.Set(kv.Key, value); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// DeleteKeys removes the given keys.
func (s *Store) DeleteKeys(keys [][]byte) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Keys calls fn for every key with the given prefix. Iteration stops at
// the first error fn returns.
func (s *Store) Keys(prefix []byte, fn func(key []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := fn(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DropPrefix removes every key with the given prefix.
func (s *Store) DropPrefix(prefix []byte) error {
	return s.db.DropPrefix(prefix)
}

// DropAll removes every key.
func (s *Store) DropAll() error {
	return s.db.DropAll()
}

// Size returns the on-disk size of the LSM tree and value log in bytes.
func (s *Store) Size() int64 {
	lsm, vlog := s.db.Size()
	return lsm + vlog
}
