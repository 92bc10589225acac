package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testEntry(size int64) *Entry {
	return &Entry{
		Version:   CacheVersion,
		Size:      size,
		Mtime:     time.Now().UnixNano(),
		Algorithm: string(types.BLAKE2b256),
		Sum:       make([]byte, 32),
	}
}

func TestStoreGetPut(t *testing.T) {
	store := openTestStore(t)
	key := MakeKey("/data", types.BLAKE2b256, "a.txt")

	if _, err := store.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty store: got %v, want ErrNotFound", err)
	}

	entry := testEntry(42)
	if err := store.Put(key, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Size != 42 || got.Mtime != entry.Mtime || got.Algorithm != entry.Algorithm {
		t.Errorf("Get returned %+v, want %+v", got, entry)
	}
}

func TestStoreBatchAndKeys(t *testing.T) {
	store := openTestStore(t)

	var kvs []KV
	for _, rel := range []string{"a", "b", "c"} {
		kvs = append(kvs, KV{Key: MakeKey("/one", types.SHA256, rel), Entry: testEntry(1)})
	}
	kvs = append(kvs, KV{Key: MakeKey("/two", types.SHA256, "z"), Entry: testEntry(1)})
	if err := store.PutBatch(kvs); err != nil {
		t.Fatalf("PutBatch failed: %v", err)
	}

	var keys []string
	err := store.Keys(MakeKeyPrefix("/one"), func(key []byte) error {
		_, _, rel, ok := ParseKey(key)
		if !ok {
			t.Errorf("unparseable key %q", key)
		}
		keys = append(keys, rel)
		return nil
	})
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("Keys under /one: got %v, want 3", keys)
	}

	if err := store.DeleteKeys([][]byte{MakeKey("/one", types.SHA256, "b")}); err != nil {
		t.Fatalf("DeleteKeys failed: %v", err)
	}
	if _, err := store.Get(MakeKey("/one", types.SHA256, "b")); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted key still present: %v", err)
	}
}

func TestStoreKeysStopsOnError(t *testing.T) {
	store := openTestStore(t)
	for _, rel := range []string{"a", "b", "c"} {
		if err := store.Put(MakeKey("/r", types.SHA256, rel), testEntry(1)); err != nil {
			t.Fatal(err)
		}
	}

	stop := errors.New("stop")
	calls := 0
	err := store.Keys(nil, func([]byte) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("got err=%v after %d calls, want stop after 1", err, calls)
	}
}

func TestStoreDrop(t *testing.T) {
	store := openTestStore(t)
	for _, root := range []string{"/keep", "/drop"} {
		if err := store.Put(MakeKey(root, types.SHA256, "f"), testEntry(1)); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.DropPrefix(MakeKeyPrefix("/drop")); err != nil {
		t.Fatalf("DropPrefix failed: %v", err)
	}
	if _, err := store.Get(MakeKey("/drop", types.SHA256, "f")); !errors.Is(err, ErrNotFound) {
		t.Errorf("dropped root still present: %v", err)
	}
	if _, err := store.Get(MakeKey("/keep", types.SHA256, "f")); err != nil {
		t.Errorf("other root was dropped: %v", err)
	}

	if err := store.DropAll(); err != nil {
		t.Fatalf("DropAll failed: %v", err)
	}
	if _, err := store.Get(MakeKey("/keep", types.SHA256, "f")); !errors.Is(err, ErrNotFound) {
		t.Errorf("DropAll left entries: %v", err)
	}
}
