package cache

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// CacheVersion is incremented when the entry encoding changes. Entries
// written under another version are treated as misses.
const CacheVersion = 2

// KeySeparator separates the key fields.
const KeySeparator = '\x00'

// Entry is the cached digest of one file together with the metadata it
// was computed from.
type Entry struct {
	Version   int
	Size      int64
	Mtime     int64 // UnixNano
	Algorithm string
	Sum       []byte
	HashedAt  int64 // UnixNano
}

// NewEntry captures rec and its digest.
func NewEntry(rec types.FileRecord, d types.Digest) *Entry {
	return &Entry{
		Version:   CacheVersion,
		Size:      rec.Size,
		Mtime:     rec.ModTime.UnixNano(),
		Algorithm: string(d.Algorithm),
		Sum:       d.Sum,
		HashedAt:  time.Now().UnixNano(),
	}
}

// Matches reports whether the entry was computed from a file with rec's
// size and modification time.
func (e *Entry) Matches(rec types.FileRecord) bool {
	return e.Version == CacheVersion && e.Size == rec.Size && e.Mtime == rec.ModTime.UnixNano()
}

// Digest returns the cached digest.
func (e *Entry) Digest() types.Digest {
	return types.Digest{Algorithm: types.Algorithm(e.Algorithm), Sum: e.Sum}
}

// Encode serializes the entry to bytes using gob.
func (e *Entry) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes bytes into the entry using gob.
func (e *Entry) Decode(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(e)
}

// MakeKey creates a cache key.
// Format: <root>\x00<algorithm>\x00<relative_path>
func MakeKey(root string, algo types.Algorithm, relPath string) []byte {
	var b bytes.Buffer
	b.WriteString(root)
	b.WriteByte(KeySeparator)
	b.WriteString(string(algo))
	b.WriteByte(KeySeparator)
	b.WriteString(relPath)
	return b.Bytes()
}

// ParseKey splits a key made by MakeKey. ok is false for foreign keys.
func ParseKey(key []byte) (root string, algo types.Algorithm, relPath string, ok bool) {
	parts := bytes.SplitN(key, []byte{KeySeparator}, 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return string(parts[0]), types.Algorithm(parts[1]), string(parts[2]), true
}

// MakeKeyPrefix returns the prefix for all keys under a root.
func MakeKeyPrefix(root string) []byte {
	return []byte(root + string(KeySeparator))
}
