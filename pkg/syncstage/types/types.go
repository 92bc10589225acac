// Package types provides the core data types shared by the syncstage engine:
// file records produced by the scanner, content digests, and scan results,
// along with helpers for parsing and formatting byte sizes.
package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// FileRecord is an immutable snapshot of one regular file taken at scan time.
// It goes stale if the file changes afterwards; the engine does not re-check.
type FileRecord struct {
	// Root is the absolute scan root the record was found under.
	Root string `json:"root"`

	// Path is slash-separated and relative to Root.
	Path string `json:"path"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// CreateTime is the birth time where the platform exposes one,
	// otherwise the earlier of mtime and ctime.
	CreateTime time.Time `json:"create_time"`

	// ModTime is the last modification time.
	ModTime time.Time `json:"mod_time"`
}

// Abs returns the absolute OS path of the record.
func (r FileRecord) Abs() string {
	return filepath.Join(r.Root, filepath.FromSlash(r.Path))
}

// Name returns the base name of the file.
func (r FileRecord) Name() string {
	return path.Base(r.Path)
}

// Dir returns the slash-separated directory of the file relative to Root,
// or "." for files at the root.
func (r FileRecord) Dir() string {
	return path.Dir(r.Path)
}

// HumanSize returns the size formatted with binary units.
func (r FileRecord) HumanSize() string {
	return FormatSize(r.Size)
}

// Algorithm names a digest function.
type Algorithm string

// Supported digest algorithms.
const (
	BLAKE2b256 Algorithm = "blake2b"
	SHA256     Algorithm = "sha256"
)

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{BLAKE2b256, SHA256}

// ParseAlgorithm validates an algorithm name (case-insensitive).
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Algorithms {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("unsupported digest algorithm %q (want blake2b or sha256)", s)
}

// DigestSize returns the digest length in bytes for the algorithm.
func (a Algorithm) DigestSize() int {
	switch a {
	case BLAKE2b256, SHA256:
		return 32
	default:
		return 0
	}
}

// Digest is a content fingerprint: an algorithm plus its fixed-length sum.
type Digest struct {
	Algorithm Algorithm `json:"algorithm"`
	Sum       []byte    `json:"sum"`
}

// Hex returns the lowercase hex encoding of the sum.
func (d Digest) Hex() string {
	return hex.EncodeToString(d.Sum)
}

// String returns "<algorithm>:<hex>".
func (d Digest) String() string {
	return string(d.Algorithm) + ":" + d.Hex()
}

// Equal reports whether both digests use the same algorithm and sum.
func (d Digest) Equal(o Digest) bool {
	return d.Algorithm == o.Algorithm && bytes.Equal(d.Sum, o.Sum)
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return len(d.Sum) == 0
}

// MarshalText encodes the digest as "<algorithm>:<hex>" so reports show
// it readably.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses the "<algorithm>:<hex>" form.
func (d *Digest) UnmarshalText(text []byte) error {
	algo, sum, ok := strings.Cut(string(text), ":")
	if !ok {
		return fmt.Errorf("invalid digest %q: missing algorithm", text)
	}
	a, err := ParseAlgorithm(algo)
	if err != nil {
		return err
	}
	parsed, err := ParseDigest(a, sum)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a hex sum for the given algorithm.
func ParseDigest(algo Algorithm, hexSum string) (Digest, error) {
	sum, err := hex.DecodeString(hexSum)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid hex digest: %w", err)
	}
	if n := algo.DigestSize(); n > 0 && len(sum) != n {
		return Digest{}, fmt.Errorf("digest is %d bytes, %s needs %d", len(sum), algo, n)
	}
	return Digest{Algorithm: algo, Sum: sum}, nil
}

// Skipped records a path the engine passed over, with the reason.
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ScanResult contains everything one scan produced.
type ScanResult struct {
	// Root is the resolved absolute root.
	Root string `json:"root"`

	// Files holds every regular, non-ignored file, sorted by Path.
	Files []FileRecord `json:"files"`

	// Skipped holds per-file errors, sorted by Path.
	Skipped []Skipped `json:"skipped,omitempty"`

	// DirsScanned is the number of directories traversed.
	DirsScanned int64 `json:"dirs_scanned"`

	// Ignored is the number of entries dropped by ignore patterns.
	Ignored int64 `json:"ignored"`

	// TotalSize is the sum of all file sizes in bytes.
	TotalSize int64 `json:"total_size"`

	// Elapsed is the wall time of the scan.
	Elapsed time.Duration `json:"elapsed"`
}

// ScanProgress reports scan progress to an optional callback.
type ScanProgress struct {
	DirsScanned  int64  `json:"dirs_scanned"`
	FilesScanned int64  `json:"files_scanned"`
	BytesScanned int64  `json:"bytes_scanned"`
	CurrentPath  string `json:"current_path"`
}

// ParseSize parses a human-readable size such as "512", "100K", "1MiB" or
// "1.5 GB". Bare SI suffixes (K, M, G) are decimal, IEC suffixes (KiB, MiB)
// are binary.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("invalid size: empty string")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("invalid size %q: cannot be negative", s)
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(n), nil
}

// FormatSize converts a byte count to a string with binary (IEC) units.
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}
