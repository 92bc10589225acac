// Package filter narrows a set of scanned file records by size, age,
// extension and path globs, and sorts and limits the result.
package filter

import (
	"errors"
	"fmt"
	"strings"
)

// SortField specifies the field to sort records by.
type SortField int

const (
	// SortPath sorts records by relative path.
	SortPath SortField = iota
	// SortSize sorts records by size in bytes.
	SortSize
	// SortAge sorts records by modification time, oldest first.
	SortAge
)

const (
	sortFieldPath = "path"
	sortFieldSize = "size"
	sortFieldAge  = "age"
)

// String returns the string representation of the sort field.
func (s SortField) String() string {
	switch s {
	case SortSize:
		return sortFieldSize
	case SortAge:
		return sortFieldAge
	default:
		return sortFieldPath
	}
}

// ErrInvalidSortField indicates that the sort field string could not be parsed.
var ErrInvalidSortField = errors.New("invalid sort field")

// ParseSortField parses "path", "size" or "age" (case-insensitive).
func ParseSortField(s string) (SortField, error) {
	switch strings.ToLower(s) {
	case sortFieldPath, "":
		return SortPath, nil
	case sortFieldSize:
		return SortSize, nil
	case sortFieldAge:
		return SortAge, nil
	default:
		return SortPath, fmt.Errorf("%w: %q", ErrInvalidSortField, s)
	}
}

// TypeGroups maps file type group names to their extensions.
var TypeGroups = map[string][]string{
	"video": {
		".mp4", ".mkv", ".avi", ".mov", ".wmv", ".flv", ".webm", ".m4v", ".mpeg", ".mpg",
	},
	"audio": {
		".mp3", ".flac", ".wav", ".aac", ".ogg", ".wma", ".m4a", ".opus", ".aiff",
	},
	"image": {
		".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp", ".svg", ".heic", ".heif", ".raw", ".dng",
	},
	"archive": {
		".zip", ".tar", ".gz", ".bz2", ".xz", ".7z", ".rar", ".tgz",
	},
	"document": {
		".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".odt", ".ods", ".odp", ".rtf", ".txt", ".md", ".epub",
	},
}

// ErrUnknownTypeGroup is returned for a group name missing from TypeGroups.
var ErrUnknownTypeGroup = errors.New("unknown type group")
