// Package errors defines the structured error taxonomy shared by the
// syncstage engine. Every error carries a Kind so callers can branch with
// errors.Is against the exported sentinels and inspect details with errors.As.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a class of engine failure.
type Kind string

// Error kinds.
const (
	KindUnknown         Kind = "UNKNOWN"
	KindScan            Kind = "SCAN"
	KindSkip            Kind = "SKIP"
	KindHash            Kind = "HASH"
	KindManifestFormat  Kind = "MANIFEST_FORMAT"
	KindTemplate        Kind = "TEMPLATE"
	KindRenameCollision Kind = "RENAME_COLLISION"
	KindCrossVolume     Kind = "CROSS_VOLUME"
	KindApply           Kind = "APPLY"
	KindConflict        Kind = "PLAN_CONFLICT"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrScan            = &Error{Kind: KindScan}
	ErrSkip            = &Error{Kind: KindSkip}
	ErrHash            = &Error{Kind: KindHash}
	ErrManifestFormat  = &Error{Kind: KindManifestFormat}
	ErrTemplate        = &Error{Kind: KindTemplate}
	ErrRenameCollision = &Error{Kind: KindRenameCollision}
	ErrCrossVolume     = &Error{Kind: KindCrossVolume}
	ErrApply           = &Error{Kind: KindApply}
	ErrConflict        = &Error{Kind: KindConflict}
)

// Error is the structured engine error.
type Error struct {
	Kind    Kind
	Message string

	// Path is the file the error concerns, if any.
	Path string

	// Line is the 1-based line number for manifest format errors.
	Line int

	// Paths lists every path involved when one is not enough
	// (rename collisions, plan conflicts).
	Paths []string

	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " ")))
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, ":%d", e.Line)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.Wrapped.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// KindOf returns the kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Scan reports an unusable scan root.
func Scan(root string, err error) *Error {
	return &Error{Kind: KindScan, Path: root, Message: "invalid scan root", Wrapped: err}
}

// Skip reports a file the scanner or hasher passed over.
func Skip(path, reason string, err error) *Error {
	return &Error{Kind: KindSkip, Path: path, Message: reason, Wrapped: err}
}

// Hash reports a failure while reading a file for its digest.
func Hash(path string, err error) *Error {
	return &Error{Kind: KindHash, Path: path, Wrapped: err}
}

// HashSizeMismatch reports that a file changed size between scan and hash.
func HashSizeMismatch(path string, want, got int64) *Error {
	return &Error{
		Kind:    KindHash,
		Path:    path,
		Message: fmt.Sprintf("size changed since scan: recorded %d bytes, read %d", want, got),
	}
}

// ManifestFormat reports a malformed manifest line.
func ManifestFormat(path string, line int, format string, args ...any) *Error {
	return &Error{Kind: KindManifestFormat, Path: path, Line: line, Message: fmt.Sprintf(format, args...)}
}

// Template reports a malformed rename template.
func Template(template, format string, args ...any) *Error {
	return &Error{Kind: KindTemplate, Message: fmt.Sprintf("%q: ", template) + fmt.Sprintf(format, args...)}
}

// RenameCollision reports that dest cannot be assigned without overwriting.
func RenameCollision(dest string, sources ...string) *Error {
	return &Error{
		Kind:    KindRenameCollision,
		Path:    dest,
		Paths:   sources,
		Message: "destination already taken and template has no {counter}",
	}
}

// CrossVolume reports a hardlink attempted across filesystems.
func CrossVolume(from, to string, err error) *Error {
	return &Error{
		Kind:    KindCrossVolume,
		Path:    to,
		Paths:   []string{from, to},
		Message: "hardlink cannot cross filesystems",
		Wrapped: err,
	}
}

// Apply reports a failed action.
func Apply(action, path string, err error) *Error {
	return &Error{Kind: KindApply, Path: path, Message: action, Wrapped: err}
}

// Conflict reports two planned actions writing the same destination.
func Conflict(dest string, sources ...string) *Error {
	return &Error{
		Kind:    KindConflict,
		Path:    dest,
		Paths:   sources,
		Message: fmt.Sprintf("%d actions write the same destination", len(sources)),
	}
}
