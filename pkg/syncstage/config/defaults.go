// Package config provides configuration management for syncstage.
package config

// Default configuration values.
const (
	// DefaultAlgorithm is the digest algorithm used when none is configured.
	DefaultAlgorithm = "blake2b"

	// DefaultBlockSize is the hashing read size.
	DefaultBlockSize = "1MiB"

	// DefaultDedupeMode is what dedupe plans when no mode is given.
	DefaultDedupeMode = "report"

	// DefaultQuarantine is the directory, relative to the root, that
	// dedupe move mode relocates redundant copies into.
	DefaultQuarantine = ".syncstage-dupes"

	// DefaultRenameTemplate prefixes names with their creation date.
	DefaultRenameTemplate = "{created:%Y-%m-%d} {stem}{ext}"

	// DefaultCounterPad is the zero-padding width of {counter}.
	DefaultCounterPad = 2

	// DefaultIdempotentPrefix matches names that already carry a date prefix.
	DefaultIdempotentPrefix = `^(?:\d{8}|\d{4}-\d{2}-\d{2})[ _-]`

	// DefaultOrganizeDestination is expanded with {root}.
	DefaultOrganizeDestination = "{root}/Organized"

	// DefaultOrganizeBy groups organized files by date, then extension.
	DefaultOrganizeBy = "date_ext"

	// DefaultOrganizeDateFormat is a strftime layout.
	DefaultOrganizeDateFormat = "%Y/%m"

	// DefaultRetentionDays is how long apply history is kept.
	DefaultRetentionDays = 90
)
