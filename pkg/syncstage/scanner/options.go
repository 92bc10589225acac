// Package scanner walks a root directory in parallel and yields a record for
// every regular file that is not ignored. Symbolic links are reported but
// never followed, and per-entry errors become skipped entries instead of
// aborting the walk.
package scanner

import (
	"runtime"

	"github.com/ysasiwat/syncstage/pkg/syncstage/ignore"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// DefaultBuffer is the number of records buffered between the walker and
// the consumer.
const DefaultBuffer = 256

// Options configures the scanner behavior.
type Options struct {
	// Root is the starting directory for the scan.
	Root string

	// Ignore drops matching files and prunes matching directories.
	// A nil matcher ignores nothing.
	Ignore *ignore.Matcher

	// Workers is the number of concurrent directory readers.
	Workers int

	// Buffer is the channel capacity between walker and consumer.
	Buffer int

	// OnProgress is called periodically with scan progress updates.
	// It must be safe to call from multiple goroutines.
	OnProgress func(types.ScanProgress)
}

// DefaultOptions returns options for scanning the current directory.
func DefaultOptions() Options {
	return Options{
		Root:    ".",
		Workers: defaultWorkers(),
		Buffer:  DefaultBuffer,
	}
}

// Validate fills in defaults for unset or invalid values.
func (o *Options) Validate() error {
	if o.Root == "" {
		o.Root = "."
	}
	if o.Workers < 1 {
		o.Workers = defaultWorkers()
	}
	if o.Buffer < 1 {
		o.Buffer = DefaultBuffer
	}
	return nil
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n < 4 {
		return 4
	}
	if n > 32 {
		return 32
	}
	return n
}
