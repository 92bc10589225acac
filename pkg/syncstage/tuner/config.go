package tuner

// Worker configuration limits.
const (
	// maxWorkers caps the scan pool.
	maxWorkers = 64

	// maxHashWorkers caps the hash pool. Past this, parallel reads only
	// thrash the disk.
	maxHashWorkers = 32

	// maxApplyWorkers caps concurrent filesystem mutations.
	maxApplyWorkers = 8

	// minScanWorkers is the minimum number of directory walkers.
	// Directory traversal benefits from parallelism even on small systems.
	minScanWorkers = 8

	// minBuffer is the minimum scan channel buffer.
	minBuffer = 100

	// maxBuffer is the maximum scan channel buffer.
	maxBuffer = 100000
)

// Memory budget constants.
const (
	// bytesPerEntry estimates the memory held by one buffered file record.
	bytesPerEntry = 512

	// memoryDivisor limits buffers and hash blocks to 1/20th (5%) of
	// available RAM.
	memoryDivisor = 20
)

// Config holds worker pool sizes derived from the system resources.
type Config struct {
	// ScanWorkers is the number of directory walkers.
	ScanWorkers int

	// ScanBuffer is the scanner's record channel size.
	ScanBuffer int

	// HashWorkers is the number of files hashed at once.
	HashWorkers int

	// ApplyWorkers is the number of actions applied at once.
	ApplyWorkers int
}

// Calculate sizes the pools for resources when hashing reads blockSize
// bytes per worker.
//
//   - ScanWorkers: max(cores, 8), capped at 64. Walking is metadata bound.
//   - HashWorkers: min(cores, 32), lowered until every worker's block fits
//     in 5% of available RAM.
//   - ApplyWorkers: min(cores, 8).
//   - ScanBuffer: 5% of available RAM in record-sized entries, bounded.
func Calculate(resources SystemResources, blockSize int) Config {
	cores := max(resources.CPUCores, 1)

	hash := min(cores, maxHashWorkers)
	if blockSize > 0 && resources.AvailableRAM > 0 {
		budget := resources.AvailableRAM / memoryDivisor
		hash = max(min(hash, int(budget/int64(blockSize))), 1)
	}

	return Config{
		ScanWorkers:  min(max(cores, minScanWorkers), maxWorkers),
		ScanBuffer:   bufferSize(resources.AvailableRAM),
		HashWorkers:  hash,
		ApplyWorkers: min(cores, maxApplyWorkers),
	}
}

// CalculateWithOverrides applies a user worker count to the hash and scan
// pools. Zero or negative keeps the calculated values.
func CalculateWithOverrides(resources SystemResources, blockSize, workers int) Config {
	cfg := Calculate(resources, blockSize)
	if workers > 0 {
		cfg.HashWorkers = min(workers, maxWorkers)
		cfg.ScanWorkers = min(workers, maxWorkers)
	}
	return cfg
}

func bufferSize(availableRAM int64) int {
	entries := int(availableRAM / memoryDivisor / bytesPerEntry)
	return min(max(entries, minBuffer), maxBuffer)
}
