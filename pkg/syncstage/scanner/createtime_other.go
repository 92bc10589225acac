//go:build !darwin && !linux

package scanner

import (
	"os"
	"time"
)

// createTime falls back to modification time on platforms without a
// portable birth time.
func createTime(_ string, info os.FileInfo) time.Time {
	return info.ModTime()
}
