//go:build linux

package scanner

import (
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// createTime returns the birth time from statx when the filesystem records
// one, otherwise the earlier of mtime and ctime.
func createTime(path string, info os.FileInfo) time.Time {
	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, unix.STATX_BTIME, &stx)
	if err == nil && stx.Mask&unix.STATX_BTIME != 0 && stx.Btime.Sec != 0 {
		return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
	}
	return fallbackCreateTime(info)
}

func fallbackCreateTime(info os.FileInfo) time.Time {
	mtime := info.ModTime()
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return mtime
	}
	ctime := time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	if ctime.Before(mtime) {
		return ctime
	}
	return mtime
}
