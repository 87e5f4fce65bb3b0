//go:build linux

package tailer

import (
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// fileIdentity returns the birth time reported by statx(2) and the inode.
// Filesystems without birth time support leave the time zero.
func fileIdentity(f *os.File, fi os.FileInfo) (time.Time, uint64) {
	var inode uint64
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		inode = st.Ino
	}

	var stx unix.Statx_t
	err := unix.Statx(int(f.Fd()), "", unix.AT_EMPTY_PATH|unix.AT_STATX_DONT_SYNC, unix.STATX_BTIME|unix.STATX_INO, &stx)
	if err != nil || stx.Mask&unix.STATX_BTIME == 0 {
		return time.Time{}, inode
	}

	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec)), inode
}
