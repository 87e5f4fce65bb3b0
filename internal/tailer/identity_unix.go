//go:build unix && !linux

package tailer

import (
	"os"
	"syscall"
	"time"
)

// fileIdentity returns the inode; birth time is not read on these platforms.
func fileIdentity(_ *os.File, fi os.FileInfo) (time.Time, uint64) {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return time.Time{}, uint64(st.Ino)
	}
	return time.Time{}, 0
}
