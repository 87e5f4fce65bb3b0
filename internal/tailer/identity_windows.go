//go:build windows

package tailer

import (
	"os"
	"syscall"
	"time"
)

func fileIdentity(_ *os.File, fi os.FileInfo) (time.Time, uint64) {
	if attr, ok := fi.Sys().(*syscall.Win32FileAttributeData); ok {
		return time.Unix(0, attr.CreationTime.Nanoseconds()), 0
	}
	return time.Time{}, 0
}
