package tailer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// ErrNotRegularFile is returned when the log path names a directory or
// another non-regular file.
var ErrNotRegularFile = errors.New("not a regular file")

// Observation is the file-system metadata of a path at one point in time
type Observation struct {
	Exists       bool
	Size         uint64
	ModTime      time.Time
	CreationTime time.Time // zero when the platform or filesystem does not report it
	Inode        uint64    // zero when unknown
}

// Observe stats path. A missing file is a normal observation, not an error.
func Observe(path string) (Observation, error) {
	f, err := openShared(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Observation{}, nil
		}
		return Observation{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return observeFile(f)
}

// openShared opens path for reading. os.Open never takes a lock that would
// keep the producer from writing, truncating, or deleting the file.
func openShared(path string) (*os.File, error) {
	return os.Open(path)
}

func observeFile(f *os.File) (Observation, error) {
	fi, err := f.Stat()
	if err != nil {
		return Observation{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return Observation{}, fmt.Errorf("%w: %s", ErrNotRegularFile, f.Name())
	}

	created, inode := fileIdentity(f, fi)

	return Observation{
		Exists:       true,
		Size:         uint64(fi.Size()),
		ModTime:      fi.ModTime(),
		CreationTime: created,
		Inode:        inode,
	}, nil
}
