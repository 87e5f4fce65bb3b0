package tailer

import (
	"time"

	"github.com/therealutkarshpriyadarshi/runmonitor/pkg/types"
)

// FileChange classifies what happened to a file between two observations
type FileChange string

const (
	ChangeNone      FileChange = "none"
	ChangeTruncated FileChange = "truncated"
	ChangeReplaced  FileChange = "replaced"
	ChangeDeleted   FileChange = "deleted"
)

// defaultLineBytes is the assumed average line length before any line has been read
const defaultLineBytes = 80

// FileMonitorState is the per-file position and identity a Tailer threads
// through successive calls. One state belongs to one caller and one path; it
// must not be shared between goroutines.
type FileMonitorState struct {
	ByteOffset             uint64
	LastFileSize           uint64
	LastCreationTime       time.Time
	LastWriteTime          time.Time
	LastActivityTime       time.Time
	CurrentPollingInterval time.Duration

	inode    uint64
	observed bool

	// Set by Snapshot when it resets the state, reported by the next ReadDelta.
	pendingReset FileChange

	snapshotSize uint64
	bytesSeen    uint64
	linesSeen    uint64
}

// NewState returns an empty state for a path that has not been observed yet
func NewState() *FileMonitorState {
	return &FileMonitorState{}
}

// Reset clears the offset, size, and identity so the next read starts from
// the beginning of whatever file is at the path.
func (s *FileMonitorState) Reset() {
	s.ByteOffset = 0
	s.LastFileSize = 0
	s.LastCreationTime = time.Time{}
	s.LastWriteTime = time.Time{}
	s.LastActivityTime = time.Time{}
	s.inode = 0
	s.observed = false
	s.snapshotSize = 0
}

// PendingReset reports a reset recorded by Snapshot that no ReadDelta has
// reported yet.
func (s *FileMonitorState) PendingReset() FileChange {
	if s.pendingReset == "" {
		return ChangeNone
	}
	return s.pendingReset
}

func (s *FileMonitorState) markReset(reason FileChange) {
	s.Reset()
	s.pendingReset = reason
}

func (s *FileMonitorState) takePendingReset() FileChange {
	reason := s.PendingReset()
	s.pendingReset = ChangeNone
	return reason
}

func (s *FileMonitorState) record(obs Observation) {
	s.LastFileSize = obs.Size
	s.LastWriteTime = obs.ModTime
	s.LastCreationTime = obs.CreationTime
	s.inode = obs.Inode
	s.observed = true
}

func (s *FileMonitorState) hasHistory() bool {
	return s.observed || s.ByteOffset > 0 || s.LastFileSize > 0
}

// estimateLines converts a byte count to a line count using the average line
// length seen so far.
func (s *FileMonitorState) estimateLines(bytes uint64) uint64 {
	if bytes == 0 {
		return 0
	}
	avg := uint64(defaultLineBytes)
	if s.linesSeen > 0 {
		avg = s.bytesSeen / s.linesSeen
		if avg == 0 {
			avg = 1
		}
	}
	n := bytes / avg
	if n == 0 {
		n = 1
	}
	return n
}

// Position converts the state to its persisted form
func (s *FileMonitorState) Position(path string) types.FilePosition {
	return types.FilePosition{
		Path:          path,
		Offset:        s.ByteOffset,
		Size:          s.LastFileSize,
		Inode:         s.inode,
		CreationTime:  s.LastCreationTime,
		LastWriteTime: s.LastWriteTime,
		UpdatedAt:     time.Now(),
	}
}

// RestoreState rebuilds a state from a persisted position. The first read
// after a restore still classifies the file, so a position saved against a
// file that has since been replaced or truncated is discarded.
func RestoreState(pos types.FilePosition) *FileMonitorState {
	s := &FileMonitorState{
		ByteOffset:       pos.Offset,
		LastFileSize:     pos.Size,
		LastCreationTime: pos.CreationTime,
		LastWriteTime:    pos.LastWriteTime,
		inode:            pos.Inode,
		observed:         true,
		snapshotSize:     pos.Size,
	}
	if s.ByteOffset > s.LastFileSize {
		s.LastFileSize = s.ByteOffset
	}
	return s
}

// Classify compares the stored state against a fresh observation. Checks run
// in a fixed order and the first match wins: deletion, replacement (identity
// changed), truncation (size shrank), otherwise no change.
func Classify(prev *FileMonitorState, cur Observation) FileChange {
	if !cur.Exists {
		if prev.hasHistory() {
			return ChangeDeleted
		}
		return ChangeNone
	}

	if identityChanged(prev, cur) {
		return ChangeReplaced
	}

	if cur.Size < prev.LastFileSize {
		return ChangeTruncated
	}

	return ChangeNone
}

func identityChanged(prev *FileMonitorState, cur Observation) bool {
	if !prev.LastCreationTime.IsZero() && !cur.CreationTime.IsZero() &&
		!prev.LastCreationTime.Equal(cur.CreationTime) {
		return true
	}
	return prev.inode != 0 && cur.Inode != 0 && prev.inode != cur.Inode
}
