package types

import (
	"encoding/json"
	"time"
)

// FilePosition is the persisted form of a tailer's per-file state
type FilePosition struct {
	Path          string    `json:"path"`
	Offset        uint64    `json:"offset"`
	Size          uint64    `json:"size"`
	Inode         uint64    `json:"inode,omitempty"`
	CreationTime  time.Time `json:"creation_time,omitempty"`
	LastWriteTime time.Time `json:"last_write_time,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`

	// State is opaque caller data saved with the position, such as the
	// run's timeline.
	State json.RawMessage `json:"state,omitempty"`
}
