package tailer

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seen := func() *FileMonitorState {
		s := NewState()
		s.record(Observation{Exists: true, Size: 100, CreationTime: created, Inode: 42})
		s.ByteOffset = 100
		return s
	}

	tests := []struct {
		name  string
		state *FileMonitorState
		obs   Observation
		want  FileChange
	}{
		{
			name:  "first observation",
			state: NewState(),
			obs:   Observation{Exists: true, Size: 10},
			want:  ChangeNone,
		},
		{
			name:  "missing and never seen",
			state: NewState(),
			obs:   Observation{},
			want:  ChangeNone,
		},
		{
			name:  "append",
			state: seen(),
			obs:   Observation{Exists: true, Size: 150, CreationTime: created, Inode: 42},
			want:  ChangeNone,
		},
		{
			name:  "deleted",
			state: seen(),
			obs:   Observation{},
			want:  ChangeDeleted,
		},
		{
			name:  "new creation time, larger",
			state: seen(),
			obs:   Observation{Exists: true, Size: 500, CreationTime: created.Add(time.Second), Inode: 42},
			want:  ChangeReplaced,
		},
		{
			name:  "new inode, smaller",
			state: seen(),
			obs:   Observation{Exists: true, Size: 5, CreationTime: created, Inode: 43},
			want:  ChangeReplaced,
		},
		{
			name:  "shrunk",
			state: seen(),
			obs:   Observation{Exists: true, Size: 20, CreationTime: created, Inode: 42},
			want:  ChangeTruncated,
		},
		{
			name:  "shrunk with unknown identity",
			state: seen(),
			obs:   Observation{Exists: true, Size: 20},
			want:  ChangeTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.state, tt.obs); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResetClearsPosition(t *testing.T) {
	s := NewState()
	s.record(Observation{Exists: true, Size: 100, ModTime: time.Now(), CreationTime: time.Now(), Inode: 7})
	s.ByteOffset = 80
	s.CurrentPollingInterval = time.Second

	s.Reset()

	if s.ByteOffset != 0 || s.LastFileSize != 0 {
		t.Errorf("Expected offset and size cleared, got %d/%d", s.ByteOffset, s.LastFileSize)
	}
	if !s.LastCreationTime.IsZero() || !s.LastWriteTime.IsZero() {
		t.Error("Expected timestamps cleared")
	}
	if s.hasHistory() {
		t.Error("Reset state should have no history")
	}
	if s.CurrentPollingInterval != time.Second {
		t.Error("Reset should keep the polling interval")
	}
}

func TestPositionRoundTrip(t *testing.T) {
	s := NewState()
	s.record(Observation{Exists: true, Size: 64, CreationTime: time.Unix(1000, 0), Inode: 9})
	s.ByteOffset = 60

	restored := RestoreState(s.Position("/runs/a/train.log"))

	if restored.ByteOffset != 60 || restored.LastFileSize != 64 || restored.inode != 9 {
		t.Errorf("Unexpected restored state: %+v", restored)
	}

	// A different file at the same path must not resume at the old offset.
	got := Classify(restored, Observation{Exists: true, Size: 64, CreationTime: time.Unix(2000, 0), Inode: 10})
	if got != ChangeReplaced {
		t.Errorf("Expected %s for a restored state against a new file, got %s", ChangeReplaced, got)
	}
}
