package main

import (
	"fmt"
	"io"
	"os"
)

// runLog is the log file of the fake run. Lines are written unbuffered so a
// tailer sees them as soon as they are produced.
type runLog struct {
	path string
	f    *os.File
}

func newRunLog(path string) (*runLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log: %w", err)
	}
	return &runLog{path: path, f: f}, nil
}

func (l *runLog) WriteLine(line string) (int, error) {
	n, err := io.WriteString(l.f, line+"\n")
	if err != nil {
		return n, fmt.Errorf("failed to write log: %w", err)
	}
	return n, nil
}

// Truncate empties the file in place, keeping its identity
func (l *runLog) Truncate() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate log: %w", err)
	}
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind log: %w", err)
	}
	return nil
}

// Replace renames a fresh file over the log, the way log rotation does
func (l *runLog) Replace() error {
	tmp := l.path + ".new"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create replacement log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		f.Close()
		return fmt.Errorf("failed to replace log: %w", err)
	}
	l.f.Close()
	l.f = f
	return nil
}

func (l *runLog) Close() error {
	return l.f.Close()
}
