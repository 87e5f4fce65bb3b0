package tailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/logging"
)

// Status describes a log file as seen by one snapshot
type Status string

const (
	StatusNoLogs    Status = "no_logs"
	StatusReceiving Status = "receiving"
	StatusIdle      Status = "idle"
	StatusStale     Status = "stale"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RunStatus is the terminal status of the producing run, known outside the tailer
type RunStatus string

const (
	RunStatusNone      RunStatus = ""
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// ParseRunStatus maps "succeeded"/"failed" (any case, surrounding space
// ignored) to a terminal status. Anything else means the run is still live.
func ParseRunStatus(s string) RunStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(RunStatusSucceeded):
		return RunStatusSucceeded
	case string(RunStatusFailed):
		return RunStatusFailed
	default:
		return RunStatusNone
	}
}

// IsTerminal reports whether the run has finished
func (r RunStatus) IsTerminal() bool {
	return r == RunStatusSucceeded || r == RunStatusFailed
}

// LogSnapshot is a point-in-time view of a log file
type LogSnapshot struct {
	Status                              Status        `json:"status"`
	TimeSinceLastUpdate                 time.Duration `json:"time_since_last_update"`
	LastWriteTime                       time.Time     `json:"last_write_time"`
	FileSizeBytes                       uint64        `json:"file_size_bytes"`
	TotalLineCountEstimate              uint64        `json:"total_line_count_estimate"`
	LinesAddedSinceLastSnapshotEstimate uint64        `json:"lines_added_since_last_snapshot_estimate"`
	FileChange                          FileChange    `json:"file_change"`
	RecommendedPollingInterval          time.Duration `json:"recommended_polling_interval"`
}

// DeltaReadResult holds the complete lines appended since the previous read
type DeltaReadResult struct {
	Lines          []string   `json:"lines"`
	NewOffset      uint64     `json:"new_offset"`
	BytesRead      uint64     `json:"bytes_read"`
	WasReset       bool       `json:"was_reset"`
	ResetReason    FileChange `json:"reset_reason"`
	WasCapped      bool       `json:"was_capped"`
	BytesRemaining uint64     `json:"bytes_remaining"`
}

// ReadOptions bounds a single delta read. Zero values fall back to the
// tailer's configuration.
type ReadOptions struct {
	MaxLines int // negative keeps every line regardless of the configuration
	MaxBytes uint64
}

// Config holds tailer thresholds
type Config struct {
	ActiveThreshold  time.Duration // Younger writes count as receiving
	StaleThreshold   time.Duration // Older writes count as stale
	MinPollInterval  time.Duration
	IdlePollInterval time.Duration
	MaxPollInterval  time.Duration
	MaxBytesPerTick  uint64 // 0 reads everything available
	MaxLines         int    // 0 keeps every line
	MaxTailBytes     uint64
}

// Default values
const (
	DefaultActiveThreshold  = 5 * time.Second
	DefaultStaleThreshold   = 60 * time.Second
	DefaultMinPollInterval  = 500 * time.Millisecond
	DefaultIdlePollInterval = 2 * time.Second
	DefaultMaxPollInterval  = 5 * time.Second
	DefaultMaxBytesPerTick  = 4 << 20
	DefaultMaxTailBytes     = 8 << 20
)

const tailBlockSize = 64 << 10

// DefaultConfig returns the default tailer configuration
func DefaultConfig() Config {
	return Config{
		ActiveThreshold:  DefaultActiveThreshold,
		StaleThreshold:   DefaultStaleThreshold,
		MinPollInterval:  DefaultMinPollInterval,
		IdlePollInterval: DefaultIdlePollInterval,
		MaxPollInterval:  DefaultMaxPollInterval,
		MaxBytesPerTick:  DefaultMaxBytesPerTick,
		MaxTailBytes:     DefaultMaxTailBytes,
	}
}

// Tailer reads growing log files incrementally. It holds configuration only;
// all per-file state lives in the FileMonitorState the caller passes in, so
// one Tailer can serve any number of files.
type Tailer struct {
	config Config
	logger *logging.Logger
	now    func() time.Time
}

// New creates a new Tailer. Zero durations take their defaults.
func New(cfg Config, logger *logging.Logger) *Tailer {
	if cfg.ActiveThreshold <= 0 {
		cfg.ActiveThreshold = DefaultActiveThreshold
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	if cfg.MinPollInterval <= 0 {
		cfg.MinPollInterval = DefaultMinPollInterval
	}
	if cfg.IdlePollInterval <= 0 {
		cfg.IdlePollInterval = DefaultIdlePollInterval
	}
	if cfg.MaxPollInterval <= 0 {
		cfg.MaxPollInterval = DefaultMaxPollInterval
	}
	if cfg.IdlePollInterval < cfg.MinPollInterval {
		cfg.IdlePollInterval = cfg.MinPollInterval
	}
	if cfg.MaxPollInterval < cfg.IdlePollInterval {
		cfg.MaxPollInterval = cfg.IdlePollInterval
	}
	if cfg.MaxTailBytes == 0 {
		cfg.MaxTailBytes = DefaultMaxTailBytes
	}

	return &Tailer{
		config: cfg,
		logger: logging.OrNop(logger).WithComponent("tailer"),
		now:    time.Now,
	}
}

// Config returns the effective configuration
func (t *Tailer) Config() Config {
	return t.config
}

// PollInterval returns the recommended delay before the next poll. Busier
// states never get a longer interval than quieter ones.
func (t *Tailer) PollInterval(status Status) time.Duration {
	switch status {
	case StatusReceiving:
		return t.config.MinPollInterval
	case StatusIdle, StatusNoLogs:
		return t.config.IdlePollInterval
	default:
		return t.config.MaxPollInterval
	}
}

// Snapshot reports the status of the log at path. A terminal run status
// overrides the file's age. Any truncation, replacement, or deletion resets
// state and is reported again by the next ReadDelta.
func (t *Tailer) Snapshot(path string, state *FileMonitorState, runStatus RunStatus, activeThreshold time.Duration) (LogSnapshot, error) {
	if activeThreshold <= 0 {
		activeThreshold = t.config.ActiveThreshold
	}
	now := t.now()

	obs, err := Observe(path)
	if err != nil {
		return LogSnapshot{}, fmt.Errorf("failed to observe log file: %w", err)
	}

	change := Classify(state, obs)
	if change != ChangeNone {
		t.reset(path, state, change)
	}

	snap := LogSnapshot{FileChange: change}

	if obs.Exists {
		snap.FileSizeBytes = obs.Size
		snap.LastWriteTime = obs.ModTime
		snap.TimeSinceLastUpdate = now.Sub(obs.ModTime)
		if snap.TimeSinceLastUpdate < 0 {
			snap.TimeSinceLastUpdate = 0
		}
		snap.TotalLineCountEstimate = state.estimateLines(obs.Size)
		if obs.Size > state.snapshotSize {
			snap.LinesAddedSinceLastSnapshotEstimate = state.estimateLines(obs.Size - state.snapshotSize)
			state.LastActivityTime = now
		}
		state.snapshotSize = obs.Size
		state.record(obs)
	}

	switch {
	case runStatus == RunStatusSucceeded:
		snap.Status = StatusCompleted
	case runStatus == RunStatusFailed:
		snap.Status = StatusFailed
	case !obs.Exists:
		snap.Status = StatusNoLogs
	case snap.TimeSinceLastUpdate < activeThreshold:
		snap.Status = StatusReceiving
	case snap.TimeSinceLastUpdate > t.config.StaleThreshold:
		snap.Status = StatusStale
	default:
		snap.Status = StatusIdle
	}

	snap.RecommendedPollingInterval = t.PollInterval(snap.Status)
	state.CurrentPollingInterval = snap.RecommendedPollingInterval

	return snap, nil
}

// ReadDelta reads the complete lines appended since state.ByteOffset. A
// trailing line without its newline is left for a later call. When more data
// is waiting than the byte budget allows, the result is capped and reports how
// much is left so the caller can poll again at once.
func (t *Tailer) ReadDelta(ctx context.Context, path string, state *FileMonitorState, opts ReadOptions) (DeltaReadResult, error) {
	if err := ctx.Err(); err != nil {
		return DeltaReadResult{}, err
	}

	var result DeltaReadResult

	f, err := openShared(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return result, fmt.Errorf("failed to open log file: %w", err)
		}
		if Classify(state, Observation{}) == ChangeDeleted {
			t.reset(path, state, ChangeDeleted)
		}
		t.applyPendingReset(state, &result)
		return result, nil
	}
	defer f.Close()

	obs, err := observeFile(f)
	if err != nil {
		return result, err
	}

	if change := Classify(state, obs); change != ChangeNone {
		t.reset(path, state, change)
	}
	t.applyPendingReset(state, &result)

	offset := state.ByteOffset
	if obs.Size < offset {
		// Shrunk between classification and here.
		t.reset(path, state, ChangeTruncated)
		t.applyPendingReset(state, &result)
		offset = 0
	}

	budget := opts.MaxBytes
	if budget == 0 {
		budget = t.config.MaxBytesPerTick
	}

	available := obs.Size - offset
	toRead := available
	capped := false
	if budget > 0 && available > budget {
		toRead = budget
		capped = true
	}

	buf := make([]byte, toRead)
	n, err := f.ReadAt(buf, int64(offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return result, fmt.Errorf("failed to read log file: %w", err)
	}
	buf = buf[:n]

	lines, consumed := splitComplete(buf, capped && uint64(n) == toRead)

	if limit := t.LineLimit(opts); limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	state.record(obs)
	state.ByteOffset = offset + consumed
	if consumed > 0 {
		state.LastActivityTime = t.now()
		state.bytesSeen += consumed
		state.linesSeen += uint64(strings.Count(string(buf[:consumed]), "\n"))
	}

	result.Lines = lines
	result.NewOffset = state.ByteOffset
	result.BytesRead = consumed
	if capped {
		result.WasCapped = true
		result.BytesRemaining = obs.Size - state.ByteOffset
	}

	return result, nil
}

// LineLimit returns how many lines a read with opts keeps; 0 means all
func (t *Tailer) LineLimit(opts ReadOptions) int {
	switch {
	case opts.MaxLines < 0:
		return 0
	case opts.MaxLines > 0:
		return opts.MaxLines
	default:
		return t.config.MaxLines
	}
}

// ReadTail returns the last lineCount lines of path and the file's size. It
// does not use or change any FileMonitorState. A final line without a
// trailing newline is included.
func (t *Tailer) ReadTail(ctx context.Context, path string, lineCount int) ([]string, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	f, err := openShared(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat log file: %w", err)
	}
	size := uint64(fi.Size())
	if size == 0 || lineCount <= 0 {
		return nil, size, nil
	}

	var lower uint64
	if size > t.config.MaxTailBytes {
		lower = size - t.config.MaxTailBytes
	}

	var chunk []byte
	newlines := 0
	pos := size
	for pos > lower && newlines <= lineCount {
		n := uint64(tailBlockSize)
		if pos-lower < n {
			n = pos - lower
		}
		pos -= n

		block := make([]byte, n)
		read, err := f.ReadAt(block, int64(pos))
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, size, fmt.Errorf("failed to read log file: %w", err)
		}
		block = block[:read]

		newlines += bytes.Count(block, []byte{'\n'})
		chunk = append(block, chunk...)
	}

	body := strings.TrimSuffix(string(chunk), "\n")
	if body == "" && len(chunk) == 0 {
		return nil, size, nil
	}
	parts := strings.Split(body, "\n")
	if pos > 0 && len(parts) > 0 && !lineStartsAt(f, pos) {
		parts = parts[1:]
	}
	if len(parts) > lineCount {
		parts = parts[len(parts)-lineCount:]
	}
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\r")
	}

	return parts, size, nil
}

// lineStartsAt reports whether the byte before pos ends a line
func lineStartsAt(r io.ReaderAt, pos uint64) bool {
	if pos == 0 {
		return true
	}
	prev := make([]byte, 1)
	if _, err := r.ReadAt(prev, int64(pos-1)); err != nil {
		return false
	}
	return prev[0] == '\n'
}

// FollowOffset returns where a reader that printed the tail of a file of
// the given size should continue: size when the file ends with a newline,
// otherwise the start of the unterminated final line so it is read again
// once complete. The backwards scan stops at MaxTailBytes.
func (t *Tailer) FollowOffset(path string, size uint64) (uint64, error) {
	if size == 0 {
		return 0, nil
	}
	f, err := openShared(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	var lower uint64
	if size > t.config.MaxTailBytes {
		lower = size - t.config.MaxTailBytes
	}

	block := make([]byte, tailBlockSize)
	pos := size
	for pos > lower {
		n := uint64(tailBlockSize)
		if pos-lower < n {
			n = pos - lower
		}
		pos -= n

		read, err := f.ReadAt(block[:n], int64(pos))
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("failed to read log file: %w", err)
		}
		if i := bytes.LastIndexByte(block[:read], '\n'); i >= 0 {
			return pos + uint64(i) + 1, nil
		}
	}
	return pos, nil
}

func (t *Tailer) reset(path string, state *FileMonitorState, reason FileChange) {
	t.logger.Info().
		Str("path", path).
		Str("reason", string(reason)).
		Uint64("offset", state.ByteOffset).
		Msg("Log file reset detected, restarting from offset 0")
	state.markReset(reason)
}

func (t *Tailer) applyPendingReset(state *FileMonitorState, result *DeltaReadResult) {
	if reason := state.takePendingReset(); reason != ChangeNone {
		result.WasReset = true
		result.ResetReason = reason
	} else if !result.WasReset {
		result.ResetReason = ChangeNone
	}
}

// splitComplete splits buf into lines, keeping only those terminated by a
// newline. consumed is the number of bytes the returned lines cover. When
// force is set and buf holds no newline at all, the whole buffer is returned
// as one line so a line longer than the read budget cannot stall the reader.
func splitComplete(buf []byte, force bool) ([]string, uint64) {
	idx := bytes.LastIndexByte(buf, '\n')
	if idx < 0 {
		if force && len(buf) > 0 {
			return []string{strings.TrimSuffix(string(buf), "\r")}, uint64(len(buf))
		}
		return nil, 0
	}

	complete := buf[:idx]
	parts := strings.Split(string(complete), "\n")
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\r")
	}
	return parts, uint64(idx + 1)
}
