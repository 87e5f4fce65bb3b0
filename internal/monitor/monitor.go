package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/checkpoint"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/health"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/logging"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/metrics"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/tailer"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/timeline"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/tracing"
)

// Default values
const (
	DefaultCatchUpRate  = 20.0
	DefaultCatchUpBurst = 5
	DefaultUpdateBuffer = 64
)

// StatusFunc reports the producing run's terminal status
type StatusFunc func(ctx context.Context) (tailer.RunStatus, error)

// Config describes one monitored run
type Config struct {
	Name            string
	LogPath         string
	StatusPath      string        // Plain text file holding "succeeded" or "failed"
	ActiveThreshold time.Duration // 0 uses the tailer's threshold
	ReadOptions     tailer.ReadOptions
	PollOnly        bool    // Disable fsnotify wake-ups
	CatchUpRate     float64 // Capped re-reads per second
	CatchUpBurst    int
	UpdateBuffer    int
}

// Deps are the optional collaborators of a Monitor. Nil fields are skipped.
type Deps struct {
	Logger      *logging.Logger
	Checkpoints checkpoint.Store
	Metrics     *metrics.Collector
	Tracer      trace.Tracer
	Status      StatusFunc // Overrides Config.StatusPath
}

// Update is what one poll cycle produced
type Update struct {
	RunName  string                 `json:"run_name"`
	RunID    string                 `json:"run_id"` // Unique per monitor session
	Seq      uint64                 `json:"seq"`
	At       time.Time              `json:"at"`
	Snapshot tailer.LogSnapshot     `json:"snapshot"`
	Delta    tailer.DeltaReadResult `json:"delta"`
	Timeline timeline.State         `json:"timeline"`
	Reached  []timeline.Stage       `json:"reached,omitempty"` // Milestones first reached this cycle
	Final    bool                   `json:"final"`
}

// Monitor polls one run's log, feeds new lines to its timeline, and
// publishes the result after every cycle.
type Monitor struct {
	cfg     Config
	tailer  *tailer.Tailer
	catalog *timeline.Catalog
	deps    Deps
	logger  *logging.Logger
	tracer  trace.Tracer
	id      string
	limiter *rate.Limiter

	// Owned by the polling goroutine
	state    *tailer.FileMonitorState
	tl       timeline.State
	seq      uint64
	finished bool

	mu      sync.RWMutex
	latest  *Update
	lastErr error

	updates chan Update
}

// New creates a monitor. A nil catalog uses the default one.
func New(cfg Config, t *tailer.Tailer, catalog *timeline.Catalog, deps Deps) (*Monitor, error) {
	if cfg.LogPath == "" {
		return nil, errors.New("log path is required")
	}
	if t == nil {
		return nil, errors.New("tailer is required")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.LogPath
	}
	if cfg.CatchUpRate <= 0 {
		cfg.CatchUpRate = DefaultCatchUpRate
	}
	if cfg.CatchUpBurst <= 0 {
		cfg.CatchUpBurst = DefaultCatchUpBurst
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = DefaultUpdateBuffer
	}
	if catalog == nil {
		catalog = timeline.DefaultCatalog()
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("runmonitor")
	}

	id := uuid.NewString()
	m := &Monitor{
		cfg:     cfg,
		tailer:  t,
		catalog: catalog,
		deps:    deps,
		logger:  logging.OrNop(deps.Logger).WithComponent("monitor").WithRun(cfg.Name).WithPath(cfg.LogPath).WithField("run_id", id),
		tracer:  tracer,
		id:      id,
		limiter: rate.NewLimiter(rate.Limit(cfg.CatchUpRate), cfg.CatchUpBurst),
		state:   tailer.NewState(),
		tl:      timeline.Create(),
		updates: make(chan Update, cfg.UpdateBuffer),
	}
	m.restore()

	return m, nil
}

// Name returns the run name
func (m *Monitor) Name() string { return m.cfg.Name }

// ID returns the monitor session id
func (m *Monitor) ID() string { return m.id }

// Updates delivers one Update per cycle. When the reader falls behind, the
// oldest pending update is dropped. The channel is closed when Run returns.
func (m *Monitor) Updates() <-chan Update {
	return m.updates
}

// Latest returns the most recent update
func (m *Monitor) Latest() (Update, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return Update{}, false
	}
	return *m.latest, true
}

// Run polls until ctx is done or the run's terminal update has been
// published. Cycle errors are logged, counted, and reported through Health;
// they do not stop the loop.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.updates)

	if m.deps.Metrics != nil {
		m.deps.Metrics.ActiveMonitors.Inc()
		defer m.deps.Metrics.ActiveMonitors.Dec()
	}

	var wake <-chan struct{}
	if !m.cfg.PollOnly {
		w, err := newWatcher(m.logger, m.cfg.LogPath, m.cfg.StatusPath)
		if err != nil {
			m.logger.Warn().Err(err).Msg("File events unavailable, polling only")
		} else {
			defer w.close()
			go w.run(ctx)
			wake = w.wake
		}
	}

	m.logger.Info().
		Str("log_path", m.cfg.LogPath).
		Str("status_path", m.cfg.StatusPath).
		Msg("Monitor started")

	for {
		interval := m.tailer.Config().MaxPollInterval
		update, err := m.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
		} else {
			if update.Final {
				m.logger.Info().
					Int("milestones", update.Timeline.ReachedCount()).
					Str("status", string(update.Snapshot.Status)).
					Msg("Run finished")
				return nil
			}
			interval = update.Snapshot.RecommendedPollingInterval
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Tick runs one poll cycle: status, snapshot, delta read with catch-up,
// timeline update, publish, checkpoint.
func (m *Monitor) Tick(ctx context.Context) (Update, error) {
	if m.finished {
		u, _ := m.Latest()
		return u, nil
	}

	ctx, span := tracing.TraceTick(ctx, m.tracer, m.cfg.Name, m.id)
	defer span.End()

	runStatus := m.runStatus(ctx)

	snap, err := m.tailer.Snapshot(m.cfg.LogPath, m.state, runStatus, m.cfg.ActiveThreshold)
	if err != nil {
		return Update{}, m.fail(ctx, "snapshot", err)
	}

	delta, err := m.read(ctx, runStatus.IsTerminal())
	if err != nil {
		return Update{}, m.fail(ctx, "read", err)
	}

	// Every line feeds the timeline; the line limit only trims what is
	// published.
	linesRead := len(delta.Lines)
	prev := m.tl
	_, tlSpan := tracing.TraceTimeline(ctx, m.tracer, linesRead)
	m.tl = m.catalog.ProcessLines(m.tl, delta.Lines)
	if runStatus.IsTerminal() && !delta.WasCapped {
		m.tl = timeline.SetCompleted(m.tl, runStatus == tailer.RunStatusSucceeded)
		m.finished = true
	}
	tlSpan.End()

	if limit := m.tailer.LineLimit(m.cfg.ReadOptions); limit > 0 && len(delta.Lines) > limit {
		delta.Lines = delta.Lines[len(delta.Lines)-limit:]
	}

	m.seq++
	update := Update{
		RunName:  m.cfg.Name,
		RunID:    m.id,
		Seq:      m.seq,
		At:       time.Now(),
		Snapshot: snap,
		Delta:    delta,
		Timeline: m.tl,
		Reached:  newlyReached(prev, m.tl),
		Final:    m.finished,
	}

	if delta.WasReset {
		m.logger.Info().
			Str("reason", string(delta.ResetReason)).
			Msg("Log restarted, reading from the beginning")
	}
	for _, stage := range update.Reached {
		m.logger.Info().Str("stage", stage.Identifier()).Msg("Milestone reached")
	}

	tracing.SetAttributes(ctx,
		attribute.String("log.status", string(snap.Status)),
		attribute.Int("line.count", linesRead),
	)

	m.recordMetrics(update, linesRead)
	m.publish(update)

	if delta.BytesRead > 0 || delta.WasReset || len(update.Reached) > 0 || m.finished || m.seq == 1 {
		m.checkpoint()
	}

	return update, nil
}

// read reads the delta. While the byte budget caps the read, it re-reads at
// once as long as the catch-up limiter allows. A finished run no longer
// grows, so it is drained completely.
func (m *Monitor) read(ctx context.Context, drain bool) (tailer.DeltaReadResult, error) {
	var merged tailer.DeltaReadResult

	opts := m.cfg.ReadOptions
	opts.MaxLines = -1

	for {
		rctx, span := tracing.TraceRead(ctx, m.tracer, m.cfg.LogPath, m.state.ByteOffset)
		start := time.Now()
		res, err := m.tailer.ReadDelta(rctx, m.cfg.LogPath, m.state, opts)
		if m.deps.Metrics != nil {
			m.deps.Metrics.ReadDuration.WithLabelValues(m.cfg.Name).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			tracing.RecordError(rctx, err)
			span.End()
			return merged, err
		}
		if res.WasReset {
			tracing.AddEvent(rctx, "log.reset", attribute.String("reason", string(res.ResetReason)))
		}
		span.End()

		merged.Lines = append(merged.Lines, res.Lines...)
		merged.NewOffset = res.NewOffset
		merged.BytesRead += res.BytesRead
		if res.WasReset && !merged.WasReset {
			merged.WasReset = true
			merged.ResetReason = res.ResetReason
		}
		if !merged.WasReset {
			merged.ResetReason = res.ResetReason
		}
		merged.WasCapped = res.WasCapped
		merged.BytesRemaining = res.BytesRemaining

		if m.deps.Metrics != nil && res.WasCapped {
			m.deps.Metrics.CappedReads.WithLabelValues(m.cfg.Name).Inc()
		}

		if !res.WasCapped || res.BytesRead == 0 {
			return merged, nil
		}
		if err := ctx.Err(); err != nil {
			return merged, err
		}
		if !drain && !m.limiter.Allow() {
			return merged, nil
		}
	}
}

func (m *Monitor) runStatus(ctx context.Context) tailer.RunStatus {
	if m.deps.Status != nil {
		status, err := m.deps.Status(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Failed to get run status")
			return tailer.RunStatusNone
		}
		return status
	}
	if m.cfg.StatusPath == "" {
		return tailer.RunStatusNone
	}

	data, err := os.ReadFile(m.cfg.StatusPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn().Err(err).Str("path", m.cfg.StatusPath).Msg("Failed to read status file")
		}
		return tailer.RunStatusNone
	}
	return tailer.ParseRunStatus(string(data))
}

func (m *Monitor) fail(ctx context.Context, operation string, err error) error {
	err = fmt.Errorf("%s %s: %w", operation, m.cfg.LogPath, err)
	tracing.RecordError(ctx, err)

	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()

	if m.deps.Metrics != nil {
		m.deps.Metrics.ReadErrors.WithLabelValues(m.cfg.Name, operation).Inc()
	}
	if ctx.Err() == nil {
		m.logger.Error().Err(err).Str("operation", operation).Msg("Poll cycle failed")
	}
	return err
}

func (m *Monitor) publish(u Update) {
	m.mu.Lock()
	m.latest = &u
	m.lastErr = nil
	m.mu.Unlock()

	for {
		select {
		case m.updates <- u:
			return
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}

func (m *Monitor) recordMetrics(u Update, linesRead int) {
	c := m.deps.Metrics
	if c == nil {
		return
	}
	run := m.cfg.Name

	c.BytesRead.WithLabelValues(run).Add(float64(u.Delta.BytesRead))
	c.LinesRead.WithLabelValues(run).Add(float64(linesRead))
	if u.Delta.WasReset {
		c.Resets.WithLabelValues(run, string(u.Delta.ResetReason)).Inc()
	}
	c.PollInterval.WithLabelValues(run).Set(u.Snapshot.RecommendedPollingInterval.Seconds())
	c.FileSize.WithLabelValues(run).Set(float64(u.Snapshot.FileSizeBytes))
	c.SinceLastWrite.WithLabelValues(run).Set(u.Snapshot.TimeSinceLastUpdate.Seconds())
	c.SetStatus(run, string(u.Snapshot.Status))

	for _, stage := range u.Reached {
		c.MilestonesReached.WithLabelValues(run, stage.Identifier()).Inc()
	}
	c.ActiveStage.WithLabelValues(run).Set(float64(u.Timeline.ActiveIndex))
	if ep := u.Timeline.Epoch; ep != nil {
		c.EpochCurrent.WithLabelValues(run).Set(float64(ep.Current))
		c.EpochTotal.WithLabelValues(run).Set(float64(ep.Total))
	}
}

// checkpoint saves the read position together with the timeline
func (m *Monitor) checkpoint() {
	if m.deps.Checkpoints == nil {
		return
	}
	pos := m.state.Position(m.cfg.LogPath)
	data, err := json.Marshal(m.tl)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to encode timeline")
		return
	}
	pos.State = data
	m.deps.Checkpoints.Update(pos)
}

// restore resumes from a saved position. The tailer still classifies the
// file on the next cycle, so a position saved against an older file is
// discarded there. A position whose timeline cannot be used is deleted and
// the log is read from the start.
func (m *Monitor) restore() {
	if m.deps.Checkpoints == nil {
		return
	}
	pos, ok := m.deps.Checkpoints.Get(m.cfg.LogPath)
	if !ok {
		return
	}

	var tl timeline.State
	err := json.Unmarshal(pos.State, &tl)
	if err == nil && len(tl.Milestones) != len(m.tl.Milestones) {
		err = fmt.Errorf("saved timeline has %d milestones, want %d", len(tl.Milestones), len(m.tl.Milestones))
	}
	if err != nil {
		m.logger.Warn().Err(err).Msg("Discarding checkpoint with an unusable timeline")
		m.deps.Checkpoints.Delete(m.cfg.LogPath)
		return
	}

	m.state = tailer.RestoreState(pos)
	m.tl = tl

	m.logger.Info().
		Uint64("offset", pos.Offset).
		Int("milestones", m.tl.ReachedCount()).
		Msg("Restored from checkpoint")
}

// Health reports the monitor's state: the last cycle failing makes it
// unhealthy, a stale log makes it degraded.
func (m *Monitor) Health() health.ComponentHealth {
	m.mu.RLock()
	latest, lastErr := m.latest, m.lastErr
	m.mu.RUnlock()

	if lastErr != nil {
		return health.ComponentHealth{
			Status:  health.StatusUnhealthy,
			Message: lastErr.Error(),
		}
	}
	if latest == nil {
		return health.ComponentHealth{
			Status:  health.StatusHealthy,
			Message: "waiting for first poll",
		}
	}

	meta := map[string]interface{}{
		"log_status": string(latest.Snapshot.Status),
		"offset":     latest.Delta.NewOffset,
		"milestones": latest.Timeline.ReachedCount(),
	}
	if active, ok := latest.Timeline.Active(); ok {
		meta["active_stage"] = active.Stage.Identifier()
	}

	status := health.StatusHealthy
	if latest.Snapshot.Status == tailer.StatusStale {
		status = health.StatusDegraded
	}
	return health.ComponentHealth{
		Status:   status,
		Message:  string(latest.Snapshot.Status),
		Metadata: meta,
	}
}

func newlyReached(prev, next timeline.State) []timeline.Stage {
	var reached []timeline.Stage
	for i, m := range next.Milestones {
		if !m.IsReached {
			continue
		}
		if i < len(prev.Milestones) && prev.Milestones[i].IsReached {
			continue
		}
		reached = append(reached, m.Stage)
	}
	return reached
}
