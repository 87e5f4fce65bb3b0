package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/checkpoint"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/config"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/health"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/logging"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/metrics"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/monitor"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/reliability"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/server"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/tailer"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/tracing"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow runs until they finish, printing milestones as they are reached",
		Long: `Follow every run in the configuration file, or a single run given with --log.
A run finishes once its status file reports succeeded or failed and the log
has been read to the end.`,
		RunE: runWatch,
	}

	cmd.Flags().String("log", "", "Log file of a single run to follow")
	cmd.Flags().String("status", "", "Status file of the run given with --log")
	cmd.Flags().String("name", "", "Name of the run given with --log")
	cmd.Flags().Bool("json", false, "Print every update as a JSON line")
	cmd.Flags().Bool("poll-only", false, "Do not use file system notifications")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if logPath, _ := cmd.Flags().GetString("log"); logPath != "" {
		name, _ := cmd.Flags().GetString("name")
		statusPath, _ := cmd.Flags().GetString("status")
		cfg.AddRun(config.RunConfig{Name: name, LogPath: logPath, StatusPath: statusPath})
	}
	if pollOnly, _ := cmd.Flags().GetBool("poll-only"); pollOnly {
		cfg.Watch.PollOnly = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg, cmd.ErrOrStderr())
	asJSON, _ := cmd.Flags().GetBool("json")

	shutdownMgr := shutdown.New(shutdown.Config{Logger: logger})

	// Tracing
	tracingCfg := tracing.Config{}
	if cfg.Tracing != nil {
		tracingCfg = tracing.Config{
			Enabled:    cfg.Tracing.Enabled,
			Endpoint:   cfg.Tracing.Endpoint,
			SampleRate: cfg.Tracing.SampleRate,
		}
	}
	tracer, err := tracing.NewProvider(cmd.Context(), tracingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	shutdownMgr.RegisterFunc("tracing", tracer.Shutdown)

	// Checkpoints
	var store checkpoint.Store
	if cfg.Checkpoint.Enabled {
		store, err = openCheckpoints(cmd.Context(), cfg.Checkpoint, logger)
		if err != nil {
			return fmt.Errorf("failed to open checkpoint store: %w", err)
		}
		if err := store.Load(); err != nil {
			logger.Warn().Err(err).Msg("Failed to load checkpoints, starting fresh")
		}
		store.Start()
		shutdownMgr.RegisterFunc("checkpoint", func(ctx context.Context) error {
			return store.Stop()
		})
	}

	catalog, err := cfg.Timeline.Catalog()
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	checker := health.NewChecker(healthTimeout(cfg))
	t := tailer.New(cfg.Tailer.ToTailer(), logger)

	monitors := make([]*monitor.Monitor, 0, len(cfg.Runs))
	for _, run := range cfg.Runs {
		m, err := monitor.New(monitor.Config{
			Name:            run.Name,
			LogPath:         run.LogPath,
			StatusPath:      run.StatusPath,
			ActiveThreshold: run.ActiveThreshold,
			PollOnly:        cfg.Watch.PollOnly,
			CatchUpRate:     cfg.Watch.CatchUpRate,
			CatchUpBurst:    cfg.Watch.CatchUpBurst,
			UpdateBuffer:    cfg.Watch.UpdateBuffer,
		}, t, catalog, monitor.Deps{
			Logger:      logger,
			Checkpoints: store,
			Metrics:     collector,
			Tracer:      tracer.Tracer(),
		})
		if err != nil {
			return fmt.Errorf("run %s: %w", run.Name, err)
		}
		checker.RegisterReporter(run.Name, m)
		monitors = append(monitors, m)
	}

	// HTTP endpoints
	metricsOn := cfg.Metrics != nil && cfg.Metrics.Enabled
	healthOn := cfg.Health != nil && cfg.Health.Enabled
	if metricsOn || healthOn || cfg.Server.Pprof {
		srvCfg := server.Config{
			Address: cfg.Server.Address,
			Runs:    latestRuns(monitors),
			Pprof:   cfg.Server.Pprof,
			Logger:  logger,
		}
		if metricsOn {
			srvCfg.MetricsPath = cfg.Metrics.Path
			srvCfg.MetricsRegistry = collector.Registry()
		}
		if healthOn {
			srvCfg.HealthChecker = checker
		}
		srv := server.New(srvCfg)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		shutdownMgr.RegisterFunc("server", srv.Stop)
	}

	// Monitors stop first: they are registered last.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p := &printer{out: cmd.OutOrStdout(), json: asJSON}
	var wg sync.WaitGroup
	for _, m := range monitors {
		wg.Add(2)
		go func(m *monitor.Monitor) {
			defer wg.Done()
			if err := m.Run(ctx); err != nil {
				logger.Error().Err(err).Str("run", m.Name()).Msg("Monitor stopped")
			}
		}(m)
		go func(m *monitor.Monitor) {
			defer wg.Done()
			p.follow(m.Updates())
		}(m)
	}

	runsDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(runsDone)
	}()

	shutdownMgr.RegisterFunc("monitors", func(sctx context.Context) error {
		cancel()
		select {
		case <-runsDone:
			return nil
		case <-sctx.Done():
			return sctx.Err()
		}
	})

	logger.Info().Int("runs", len(monitors)).Msg("Watching runs")

	waitCtx, stopWaiting := context.WithCancel(cmd.Context())
	defer stopWaiting()
	go func() {
		select {
		case <-runsDone:
			stopWaiting()
		case <-waitCtx.Done():
		}
	}()

	shutdownMgr.WaitForSignal(waitCtx)
	return shutdownMgr.Shutdown()
}

// openCheckpoints retries while another process still holds the store,
// which happens when a previous instance is shutting down.
func openCheckpoints(ctx context.Context, cfg config.CheckpointConfig, logger *logging.Logger) (checkpoint.Store, error) {
	if cfg.Backend != checkpoint.BackendBolt {
		return checkpoint.Open(cfg.Backend, cfg.Path, cfg.Interval, logger)
	}

	var store checkpoint.Store
	err := reliability.Retry(ctx, reliability.RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Jitter:         true,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("Checkpoint store busy, retrying")
		},
	}, func(ctx context.Context) error {
		var err error
		store, err = checkpoint.Open(cfg.Backend, cfg.Path, cfg.Interval, logger)
		return err
	})
	return store, err
}

func healthTimeout(cfg *config.Config) time.Duration {
	if cfg.Health != nil && cfg.Health.Timeout > 0 {
		return cfg.Health.Timeout
	}
	return config.DefaultHealthTimeout
}

// latestRuns lists the most recent update of every run that has polled at
// least once, ordered by run name.
func latestRuns(monitors []*monitor.Monitor) server.RunsFunc {
	return func() any {
		runs := make([]monitor.Update, 0, len(monitors))
		for _, m := range monitors {
			if u, ok := m.Latest(); ok {
				runs = append(runs, u)
			}
		}
		sort.Slice(runs, func(i, j int) bool { return runs[i].RunName < runs[j].RunName })
		return runs
	}
}

// printer writes run transitions to the terminal. It is shared by every
// run's update loop.
type printer struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
}

func (p *printer) follow(updates <-chan monitor.Update) {
	var last tailer.Status
	for u := range updates {
		p.print(u, last)
		last = u.Snapshot.Status
	}
}

func (p *printer) print(u monitor.Update, lastStatus tailer.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		data, err := json.Marshal(u)
		if err != nil {
			return
		}
		fmt.Fprintln(p.out, string(data))
		return
	}

	ts := u.At.Format("15:04:05")
	if u.Delta.WasReset {
		fmt.Fprintf(p.out, "%s [%s] log %s, reading from the start\n", ts, u.RunName, u.Delta.ResetReason)
	}
	if u.Snapshot.Status != lastStatus {
		fmt.Fprintf(p.out, "%s [%s] log %s\n", ts, u.RunName, u.Snapshot.Status)
	}
	for _, stage := range u.Reached {
		line := ""
		if m, ok := u.Timeline.Milestone(stage); ok && m.TriggerLine != nil {
			line = ": " + truncate(*m.TriggerLine, 60)
		}
		fmt.Fprintf(p.out, "%s [%s] %s%s\n", ts, u.RunName, stage.DisplayName(), line)
	}
	if u.Final {
		outcome := "finished"
		if u.Snapshot.Status == tailer.StatusFailed {
			outcome = "failed"
		}
		fmt.Fprintf(p.out, "%s [%s] %s, %d/%d milestones reached\n",
			ts, u.RunName, outcome, u.Timeline.ReachedCount(), len(u.Timeline.Milestones))
	}
}
