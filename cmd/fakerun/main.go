// Command fakerun imitates a training job: it writes a log at a steady rate,
// optionally truncates or replaces it mid-run, and reports the outcome in a
// status file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/logging"
)

var (
	logPath        = flag.String("log", "run/train.log", "Log file to write")
	statusPath     = flag.String("status", "", "Status file written when the run ends (default: status next to the log)")
	rate           = flag.Float64("rate", 20, "Lines per second")
	epochs         = flag.Int("epochs", 5, "Number of epochs")
	stepsPerEpoch  = flag.Int("steps", 10, "Progress lines per epoch")
	tokens         = flag.Bool("tokens", false, "Emit [RF:STAGE=...] and [RF:EPOCH=...] tokens")
	truncateAt     = flag.Int("truncate-at", 0, "Truncate the log before this epoch")
	replaceAt      = flag.Int("replace-at", 0, "Replace the log with a new file before this epoch")
	failAt         = flag.Int("fail-at", 0, "Crash during this epoch")
	seed           = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	reportInterval = flag.Int("interval", 5, "Report interval in seconds")
)

// Stats tracks what has been written
type Stats struct {
	linesWritten uint64
	bytesWritten uint64
	resets       uint64
	startTime    time.Time
}

func (s *Stats) Report() {
	elapsed := time.Since(s.startTime).Seconds()
	lines := atomic.LoadUint64(&s.linesWritten)

	fmt.Printf("\n=== Fake Run Statistics ===\n")
	fmt.Printf("Duration: %.2f seconds\n", elapsed)
	fmt.Printf("Lines Written: %d (%.1f/sec)\n", lines, float64(lines)/elapsed)
	fmt.Printf("Bytes Written: %d\n", atomic.LoadUint64(&s.bytesWritten))
	fmt.Printf("Resets: %d\n", atomic.LoadUint64(&s.resets))
	fmt.Printf("===========================\n\n")
}

func main() {
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  "info",
		Format: "console",
	})

	if *statusPath == "" {
		*statusPath = filepath.Join(filepath.Dir(*logPath), "status")
	}

	fmt.Printf("Starting fake run...\n")
	fmt.Printf("Log: %s\n", *logPath)
	fmt.Printf("Status: %s\n", *statusPath)
	fmt.Printf("Rate: %.1f lines/sec\n", *rate)
	fmt.Printf("Epochs: %d x %d steps\n\n", *epochs, *stepsPerEpoch)

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *logging.Logger) error {
	lineEvery, err := writeInterval(*rate)
	if err != nil {
		return err
	}
	statsEvery, err := reportEvery(*reportInterval)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	steps, success := buildScript(scriptOptions{
		Epochs:        *epochs,
		StepsPerEpoch: *stepsPerEpoch,
		Tokens:        *tokens,
		TruncateAt:    *truncateAt,
		ReplaceAt:     *replaceAt,
		FailAt:        *failAt,
		Seed:          *seed,
	})

	if err := os.MkdirAll(filepath.Dir(*logPath), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	// A status left over from an earlier run would end the new one at once.
	if err := os.Remove(*statusPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear status file: %w", err)
	}

	w, err := newRunLog(*logPath)
	if err != nil {
		return err
	}
	defer w.Close()

	stats := &Stats{startTime: time.Now()}

	go func() {
		ticker := time.NewTicker(statsEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats.Report()
			}
		}
	}()

	ticker := time.NewTicker(lineEvery)
	defer ticker.Stop()

	for _, st := range steps {
		switch st.action {
		case actionTruncate:
			if err := w.Truncate(); err != nil {
				return err
			}
			atomic.AddUint64(&stats.resets, 1)
			logger.Info().Str("path", *logPath).Msg("Log truncated")
			continue
		case actionReplace:
			if err := w.Replace(); err != nil {
				return err
			}
			atomic.AddUint64(&stats.resets, 1)
			logger.Info().Str("path", *logPath).Msg("Log replaced")
			continue
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("Interrupted, leaving the run unfinished")
			stats.Report()
			return nil
		case <-ticker.C:
		}

		n, err := w.WriteLine(st.line)
		if err != nil {
			return err
		}
		atomic.AddUint64(&stats.linesWritten, 1)
		atomic.AddUint64(&stats.bytesWritten, uint64(n))
	}

	status := "succeeded"
	if !success {
		status = "failed"
	}
	if err := os.WriteFile(*statusPath, []byte(status+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}
	logger.Info().Str("status", status).Msg("Run finished")

	stats.Report()
	return nil
}

// writeInterval is the time between lines at rate lines per second
func writeInterval(rate float64) (time.Duration, error) {
	if !(rate > 0) {
		return 0, errors.New("rate must be positive")
	}
	d := time.Duration(float64(time.Second) / rate)
	if d <= 0 {
		return 0, fmt.Errorf("rate %g is above one line per nanosecond", rate)
	}
	return d, nil
}

// reportEvery is the time between statistics reports
func reportEvery(seconds int) (time.Duration, error) {
	if seconds <= 0 {
		return 0, errors.New("interval must be positive")
	}
	return time.Duration(seconds) * time.Second, nil
}
