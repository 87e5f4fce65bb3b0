package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/logging"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/tailer"
)

func newTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail <path>",
		Short: "Print the last lines of a log, optionally following it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			lines, _ := cmd.Flags().GetInt("lines")
			follow, _ := cmd.Flags().GetBool("follow")

			t := tailer.New(cfg.Tailer.ToTailer(), logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runTail(ctx, t, args[0], lines, follow, cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().IntP("lines", "n", 10, "Number of lines to print")
	cmd.Flags().BoolP("follow", "f", false, "Keep printing lines as they are appended")
	return cmd
}

func runTail(ctx context.Context, t *tailer.Tailer, path string, n int, follow bool, out io.Writer, logger *logging.Logger) error {
	lines, size, err := t.ReadTail(ctx, path, n)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	if !follow {
		return nil
	}

	// Start following from where the tail's last complete line ended. The
	// snapshot records the file's identity so a later replacement is
	// detected.
	start, err := t.FollowOffset(path, size)
	if err != nil {
		return err
	}
	state := tailer.NewState()
	snap, err := t.Snapshot(path, state, tailer.RunStatusNone, 0)
	if err != nil {
		return err
	}
	if start <= snap.FileSizeBytes {
		state.ByteOffset = start
	}

	for {
		delta, err := t.ReadDelta(ctx, path, state, tailer.ReadOptions{})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if delta.WasReset {
			logger.Info().Str("reason", string(delta.ResetReason)).Msg("Log restarted")
		}
		for _, line := range delta.Lines {
			fmt.Fprintln(out, line)
		}

		interval := t.Config().MinPollInterval
		if !delta.WasCapped {
			if snap, err = t.Snapshot(path, state, tailer.RunStatusNone, 0); err != nil {
				return err
			}
			interval = snap.RecommendedPollingInterval
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
