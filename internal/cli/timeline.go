package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/tailer"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/timeline"
)

func newTimelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline <path>",
		Short: "Replay a log and print the milestones it reaches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			statusFlag, _ := cmd.Flags().GetString("status")
			status := tailer.ParseRunStatus(statusFlag)
			if statusFlag != "" && status == tailer.RunStatusNone {
				return fmt.Errorf("invalid status %q: expected succeeded or failed", statusFlag)
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			catalog, err := cfg.Timeline.Catalog()
			if err != nil {
				return err
			}

			t := tailer.New(cfg.Tailer.ToTailer(), logger)
			state, err := replay(cmd.Context(), t, catalog, args[0])
			if err != nil {
				return err
			}
			if status.IsTerminal() {
				state = timeline.SetCompleted(state, status == tailer.RunStatusSucceeded)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(state)
			}
			printTimeline(cmd.OutOrStdout(), state)
			return nil
		},
	}

	cmd.Flags().String("status", "", "Terminal status of the run (succeeded or failed)")
	cmd.Flags().Bool("json", false, "Print the timeline as JSON")
	return cmd
}

// replay reads the whole file through the tailer and feeds it to a fresh timeline
func replay(ctx context.Context, t *tailer.Tailer, catalog *timeline.Catalog, path string) (timeline.State, error) {
	state := tailer.NewState()
	tl := timeline.Create()

	for {
		delta, err := t.ReadDelta(ctx, path, state, tailer.ReadOptions{MaxLines: -1})
		if err != nil {
			return tl, err
		}
		tl = catalog.ProcessLines(tl, delta.Lines)
		if !delta.WasCapped || delta.BytesRead == 0 {
			return tl, nil
		}
	}
}

func printTimeline(out io.Writer, s timeline.State) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tSTATE\tTRIGGER")
	for _, m := range s.Milestones {
		mark := "pending"
		switch {
		case m.IsActive:
			mark = "active"
		case m.IsReached:
			mark = "reached"
		}
		trigger := ""
		if m.TriggerLine != nil {
			trigger = truncate(*m.TriggerLine, 60)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.DisplayName, mark, trigger)
	}
	w.Flush()

	if s.Epoch != nil {
		fmt.Fprintf(out, "\nEpoch %d/%d\n", s.Epoch.Current, s.Epoch.Total)
	}
	if s.Failure != nil {
		fmt.Fprintf(out, "Failure: %s\n", truncate(s.Failure.Line, 80))
	}
	fmt.Fprintf(out, "Reached %d/%d milestones", s.ReachedCount(), len(s.Milestones))
	if s.IsComplete {
		fmt.Fprint(out, " (complete)")
	}
	fmt.Fprintln(out)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
