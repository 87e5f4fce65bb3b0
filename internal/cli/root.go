package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/config"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/logging"
)

var version = "dev"

// SetVersion sets the version reported by the version command
func SetVersion(v string) {
	version = v
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "runmonitor",
		Short: "Follow training runs through their logs",
		Long: `runmonitor tails the log files of long-running jobs, survives truncation,
replacement and deletion of those files, and turns what the job prints into a
milestone timeline: starting, loading data, training, evaluating, writing
artifacts, completed.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "Path to configuration file")
	root.PersistentFlags().String("log-level", "", "Override the configured log level")

	root.AddCommand(newWatchCmd())
	root.AddCommand(newTailCmd())
	root.AddCommand(newTimelineCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "runmonitor %s\n", version)
		},
	}
}

// loadConfig reads --config when given, otherwise starts from defaults.
// Runs are not validated here; the caller may still add one from flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg := config.DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if cfg, err = config.Parse(data); err != nil {
			return nil, err
		}
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) *logging.Logger {
	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: out,
	})
	logging.SetGlobal(logger)
	return logger
}
