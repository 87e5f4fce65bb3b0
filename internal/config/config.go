package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/tailer"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/timeline"
)

// ErrNoRuns is returned by Validate when no run is configured
var ErrNoRuns = errors.New("at least one run must be configured")

// Config represents the main configuration
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Tailer     TailerConfig     `yaml:"tailer"`
	Timeline   TimelineConfig   `yaml:"timeline"`
	Runs       []RunConfig      `yaml:"runs"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Watch      WatchConfig      `yaml:"watch"`
	Server     ServerConfig     `yaml:"server"`
	Metrics    *MetricsConfig   `yaml:"metrics,omitempty"`
	Health     *HealthConfig    `yaml:"health,omitempty"`
	Tracing    *TracingConfig   `yaml:"tracing,omitempty"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// TailerConfig holds thresholds and limits for log reading. Zero values
// fall back to the tailer's defaults.
type TailerConfig struct {
	ActiveThreshold  time.Duration `yaml:"active_threshold,omitempty"`
	StaleThreshold   time.Duration `yaml:"stale_threshold,omitempty"`
	MinPollInterval  time.Duration `yaml:"min_poll_interval,omitempty"`
	IdlePollInterval time.Duration `yaml:"idle_poll_interval,omitempty"`
	MaxPollInterval  time.Duration `yaml:"max_poll_interval,omitempty"`
	MaxBytesPerTick  uint64        `yaml:"max_bytes_per_tick,omitempty"`
	MaxLines         int           `yaml:"max_lines,omitempty"`
	MaxTailBytes     uint64        `yaml:"max_tail_bytes,omitempty"`
}

// TimelineConfig adds detection patterns on top of the built-in catalog
type TimelineConfig struct {
	Rules []RuleConfig `yaml:"rules,omitempty"`
}

// RuleConfig is one extra detection pattern. Stage is a stage identifier
// such as TRAINING; case is ignored.
type RuleConfig struct {
	Stage   string `yaml:"stage"`
	Pattern string `yaml:"pattern"`
}

// RunConfig describes one monitored run
type RunConfig struct {
	Name            string        `yaml:"name"`
	LogPath         string        `yaml:"log_path"`
	StatusPath      string        `yaml:"status_path,omitempty"`
	ActiveThreshold time.Duration `yaml:"active_threshold,omitempty"`
}

// CheckpointConfig controls offset persistence
type CheckpointConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Backend  string        `yaml:"backend"` // json or bolt
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
}

// WatchConfig controls how the monitor waits between polls
type WatchConfig struct {
	PollOnly     bool    `yaml:"poll_only"`      // disable fsnotify wake-ups
	CatchUpRate  float64 `yaml:"catch_up_rate"`  // capped re-reads per second
	CatchUpBurst int     `yaml:"catch_up_burst"` // re-reads allowed back to back
	UpdateBuffer int     `yaml:"update_buffer"`  // updates kept for a slow subscriber
}

// ServerConfig holds the HTTP listener for metrics, health and run state
type ServerConfig struct {
	Address string `yaml:"address"`
	Pprof   bool   `yaml:"pprof"` // expose /debug/pprof/ on the same listener
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint,omitempty"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// Default values
const (
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultCheckpointBackend  = "json"
	DefaultCheckpointPath     = "/var/lib/runmonitor/checkpoints"
	DefaultCheckpointInterval = 5 * time.Second
	DefaultCatchUpRate        = 20.0
	DefaultCatchUpBurst       = 5
	DefaultUpdateBuffer       = 64
	DefaultServerAddress      = ":9464"
	DefaultMetricsPath        = "/metrics"
	DefaultHealthTimeout      = 5 * time.Second
)

// Load loads configuration from a YAML file with environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML with ${VAR} expansion and applies defaults. It does
// not validate, so callers can add runs from flags first.
func Parse(data []byte) (*Config, error) {
	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = DefaultCheckpointBackend
	}
	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = DefaultCheckpointPath
	}
	if c.Checkpoint.Interval == 0 {
		c.Checkpoint.Interval = DefaultCheckpointInterval
	}

	if c.Watch.CatchUpRate == 0 {
		c.Watch.CatchUpRate = DefaultCatchUpRate
	}
	if c.Watch.CatchUpBurst == 0 {
		c.Watch.CatchUpBurst = DefaultCatchUpBurst
	}
	if c.Watch.UpdateBuffer == 0 {
		c.Watch.UpdateBuffer = DefaultUpdateBuffer
	}

	if c.Server.Address == "" {
		c.Server.Address = DefaultServerAddress
	}
	if c.Metrics != nil && c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Health != nil && c.Health.Timeout == 0 {
		c.Health.Timeout = DefaultHealthTimeout
	}

	for i := range c.Runs {
		c.Runs[i].applyDefaults()
	}
}

func (r *RunConfig) applyDefaults() {
	if r.Name == "" && r.LogPath != "" {
		r.Name = filepath.Base(filepath.Dir(r.LogPath))
	}
}

// AddRun appends a run and fills its defaults
func (c *Config) AddRun(run RunConfig) {
	run.applyDefaults()
	c.Runs = append(c.Runs, run)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Runs) == 0 {
		return ErrNoRuns
	}

	names := make(map[string]bool, len(c.Runs))
	for i, run := range c.Runs {
		if run.LogPath == "" {
			return fmt.Errorf("run %d has no log_path configured", i)
		}
		if names[run.Name] {
			return fmt.Errorf("duplicate run name: %s", run.Name)
		}
		names[run.Name] = true
		if run.ActiveThreshold < 0 {
			return fmt.Errorf("run %s: active_threshold must not be negative", run.Name)
		}
	}

	if _, err := c.Timeline.Catalog(); err != nil {
		return fmt.Errorf("invalid timeline rules: %w", err)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	validBackends := map[string]bool{
		"json": true, "bolt": true,
	}
	if !validBackends[c.Checkpoint.Backend] {
		return fmt.Errorf("invalid checkpoint backend: %s", c.Checkpoint.Backend)
	}

	if c.Tailer.StaleThreshold > 0 && c.Tailer.ActiveThreshold > c.Tailer.StaleThreshold {
		return fmt.Errorf("tailer.active_threshold (%s) exceeds tailer.stale_threshold (%s)",
			c.Tailer.ActiveThreshold, c.Tailer.StaleThreshold)
	}

	if c.Watch.CatchUpRate < 0 {
		return fmt.Errorf("watch.catch_up_rate must not be negative")
	}

	if c.Tracing != nil && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}

	return nil
}

// ToTailer converts the section into a tailer.Config
func (t TailerConfig) ToTailer() tailer.Config {
	return tailer.Config{
		ActiveThreshold:  t.ActiveThreshold,
		StaleThreshold:   t.StaleThreshold,
		MinPollInterval:  t.MinPollInterval,
		IdlePollInterval: t.IdlePollInterval,
		MaxPollInterval:  t.MaxPollInterval,
		MaxBytesPerTick:  t.MaxBytesPerTick,
		MaxLines:         t.MaxLines,
		MaxTailBytes:     t.MaxTailBytes,
	}
}

// TimelineRules converts the configured patterns into timeline rules
func (t TimelineConfig) TimelineRules() ([]timeline.Rule, error) {
	rules := make([]timeline.Rule, 0, len(t.Rules))
	for i, rc := range t.Rules {
		stage, ok := timeline.ParseStage(strings.ToUpper(strings.TrimSpace(rc.Stage)))
		if !ok {
			return nil, fmt.Errorf("timeline rule %d: unknown stage %q", i, rc.Stage)
		}
		rules = append(rules, timeline.Rule{Stage: stage, Pattern: rc.Pattern})
	}
	return rules, nil
}

// Catalog builds the detection catalog: the configured rules on top of the
// built-in ones.
func (t TimelineConfig) Catalog() (*timeline.Catalog, error) {
	rules, err := t.TimelineRules()
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return timeline.DefaultCatalog(), nil
	}
	return timeline.NewCatalog(rules)
}

// DefaultConfig returns a configuration with every default applied and no
// runs.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
