package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/timeline"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configPath
}

func TestLoadConfig(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: debug
  format: console

tailer:
  active_threshold: 3s
  stale_threshold: 2m
  max_bytes_per_tick: 1048576
  max_lines: 500

timeline:
  rules:
    - stage: training
      pattern: '\bsgd\s+step\b'

runs:
  - name: resnet
    log_path: /runs/resnet/train.log
    status_path: /runs/resnet/status
  - log_path: /runs/bert-base/train.log

checkpoint:
  enabled: true
  backend: bolt
  path: /tmp/checkpoints
  interval: 10s

metrics:
  enabled: true
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Tailer.ActiveThreshold != 3*time.Second {
		t.Errorf("Expected active threshold 3s, got %v", cfg.Tailer.ActiveThreshold)
	}
	if cfg.Tailer.StaleThreshold != 2*time.Minute {
		t.Errorf("Expected stale threshold 2m, got %v", cfg.Tailer.StaleThreshold)
	}
	if len(cfg.Runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(cfg.Runs))
	}
	if cfg.Runs[1].Name != "bert-base" {
		t.Errorf("Expected run name derived from directory, got %q", cfg.Runs[1].Name)
	}
	if cfg.Checkpoint.Backend != "bolt" || cfg.Checkpoint.Interval != 10*time.Second {
		t.Errorf("Unexpected checkpoint config: %+v", cfg.Checkpoint)
	}
	if cfg.Metrics == nil || cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Expected metrics path default, got %+v", cfg.Metrics)
	}
	if cfg.Watch.CatchUpRate != DefaultCatchUpRate {
		t.Errorf("Expected default catch-up rate, got %v", cfg.Watch.CatchUpRate)
	}

	tc := cfg.Tailer.ToTailer()
	if tc.MaxBytesPerTick != 1<<20 || tc.MaxLines != 500 {
		t.Errorf("Unexpected tailer config: %+v", tc)
	}

	catalog, err := cfg.Timeline.Catalog()
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}
	if stage, ok := catalog.Detect("sgd step 3"); !ok || stage != timeline.StageTraining {
		t.Errorf("Expected extra rule to detect training, got %v %v", stage, ok)
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	t.Setenv("RUN_DIR", "/data/runs/exp1")
	t.Setenv("LOG_LEVEL", "warn")

	configPath := writeConfig(t, `
logging:
  level: ${LOG_LEVEL}
runs:
  - log_path: ${RUN_DIR}/train.log
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected log level warn (from env var), got %s", cfg.Logging.Level)
	}
	if cfg.Runs[0].LogPath != "/data/runs/exp1/train.log" {
		t.Errorf("Expected expanded log path, got %s", cfg.Runs[0].LogPath)
	}
	if cfg.Runs[0].Name != "exp1" {
		t.Errorf("Expected run name exp1, got %s", cfg.Runs[0].Name)
	}
}

func TestConfigValidation(t *testing.T) {
	validRuns := []RunConfig{{Name: "a", LogPath: "/runs/a/train.log"}}

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  &Config{Runs: validRuns},
			wantErr: false,
		},
		{
			name:    "no runs",
			config:  &Config{},
			wantErr: true,
		},
		{
			name:    "run without log path",
			config:  &Config{Runs: []RunConfig{{Name: "a"}}},
			wantErr: true,
		},
		{
			name: "duplicate run names",
			config: &Config{Runs: []RunConfig{
				{Name: "a", LogPath: "/x/train.log"},
				{Name: "a", LogPath: "/y/train.log"},
			}},
			wantErr: true,
		},
		{
			name:    "invalid log level",
			config:  &Config{Runs: validRuns, Logging: LoggingConfig{Level: "invalid"}},
			wantErr: true,
		},
		{
			name:    "invalid log format",
			config:  &Config{Runs: validRuns, Logging: LoggingConfig{Format: "invalid"}},
			wantErr: true,
		},
		{
			name:    "invalid checkpoint backend",
			config:  &Config{Runs: validRuns, Checkpoint: CheckpointConfig{Backend: "redis"}},
			wantErr: true,
		},
		{
			name: "unknown rule stage",
			config: &Config{Runs: validRuns, Timeline: TimelineConfig{
				Rules: []RuleConfig{{Stage: "WARMUP", Pattern: "warm"}},
			}},
			wantErr: true,
		},
		{
			name: "bad rule pattern",
			config: &Config{Runs: validRuns, Timeline: TimelineConfig{
				Rules: []RuleConfig{{Stage: "TRAINING", Pattern: "(unclosed"}},
			}},
			wantErr: true,
		},
		{
			name: "active above stale",
			config: &Config{Runs: validRuns, Tailer: TailerConfig{
				ActiveThreshold: time.Minute,
				StaleThreshold:  time.Second,
			}},
			wantErr: true,
		},
		{
			name:    "sample rate out of range",
			config:  &Config{Runs: validRuns, Tracing: &TracingConfig{Enabled: true, SampleRate: 1.5}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.applyDefaults()
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); !errors.Is(err, ErrNoRuns) {
		t.Errorf("Expected ErrNoRuns for default config, got %v", err)
	}

	cfg.AddRun(RunConfig{LogPath: "/runs/demo/train.log"})
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config with a run should be valid: %v", err)
	}
	if cfg.Runs[0].Name != "demo" {
		t.Errorf("Expected run name demo, got %s", cfg.Runs[0].Name)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("Expected default log level %s, got %s", DefaultLogLevel, cfg.Logging.Level)
	}
	if cfg.Checkpoint.Path != DefaultCheckpointPath {
		t.Errorf("Expected default checkpoint path, got %s", cfg.Checkpoint.Path)
	}
}

func TestServerConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  address: 127.0.0.1:9000
  pprof: true
runs:
  - log_path: /runs/a/train.log
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Server.Address != "127.0.0.1:9000" {
		t.Errorf("Expected address 127.0.0.1:9000, got %s", cfg.Server.Address)
	}
	if !cfg.Server.Pprof {
		t.Error("Expected pprof to be enabled")
	}

	cfg, err = Parse([]byte("runs:\n  - log_path: /runs/a/train.log\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Server.Address != DefaultServerAddress || cfg.Server.Pprof {
		t.Errorf("Unexpected server defaults: %+v", cfg.Server)
	}
}

func TestExampleConfig(t *testing.T) {
	t.Setenv("RUNS_DIR", "/srv/runs")

	cfg, err := Load("../../configs/runmonitor.yaml")
	if err != nil {
		t.Fatalf("Example config does not load: %v", err)
	}
	if len(cfg.Runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(cfg.Runs))
	}
	if cfg.Runs[1].Name != "bert-finetune" {
		t.Errorf("Expected run name from the log directory, got %s", cfg.Runs[1].Name)
	}
	if cfg.Runs[0].LogPath != "/srv/runs/resnet50/train.log" {
		t.Errorf("Expected expanded log path, got %s", cfg.Runs[0].LogPath)
	}

	catalog, err := cfg.Timeline.Catalog()
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}
	if stage, ok := catalog.Detect("global_step = 1200"); !ok || stage != timeline.StageTraining {
		t.Errorf("Expected the extra rule to detect training, got %v %v", stage, ok)
	}
}

func TestTimelineCatalog(t *testing.T) {
	var empty TimelineConfig
	catalog, err := empty.Catalog()
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}
	if catalog != timeline.DefaultCatalog() {
		t.Error("Expected the default catalog when no rules are configured")
	}

	tc := TimelineConfig{Rules: []RuleConfig{
		{Stage: " evaluating ", Pattern: `\bbleu\s*=`},
	}}
	rules, err := tc.TimelineRules()
	if err != nil {
		t.Fatalf("TimelineRules failed: %v", err)
	}
	if len(rules) != 1 || rules[0].Stage != timeline.StageEvaluating || rules[0].Pattern != `\bbleu\s*=` {
		t.Errorf("Unexpected rules: %+v", rules)
	}

	catalog, err = tc.Catalog()
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}
	if stage, ok := catalog.Detect("BLEU = 27.3"); !ok || stage != timeline.StageEvaluating {
		t.Errorf("Expected the configured rule to detect evaluating, got %v %v", stage, ok)
	}
	if stage, ok := catalog.Detect("Epoch 2/5"); !ok || stage != timeline.StageTraining {
		t.Errorf("Expected built-in rules to stay active, got %v %v", stage, ok)
	}
}
