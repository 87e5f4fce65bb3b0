package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/timeline"
)

// executeCommand runs the command tree and returns what it wrote to stdout.
// Log output goes to a separate buffer.
func executeCommand(args ...string) (string, error) {
	root := NewRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

const trainingLog = `Starting run 42
Loading dataset from /data/cifar10
Epoch 1/3 loss=2.30
Epoch 2/3 loss=1.10
Epoch 3/3 loss=0.70
Evaluating model on the test split
Saving model artifacts to /out
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	defer SetVersion("dev")

	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, sub := range []string{"watch", "tail", "timeline", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q", sub)
		}
	}
}

func TestTailCommand(t *testing.T) {
	path := writeFile(t, t.TempDir(), "train.log", "one\ntwo\nthree\nfour\nfive\n")

	out, err := executeCommand("tail", path, "-n", "2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "four\nfive\n" {
		t.Errorf("unexpected tail output: %q", out)
	}
}

func TestTailMissingFile(t *testing.T) {
	out, err := executeCommand("tail", filepath.Join(t.TempDir(), "missing.log"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "" {
		t.Errorf("expected no output, got %q", out)
	}
}

func TestTailRequiresPath(t *testing.T) {
	if _, err := executeCommand("tail"); err == nil {
		t.Error("expected an error without a path")
	}
}

func TestTimelineCommand(t *testing.T) {
	path := writeFile(t, t.TempDir(), "train.log", trainingLog)

	out, err := executeCommand("timeline", path, "--status", "succeeded")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"Loading dataset",
		"Writing artifacts",
		"Epoch 3/3",
		"Reached 6/6 milestones (complete)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestTimelineCommandJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "train.log", trainingLog)

	out, err := executeCommand("timeline", path, "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var state timeline.State
	if err := json.Unmarshal([]byte(out), &state); err != nil {
		t.Fatalf("failed to decode output: %v\n%s", err, out)
	}
	if state.IsComplete {
		t.Error("timeline should not be complete without a status")
	}
	if state.Epoch == nil || state.Epoch.Current != 3 || state.Epoch.Total != 3 {
		t.Errorf("unexpected epoch: %+v", state.Epoch)
	}
	if got := state.ReachedCount(); got != 5 {
		t.Errorf("expected 5 milestones reached, got %d", got)
	}
}

func TestTimelineInvalidStatus(t *testing.T) {
	path := writeFile(t, t.TempDir(), "train.log", trainingLog)

	if _, err := executeCommand("timeline", path, "--status", "maybe"); err == nil {
		t.Error("expected an error for an unknown status")
	}
}

func TestWatchFinishedRun(t *testing.T) {
	dir := t.TempDir()
	logPath := writeFile(t, dir, "train.log", trainingLog)
	statusPath := writeFile(t, dir, "status", "succeeded\n")

	out, err := executeCommand("watch",
		"--log", logPath,
		"--status", statusPath,
		"--name", "exp",
		"--poll-only",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"[exp] Starting",
		"[exp] Training",
		"[exp] Completed",
		"[exp] finished, 6/6 milestones reached",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestWatchJSON(t *testing.T) {
	dir := t.TempDir()
	logPath := writeFile(t, dir, "train.log", trainingLog)
	statusPath := writeFile(t, dir, "status", "failed\n")

	out, err := executeCommand("watch", "--log", logPath, "--status", statusPath, "--json", "--poll-only")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	var last struct {
		Final    bool           `json:"final"`
		Timeline timeline.State `json:"timeline"`
	}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("failed to decode update: %v", err)
	}
	if !last.Final {
		t.Error("expected the last update to be final")
	}
	if !last.Timeline.IsComplete {
		t.Error("expected a complete timeline")
	}
	if m, ok := last.Timeline.Milestone(timeline.StageCompleted); !ok || m.IsReached {
		t.Error("a failed run must not reach Completed")
	}
}

func TestWatchRequiresRun(t *testing.T) {
	if _, err := executeCommand("watch"); err == nil {
		t.Error("expected an error without any run")
	}
}

func TestWatchWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	logPath := writeFile(t, dir, "train.log", "[RF:STAGE=TRAINING] warmup\n")
	statusPath := writeFile(t, dir, "status", "succeeded")
	cfgPath := writeFile(t, dir, "runmonitor.yaml", `
logging:
  level: error
watch:
  poll_only: true
runs:
  - name: from-config
    log_path: `+logPath+`
    status_path: `+statusPath+`
`)

	out, err := executeCommand("watch", "--config", cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "[from-config] Training: [RF:STAGE=TRAINING] warmup") {
		t.Errorf("expected the explicit token to be reported, got:\n%s", out)
	}
}
