package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/timeline"
)

func lines(steps []step) []string {
	var out []string
	for _, s := range steps {
		if s.action == actionWrite {
			out = append(out, s.line)
		}
	}
	return out
}

func TestScriptReachesEveryMilestone(t *testing.T) {
	for _, withTokens := range []bool{false, true} {
		steps, success := buildScript(scriptOptions{Epochs: 3, StepsPerEpoch: 4, Tokens: withTokens, Seed: 1})
		require.True(t, success)

		state := timeline.DefaultCatalog().ProcessLines(timeline.Create(), lines(steps))
		assert.Equal(t, 6, state.ReachedCount(), "tokens=%v", withTokens)
		assert.Nil(t, state.Failure)
		require.NotNil(t, state.Epoch)
		assert.Equal(t, timeline.EpochProgress{Current: 3, Total: 3}, *state.Epoch)
	}
}

func TestScriptFailure(t *testing.T) {
	steps, success := buildScript(scriptOptions{Epochs: 3, StepsPerEpoch: 4, FailAt: 2, Seed: 1})
	require.False(t, success)

	state := timeline.DefaultCatalog().ProcessLines(timeline.Create(), lines(steps))
	require.NotNil(t, state.Failure)
	assert.Contains(t, state.Failure.Line, "CUDA error")

	m, ok := state.Milestone(timeline.StageEvaluating)
	require.True(t, ok)
	assert.False(t, m.IsReached)
}

func TestScriptFileOperations(t *testing.T) {
	steps, _ := buildScript(scriptOptions{Epochs: 4, StepsPerEpoch: 2, TruncateAt: 2, ReplaceAt: 3, Seed: 1})

	var truncates, replaces int
	for _, s := range steps {
		switch s.action {
		case actionTruncate:
			truncates++
		case actionReplace:
			replaces++
		}
	}
	assert.Equal(t, 1, truncates)
	assert.Equal(t, 1, replaces)
}

func TestScriptIsDeterministic(t *testing.T) {
	a, _ := buildScript(scriptOptions{Epochs: 2, StepsPerEpoch: 3, Seed: 7})
	b, _ := buildScript(scriptOptions{Epochs: 2, StepsPerEpoch: 3, Seed: 7})
	assert.Equal(t, a, b)
}

func TestRunLogReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.log")
	l, err := newRunLog(path)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.WriteLine("before")
	require.NoError(t, err)
	before, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, l.Replace())
	_, err = l.WriteLine("after")
	require.NoError(t, err)

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.False(t, os.SameFile(before, after))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "after\n", string(data))
}

func TestRunLogTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.log")
	l, err := newRunLog(path)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.WriteLine("a much longer first line")
	require.NoError(t, err)
	require.NoError(t, l.Truncate())
	_, err = l.WriteLine("short")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "short\n", string(data))
}

func TestWriteInterval(t *testing.T) {
	d, err := writeInterval(20)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, d)

	for _, rate := range []float64{0, -1, math.NaN(), 2e9, math.Inf(1)} {
		_, err := writeInterval(rate)
		assert.Error(t, err, "rate=%v", rate)
	}
}

func TestReportEvery(t *testing.T) {
	d, err := reportEvery(5)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	_, err = reportEvery(0)
	assert.Error(t, err)
	_, err = reportEvery(-3)
	assert.Error(t, err)
}
