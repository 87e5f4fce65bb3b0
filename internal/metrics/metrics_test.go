package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}

	if c.Registry() == nil {
		t.Error("registry is nil")
	}
	if c.BytesRead == nil || c.Resets == nil || c.ReadDuration == nil {
		t.Error("tailer metrics not initialized")
	}
	if c.RunStatus == nil || c.MilestonesReached == nil || c.EpochCurrent == nil {
		t.Error("run metrics not initialized")
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	// Each collector owns its registry, so creating two must not panic on
	// duplicate registration.
	a := NewCollector()
	b := NewCollector()

	a.BytesRead.WithLabelValues("run-a").Add(10)

	if v := counterValue(t, b.BytesRead.WithLabelValues("run-a")); v != 0 {
		t.Errorf("Expected second collector to be unaffected, got %f", v)
	}
}

func TestTailerMetrics(t *testing.T) {
	c := NewCollector()

	c.BytesRead.WithLabelValues("run-a").Add(2048)
	c.LinesRead.WithLabelValues("run-a").Add(32)
	c.Resets.WithLabelValues("run-a", "truncated").Inc()
	c.Resets.WithLabelValues("run-a", "replaced").Inc()
	c.Resets.WithLabelValues("run-a", "truncated").Inc()
	c.PollInterval.WithLabelValues("run-a").Set(0.5)

	if v := counterValue(t, c.BytesRead.WithLabelValues("run-a")); v != 2048 {
		t.Errorf("Expected 2048 bytes, got %f", v)
	}
	if v := counterValue(t, c.LinesRead.WithLabelValues("run-a")); v != 32 {
		t.Errorf("Expected 32 lines, got %f", v)
	}
	if v := counterValue(t, c.Resets.WithLabelValues("run-a", "truncated")); v != 2 {
		t.Errorf("Expected 2 truncation resets, got %f", v)
	}
	if v := gaugeValue(t, c.PollInterval.WithLabelValues("run-a")); v != 0.5 {
		t.Errorf("Expected poll interval 0.5, got %f", v)
	}
}

func TestSetStatus(t *testing.T) {
	tests := []struct {
		status   string
		expected float64
	}{
		{"no_logs", 0},
		{"receiving", 1},
		{"idle", 2},
		{"stale", 3},
		{"completed", 4},
		{"failed", 5},
	}

	c := NewCollector()
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			c.SetStatus("run-a", tt.status)
			if v := gaugeValue(t, c.RunStatus.WithLabelValues("run-a")); v != tt.expected {
				t.Errorf("Expected %f, got %f", tt.expected, v)
			}
		})
	}

	// Unknown statuses leave the gauge untouched
	c.SetStatus("run-a", "bogus")
	if v := gaugeValue(t, c.RunStatus.WithLabelValues("run-a")); v != 5 {
		t.Errorf("Expected gauge to stay at 5, got %f", v)
	}
}

func TestRegistryGather(t *testing.T) {
	c := NewCollector()
	c.MilestonesReached.WithLabelValues("run-a", "TRAINING").Inc()
	c.ReadDuration.WithLabelValues("run-a").Observe(0.002)

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	want := map[string]bool{
		"runmonitor_run_milestones_reached_total": false,
		"runmonitor_tailer_read_duration_seconds": false,
	}
	sawRuntime := false
	for _, mf := range families {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
		if strings.HasPrefix(mf.GetName(), "go_") {
			sawRuntime = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("Metric family %s not gathered", name)
		}
	}
	if !sawRuntime {
		t.Error("Go runtime metrics not registered")
	}
}
