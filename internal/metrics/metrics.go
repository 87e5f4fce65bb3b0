package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const namespace = "runmonitor"

// Status values exported by the RunStatus gauge
var statusValues = map[string]float64{
	"no_logs":   0,
	"receiving": 1,
	"idle":      2,
	"stale":     3,
	"completed": 4,
	"failed":    5,
}

// Collector provides a central place for all application metrics
type Collector struct {
	// Tailer metrics
	BytesRead      *prometheus.CounterVec
	LinesRead      *prometheus.CounterVec
	Resets         *prometheus.CounterVec
	CappedReads    *prometheus.CounterVec
	ReadErrors     *prometheus.CounterVec
	ReadDuration   *prometheus.HistogramVec
	PollInterval   *prometheus.GaugeVec
	FileSize       *prometheus.GaugeVec
	SinceLastWrite *prometheus.GaugeVec

	// Run metrics
	RunStatus         *prometheus.GaugeVec
	MilestonesReached *prometheus.CounterVec
	ActiveStage       *prometheus.GaugeVec
	EpochCurrent      *prometheus.GaugeVec
	EpochTotal        *prometheus.GaugeVec
	ActiveMonitors    prometheus.Gauge

	registry *prometheus.Registry
}

// NewCollector creates a new metrics collector with its own registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: registry,
	}

	c.initTailerMetrics()
	c.initRunMetrics()

	return c
}

func (c *Collector) initTailerMetrics() {
	c.BytesRead = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "bytes_read_total",
			Help:      "Total bytes consumed from monitored logs",
		},
		[]string{"run"},
	)

	c.LinesRead = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "lines_read_total",
			Help:      "Total complete lines read from monitored logs",
		},
		[]string{"run"},
	)

	c.Resets = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "resets_total",
			Help:      "Total number of reads restarted from offset 0",
		},
		[]string{"run", "reason"},
	)

	c.CappedReads = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "capped_reads_total",
			Help:      "Total number of reads that hit the per-tick byte budget",
		},
		[]string{"run"},
	)

	c.ReadErrors = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "read_errors_total",
			Help:      "Total number of failed snapshot or read calls",
		},
		[]string{"run", "operation"},
	)

	c.ReadDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "read_duration_seconds",
			Help:      "Time taken by one delta read",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to ~300ms
		},
		[]string{"run"},
	)

	c.PollInterval = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "poll_interval_seconds",
			Help:      "Currently recommended polling interval",
		},
		[]string{"run"},
	)

	c.FileSize = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "file_size_bytes",
			Help:      "Size of the monitored log file",
		},
		[]string{"run"},
	)

	c.SinceLastWrite = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "seconds_since_last_write",
			Help:      "Age of the last write to the monitored log file",
		},
		[]string{"run"},
	)
}

func (c *Collector) initRunMetrics() {
	c.RunStatus = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "status",
			Help:      "Log status (0=no_logs, 1=receiving, 2=idle, 3=stale, 4=completed, 5=failed)",
		},
		[]string{"run"},
	)

	c.MilestonesReached = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "milestones_reached_total",
			Help:      "Total milestones reached, by stage",
		},
		[]string{"run", "stage"},
	)

	c.ActiveStage = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "active_stage_index",
			Help:      "Index of the active milestone, -1 when none",
		},
		[]string{"run"},
	)

	c.EpochCurrent = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "epoch_current",
			Help:      "Last epoch number seen in the log",
		},
		[]string{"run"},
	)

	c.EpochTotal = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "epoch_total",
			Help:      "Total epochs announced in the log, 0 when unknown",
		},
		[]string{"run"},
	)

	c.ActiveMonitors = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_monitors",
			Help:      "Number of runs currently being monitored",
		},
	)
}

// SetStatus records a snapshot status for a run
func (c *Collector) SetStatus(run, status string) {
	if v, ok := statusValues[status]; ok {
		c.RunStatus.WithLabelValues(run).Set(v)
	}
}

// Registry returns the prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
