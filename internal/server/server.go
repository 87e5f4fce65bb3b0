package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/health"
	"github.com/therealutkarshpriyadarshi/runmonitor/internal/logging"
)

// RunsFunc returns the latest view of every monitored run, ready for JSON
// encoding.
type RunsFunc func() any

// Config holds server configuration
type Config struct {
	Address         string
	MetricsPath     string
	MetricsRegistry *prometheus.Registry
	HealthChecker   *health.Checker
	Runs            RunsFunc
	Pprof           bool // Serve runtime profiles under /debug/pprof/
	Logger          *logging.Logger
}

// Server exposes metrics, health probes and run state over HTTP
type Server struct {
	httpServer *http.Server
	logger     *logging.Logger
}

// New creates a new server
func New(cfg Config) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Address,
			Handler:      Handler(cfg),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logging.OrNop(cfg.Logger).WithComponent("server"),
	}
}

// Handler builds the mux. Endpoints whose dependency is missing are not
// registered.
func Handler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	if cfg.MetricsRegistry != nil {
		metricsPath := cfg.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		mux.Handle(metricsPath, promhttp.HandlerFor(
			cfg.MetricsRegistry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
			},
		))
	}

	if cfg.HealthChecker != nil {
		mux.HandleFunc("/healthz", cfg.HealthChecker.HTTPHandler())
		mux.HandleFunc("/readyz", cfg.HealthChecker.ReadinessHandler())
	}

	if cfg.Runs != nil {
		mux.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(cfg.Runs())
		})
	}

	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

// Start starts listening in the background. Errors that happen within the
// first 100ms, such as the address being in use, are returned.
func (s *Server) Start() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info().
			Str("address", s.httpServer.Addr).
			Msg("Starting HTTP server")

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}
	return nil
}
