package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/logging"
)

// ShutdownFunc is a function that performs cleanup during shutdown
type ShutdownFunc func(context.Context) error

type namedFunc struct {
	name string
	fn   ShutdownFunc
}

// Config holds shutdown manager configuration
type Config struct {
	Timeout time.Duration
	Logger  *logging.Logger
}

// Manager runs registered cleanup functions once, in reverse registration
// order, so later components (monitors) stop before the ones they depend on
// (checkpoint store, HTTP server).
type Manager struct {
	logger       *logging.Logger
	timeout      time.Duration
	mu           sync.Mutex
	funcs        []namedFunc
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	doneCh       chan struct{}
	err          error
}

// New creates a new shutdown manager
func New(cfg Config) *Manager {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Manager{
		logger:     logging.OrNop(cfg.Logger).WithComponent("shutdown"),
		timeout:    cfg.Timeout,
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// RegisterFunc registers a shutdown function to be called during shutdown
func (m *Manager) RegisterFunc(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug().Str("target", name).Msg("Registered shutdown function")
	m.funcs = append(m.funcs, namedFunc{name: name, fn: fn})
}

// WaitForSignal blocks until SIGINT/SIGTERM, ctx is done, or Shutdown is
// called elsewhere, then shuts down.
func (m *Manager) WaitForSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.logger.Info().
			Str("signal", sig.String()).
			Msg("Shutdown signal received")
	case <-ctx.Done():
	case <-m.shutdownCh:
	}
	m.Shutdown()
}

// Shutdown runs every registered function and returns the joined errors.
// Later calls wait for the first one and return the same result.
func (m *Manager) Shutdown() error {
	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)
		m.err = m.performShutdown()
		close(m.doneCh)
	})
	<-m.doneCh
	return m.err
}

func (m *Manager) performShutdown() error {
	m.mu.Lock()
	funcs := append([]namedFunc(nil), m.funcs...)
	m.mu.Unlock()

	m.logger.Info().
		Dur("timeout", m.timeout).
		Int("functions", len(funcs)).
		Msg("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		f := funcs[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: skipped: %w", f.name, ctx.Err()))
			continue
		}
		if err := f.fn(ctx); err != nil {
			m.logger.Error().Err(err).Str("target", f.name).Msg("Shutdown function failed")
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
		}
	}

	if len(errs) > 0 {
		m.logger.Warn().Int("errors", len(errs)).Msg("Graceful shutdown completed with errors")
		return errors.Join(errs...)
	}
	m.logger.Info().Msg("Graceful shutdown completed")
	return nil
}

// Done returns a channel that is closed when shutdown is complete
func (m *Manager) Done() <-chan struct{} {
	return m.doneCh
}
