package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/logging"
	"github.com/therealutkarshpriyadarshi/runmonitor/pkg/types"
)

// Store persists tailer positions so a restarted monitor resumes where it
// stopped instead of replaying or skipping a run's log.
type Store interface {
	Get(path string) (types.FilePosition, bool)
	Update(pos types.FilePosition)
	Delete(path string)
	Load() error
	Save() error
	Start()
	Stop() error
}

// Backend names
const (
	BackendJSON = "json"
	BackendBolt = "bolt"
)

// Open creates the store for backend rooted at dir
func Open(backend, dir string, interval time.Duration, logger *logging.Logger) (Store, error) {
	switch backend {
	case "", BackendJSON:
		return NewManager(dir, interval, logger)
	case BackendBolt:
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
		return NewBoltStore(filepath.Join(dir, "positions.db"), logger)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend: %s", backend)
	}
}

const positionsFile = "positions.json"

// Manager keeps positions in memory and writes them to a JSON file
// periodically and whenever a position changes.
type Manager struct {
	mu            sync.RWMutex
	checkpointDir string
	positions     map[string]types.FilePosition
	interval      time.Duration
	logger        *logging.Logger
	stopCh        chan struct{}
	saveCh        chan struct{}
	doneCh        chan struct{}
	stopOnce      sync.Once
	started       bool
}

// NewManager creates a new checkpoint manager
func NewManager(checkpointDir string, interval time.Duration, logger *logging.Logger) (*Manager, error) {
	if err := os.MkdirAll(checkpointDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	m := &Manager{
		checkpointDir: checkpointDir,
		positions:     make(map[string]types.FilePosition),
		interval:      interval,
		logger:        logging.OrNop(logger).WithComponent("checkpoint"),
		stopCh:        make(chan struct{}),
		saveCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}

	return m, nil
}

// Start starts the periodic checkpoint saving
func (m *Manager) Start() {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	go m.saveLoop()
}

// Stop stops the save loop and writes a final checkpoint
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.mu.RLock()
		started := m.started
		m.mu.RUnlock()
		if started {
			<-m.doneCh
		}
	})
	return m.Save()
}

// Update records the position for a file and requests a save
func (m *Manager) Update(pos types.FilePosition) {
	m.mu.Lock()
	m.positions[pos.Path] = pos
	m.mu.Unlock()

	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// Get retrieves the position for a file
func (m *Manager) Get(path string) (types.FilePosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[path]
	return pos, ok
}

// Delete forgets a file's position
func (m *Manager) Delete(path string) {
	m.mu.Lock()
	delete(m.positions, path)
	m.mu.Unlock()
}

// Load loads checkpoints from disk
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(m.checkpointDir, positionsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No checkpoint file yet
		}
		return fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	positions := make(map[string]types.FilePosition)
	if err := json.Unmarshal(data, &positions); err != nil {
		return fmt.Errorf("failed to unmarshal checkpoint data: %w", err)
	}

	m.positions = positions
	return nil
}

// Save writes checkpoints to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m.positions, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint data: %w", err)
	}

	checkpointFile := filepath.Join(m.checkpointDir, positionsFile)

	// Write to temporary file first, then rename for atomicity
	tmpFile := checkpointFile + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	if err := os.Rename(tmpFile, checkpointFile); err != nil {
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	return nil
}

// saveLoop periodically saves checkpoints
func (m *Manager) saveLoop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-m.saveCh:
		case <-m.stopCh:
			return
		}

		if err := m.Save(); err != nil {
			// Log error but don't stop
			m.logger.Error().Err(err).Msg("Failed to save checkpoint")
		}
	}
}
