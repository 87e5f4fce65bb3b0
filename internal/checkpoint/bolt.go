package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/logging"
	"github.com/therealutkarshpriyadarshi/runmonitor/pkg/types"
)

const bucketName = "positions"

// BoltStore keeps positions in a bbolt database. Every Update is written
// through, so Start, Save, and Load have nothing to do.
type BoltStore struct {
	db     *bbolt.DB
	logger *logging.Logger
}

// NewBoltStore opens or creates the database at dbPath
func NewBoltStore(dbPath string, logger *logging.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	l := logging.OrNop(logger).WithComponent("checkpoint")
	l.Debug().Str("db_path", dbPath).Msg("BoltDB checkpoint store opened")

	return &BoltStore{db: db, logger: l}, nil
}

// Get retrieves the position for a file
func (s *BoltStore) Get(path string) (types.FilePosition, bool) {
	var pos types.FilePosition
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket([]byte(bucketName)).Get([]byte(path))
		if val == nil {
			return nil
		}
		if err := json.Unmarshal(val, &pos); err != nil {
			return fmt.Errorf("failed to unmarshal position: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Failed to read checkpoint")
		return types.FilePosition{}, false
	}

	return pos, found
}

// Update writes the position for a file
func (s *BoltStore) Update(pos types.FilePosition) {
	data, err := json.Marshal(pos)
	if err != nil {
		s.logger.Error().Err(err).Str("path", pos.Path).Msg("Failed to marshal checkpoint")
		return
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(pos.Path), data)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("path", pos.Path).Msg("Failed to write checkpoint")
	}
}

// Delete forgets a file's position
func (s *BoltStore) Delete(path string) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(path))
	})
	if err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("Failed to delete checkpoint")
	}
}

// Load is a no-op; positions are read on demand
func (s *BoltStore) Load() error { return nil }

// Save is a no-op; updates are written through
func (s *BoltStore) Save() error { return nil }

// Start is a no-op
func (s *BoltStore) Start() {}

// Stop closes the database
func (s *BoltStore) Stop() error {
	return s.db.Close()
}
