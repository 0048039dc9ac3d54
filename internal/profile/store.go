// Package profile persists a run's scheduling summary to a local
// bbolt file so a host application can diff successive runs. This is
// strictly an external-collaborator concern: the scheduler core
// (handle/contract/service/graph) performs zero I/O and never imports
// this package.
package profile

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRuns = []byte("runs")

// Snapshot summarizes one graph execution.
type Snapshot struct {
	RunID        string        `json:"run_id"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	NodeCount    int           `json:"node_count"`
	FailedCount  int           `json:"failed_count"`
	AllCompleted bool          `json:"all_completed"`
}

// Store wraps a bbolt database holding one bucket of run snapshots
// keyed by run id.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the snapshot store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("profile: opening store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("profile: creating bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record persists snap under its RunID.
func (s *Store) Record(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("profile: marshaling snapshot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).Put([]byte(snap.RunID), data)
	})
}

// Recent returns up to limit snapshots, walking the bucket from the
// greatest run id down. Snapshots are keyed by run id, so the order
// follows run ids, not insertion time.
func (s *Store) Recent(limit int) ([]Snapshot, error) {
	var out []Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var snap Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("profile: unmarshaling snapshot %q: %w", k, err)
			}
			out = append(out, snap)
		}
		return nil
	})
	return out, err
}
