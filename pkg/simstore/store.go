/*
Package simstore persists simulation run summaries and their event logs
in an embedded bbolt database, so a CLI user can look back at past runs
without re-parsing CSV output. One bucket keyed by run id holds run
summaries; one keyed by "<run_id>/<seq>" holds individual events, both
as JSON-marshaled values.
*/
package simstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketRuns   = []byte("runs")
	bucketEvents = []byte("events")
)

// RunSummary is the persisted record of one completed (or in-progress)
// simulation run.
type RunSummary struct {
	ID          string  `json:"id"`
	TracePath   string  `json:"trace_path"`
	ConfigPath  string  `json:"config_path"`
	Seed        uint64  `json:"seed"`
	Nodes       int     `json:"nodes"`
	StartedAt   int64   `json:"started_at_unix"`
	FinishedAt  int64   `json:"finished_at_unix"`
	EventCount  int     `json:"event_count"`
	AverageWait float64 `json:"average_wait"`
	Utilization float64 `json:"utilization"`
}

// StoredEvent is one persisted calendar dispatch, keyed by run + sequence
// so events replay in the order they were emitted.
type StoredEvent struct {
	RunID string `json:"run_id"`
	Seq   uint64 `json:"seq"`
	Time  int64  `json:"time"`
	Kind  string `json:"kind"`
	JobID int64  `json:"job_id"`
}

// Store persists run and event records in a bbolt database file.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) a bbolt database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "schedulus.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("simstore: opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketEvents} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("creating bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutRun upserts a run summary.
func (s *Store) PutRun(run *RunSummary) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRuns).Put([]byte(run.ID), data)
	})
}

// GetRun looks up a run summary by id.
func (s *Store) GetRun(id string) (*RunSummary, error) {
	var run RunSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("simstore: run not found: %s", id)
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns every stored run summary.
func (s *Store) ListRuns() ([]*RunSummary, error) {
	var runs []*RunSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var run RunSummary
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs = append(runs, &run)
			return nil
		})
	})
	return runs, err
}

// PutEvent appends one event for a run.
func (s *Store) PutEvent(ev *StoredEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		key := []byte(fmt.Sprintf("%s/%020d", ev.RunID, ev.Seq))
		return tx.Bucket(bucketEvents).Put(key, data)
	})
}

// ListEvents returns every event recorded for runID, in sequence order
// (guaranteed by the zero-padded sequence suffix in the storage key).
func (s *Store) ListEvents(runID string) ([]*StoredEvent, error) {
	prefix := []byte(runID + "/")
	var events []*StoredEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var ev StoredEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			events = append(events, &ev)
		}
		return nil
	})
	return events, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
