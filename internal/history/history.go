// Package history persists finished-build records.
//
// Records are append-only and derived 1:1 from Finished build events.
// Metadata lives in BoltDB so the watch daemon can be restarted without
// losing the build log.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// DefaultDirName is the default state directory name under the user
	// config directory.
	DefaultDirName = "xcwatch"

	dbFile     = "history.db"
	bucketName = "builds"
)

// Record is one completed build.
type Record struct {
	// Project is the display name of the built project.
	Project string `json:"project"`

	// StartedAt is when the build began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the observed build duration.
	Duration time.Duration `json:"duration"`

	// Succeeded reports the best-effort success heuristic.
	Succeeded bool `json:"succeeded"`
}

// Store is a BoltDB-backed record store.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the store in dir. If dir is empty the
// user config directory is used.
func Open(dir string) (*Store, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config directory: %w", err)
		}

		dir = filepath.Join(base, DefaultDirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, dbFile), 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

// Append stores one record. Keys are start time + project, so bucket
// iteration order is chronological.
func (s *Store) Append(r Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		data, err := json.Marshal(r)
		if err != nil {
			return err
		}

		key := r.StartedAt.UTC().Format(time.RFC3339Nano) + "|" + r.Project

		return b.Put([]byte(key), data)
	})
}

// List returns all records, oldest first.
func (s *Store) List() ([]Record, error) {
	var records []Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		return b.ForEach(func(_, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}

			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})

	return records, nil
}

// Clear drops every record.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil {
			return err
		}

		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
}

// Stats returns the number of stored records.
func (s *Store) Stats() (int, error) {
	var count int

	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(bucketName)).Stats().KeyN
		return nil
	})

	return count, err
}
