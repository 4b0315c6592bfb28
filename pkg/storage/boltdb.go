package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketCursors = []byte("cursors")
)

// BoltStore implements Store using BoltDB so the poll cursor survives
// restarts
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) beacon.db under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "beacon.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCursors); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketCursors, err)
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.db.Path()
}

// Cursor operations
func (s *BoltStore) LoadCursor(endpoint string) (Cursor, error) {
	var cursor Cursor
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCursors)
		data := b.Get([]byte(endpoint))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &cursor)
	})
	if err != nil {
		return Cursor{}, fmt.Errorf("failed to load cursor for %s: %w", endpoint, err)
	}
	return cursor, nil
}

func (s *BoltStore) SaveCursor(endpoint string, cursor Cursor) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCursors)
		data, err := json.Marshal(cursor)
		if err != nil {
			return err
		}
		return b.Put([]byte(endpoint), data)
	})
}
