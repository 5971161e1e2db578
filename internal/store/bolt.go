package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltStore implements Store using an embedded bbolt database, with one
// bucket per pool name. Suited to single-node deployments that don't run
// a Valkey server.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

// NewBoltStore opens (or creates) the database at path and ensures the
// pool's bucket exists.
func NewBoltStore(path, poolName string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure store dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store: %w", err)
	}

	bucket := []byte("pool:" + poolName)
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, bucket: bucket}, nil
}

// Get retrieves the value stored under key.
func (s *BoltStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil {
			return ErrKeyNotFound
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put stores value under key.
func (s *BoltStore) Put(ctx context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), value)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *BoltStore) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

// GetTimer returns the persisted alarm time, or ErrKeyNotFound when unset.
func (s *BoltStore) GetTimer(ctx context.Context) (time.Time, error) {
	data, err := s.Get(ctx, timerKey)
	if err != nil {
		return time.Time{}, err
	}
	nanos, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timer value: %w", err)
	}
	return time.Unix(0, nanos), nil
}

// SetTimer persists the single outstanding alarm time.
func (s *BoltStore) SetTimer(ctx context.Context, at time.Time) error {
	return s.Put(ctx, timerKey, []byte(strconv.FormatInt(at.UnixNano(), 10)))
}

// Ping verifies the database file is still accessible.
func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(s.bucket) == nil {
			return fmt.Errorf("bucket missing")
		}
		return nil
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Compile-time check that BoltStore implements Store.
var _ Store = (*BoltStore)(nil)
