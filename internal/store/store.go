package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get when the key has never been written
// (or was deleted), and by GetTimer when no alarm is armed.
var ErrKeyNotFound = errors.New("key not found")

// Store is the durable key-value substrate the pool uses to survive
// restarts. Keys are scoped per pool name by the implementation.
// Writes are at-least-once durable; reads observe the instance's own
// writes. Implementations: Valkey (shared), bbolt (embedded).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// GetTimer and SetTimer manage the single outstanding reconciliation
	// alarm, so a restarted process can resume its schedule.
	GetTimer(ctx context.Context) (time.Time, error)
	SetTimer(ctx context.Context, at time.Time) error

	// Ping checks connectivity to the substrate.
	Ping(ctx context.Context) error

	Close() error
}
