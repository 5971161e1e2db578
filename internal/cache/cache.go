// Package cache provides an optional external lookup cache that maps caller
// identities to instance ids. It is purely an optimization: pool correctness
// holds when the cache is absent or evicts arbitrarily.
package cache

import (
	"context"
	"errors"
)

// ErrCacheMiss is returned by Get when the identity has no cached entry.
var ErrCacheMiss = errors.New("cache miss")

// Lookup is the identity -> instance id cache interface.
type Lookup interface {
	Get(ctx context.Context, identity string) (string, error)
	Put(ctx context.Context, identity, instanceID string) error
	Delete(ctx context.Context, identity string) error
}
