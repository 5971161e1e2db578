package cache

import (
	"context"
	"fmt"

	"github.com/valkey-io/valkey-go"

	"github.com/poolwarden/poolwarden/internal/config"
)

// ValkeyLookup implements Lookup using Valkey with a per-entry TTL so stale
// mappings age out on their own.
type ValkeyLookup struct {
	client valkey.Client
	prefix string
	ttl    int64 // seconds; 0 disables expiry
}

// NewValkeyLookup creates a new Valkey-backed lookup cache for the named pool.
func NewValkeyLookup(cfg *config.CacheConfig, poolName string) (*ValkeyLookup, error) {
	opts := valkey.ClientOption{
		InitAddress: []string{cfg.ValkeyAddr},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	return &ValkeyLookup{
		client: client,
		prefix: "lookup:" + poolName + ":",
		ttl:    int64(cfg.TTL.Seconds()),
	}, nil
}

// Get returns the cached instance id for identity, or ErrCacheMiss.
func (l *ValkeyLookup) Get(ctx context.Context, identity string) (string, error) {
	id, err := l.client.Do(ctx, l.client.B().Get().Key(l.prefix+identity).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("failed to get lookup entry: %w", err)
	}
	return id, nil
}

// Put caches the identity -> instance id mapping.
func (l *ValkeyLookup) Put(ctx context.Context, identity, instanceID string) error {
	b := l.client.B().Set().Key(l.prefix + identity).Value(instanceID)
	var cmd valkey.Completed
	if l.ttl > 0 {
		cmd = b.ExSeconds(l.ttl).Build()
	} else {
		cmd = b.Build()
	}
	if err := l.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to put lookup entry: %w", err)
	}
	return nil
}

// Delete removes the cached mapping for identity.
func (l *ValkeyLookup) Delete(ctx context.Context, identity string) error {
	if err := l.client.Do(ctx, l.client.B().Del().Key(l.prefix+identity).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete lookup entry: %w", err)
	}
	return nil
}

// Close closes the Valkey connection.
func (l *ValkeyLookup) Close() {
	l.client.Close()
}

// Compile-time check that ValkeyLookup implements Lookup.
var _ Lookup = (*ValkeyLookup)(nil)
