package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/poolwarden/poolwarden/internal/config"
)

const timerKey = "alarm"

// ValkeyStore implements Store using Valkey, scoping all keys under
// "pool:{name}:".
type ValkeyStore struct {
	client valkey.Client
	prefix string
}

// NewValkeyStore creates a new Valkey-backed store for the named pool.
func NewValkeyStore(cfg *config.StoreConfig, poolName string) (*ValkeyStore, error) {
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

	return &ValkeyStore{
		client: client,
		prefix: "pool:" + poolName + ":",
	}, nil
}

func (s *ValkeyStore) key(k string) string {
	return s.prefix + k
}

// Get retrieves the value stored under key.
func (s *ValkeyStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.key(key)).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

// Put stores value under key.
func (s *ValkeyStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Do(ctx, s.client.B().Set().Key(s.key(key)).Value(string(value)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *ValkeyStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// GetTimer returns the persisted alarm time, or ErrKeyNotFound when unset.
func (s *ValkeyStore) GetTimer(ctx context.Context) (time.Time, error) {
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
func (s *ValkeyStore) SetTimer(ctx context.Context, at time.Time) error {
	return s.Put(ctx, timerKey, []byte(strconv.FormatInt(at.UnixNano(), 10)))
}

// Ping checks the Valkey connection.
func (s *ValkeyStore) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("valkey ping failed: %w", err)
	}
	return nil
}

// Close closes the Valkey connection.
func (s *ValkeyStore) Close() error {
	s.client.Close()
	return nil
}

// Compile-time check that ValkeyStore implements Store.
var _ Store = (*ValkeyStore)(nil)
