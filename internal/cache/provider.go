package cache

import (
	"context"
	"errors"
	"time"
)

// Provider is the cache surface the metric client reads baselines through.
// Implementations must treat a missing key as ErrCacheMiss, not an error.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss reports an absent key.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider satisfies Provider without storing anything, for deployments
// that run the observer with caching disabled.
type NoopProvider struct{}

// Get misses for every key.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set drops the value.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// SetNX claims the write succeeded so callers holding a lock key proceed.
func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// Del drops the key.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close releases nothing.
func (NoopProvider) Close() error { return nil }
