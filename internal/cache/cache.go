// Package cache is the shared fast store used for pending-upload records, the
// credit balance cache, and rate-limit counters. Redis in production, an
// in-memory implementation for development and tests.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/atelierhq/atelier/internal/config"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

type Cache interface {
	// Get returns the value for key, or ErrMiss.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Incr atomically increments the counter at key and returns the new
	// value. The ttl is applied when the key is first created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// New selects a cache backend from app config.
func New(c *config.Config) (Cache, error) {
	if c.CacheDriver == "redis" {
		return NewRedis(c.RedisAddr, c.RedisPassword, c.RedisDB)
	}
	return NewMemory(), nil
}
