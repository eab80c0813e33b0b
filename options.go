package ratelimitcore

import (
	"fmt"

	"github.com/nsavage/ratelimitcore/backends"
	"github.com/nsavage/ratelimitcore/backends/composite"
	"github.com/nsavage/ratelimitcore/backends/memory"
	"github.com/nsavage/ratelimitcore/backends/postgres"
	"github.com/nsavage/ratelimitcore/backends/redis"
)

// Option is a functional option for configuring the RateLimiter.
type Option func(*Config) error

// WithBackend configures the rate limiter to use a caller-provided storage
// backend. Like every With*Backend option it sets Config.Storage, so the
// last backend option given wins. Use this for a custom or composite
// backend this package doesn't build directly.
func WithBackend(storage backends.CounterStorage) Option {
	return func(c *Config) error {
		if storage == nil {
			return fmt.Errorf("backend cannot be nil")
		}
		c.Storage = storage
		return nil
	}
}

// WithInMemoryBackend configures the always-resident in-memory backend
// (§4.E), sizing its qualified-counter cache to cacheSize entries. A
// non-positive cacheSize falls back to memory.DefaultCacheSize. This is
// the default when no backend option is given at all.
func WithInMemoryBackend(cacheSize int) Option {
	return func(c *Config) error {
		c.Storage = memory.New(cacheSize)
		return nil
	}
}

// WithRedisBackend configures a Redis-backed store.
func WithRedisBackend(config redis.Config) Option {
	return func(c *Config) error {
		storage, err := redis.New(config)
		if err != nil {
			return fmt.Errorf("redis backend: %w", err)
		}
		c.Storage = storage
		return nil
	}
}

// WithPostgresBackend configures a Postgres-backed store.
func WithPostgresBackend(config postgres.Config) Option {
	return func(c *Config) error {
		storage, err := postgres.New(config)
		if err != nil {
			return fmt.Errorf("postgres backend: %w", err)
		}
		c.Storage = storage
		return nil
	}
}

// WithCompositeBackend configures a primary backend with circuit-breaker
// failover to a secondary, per backends/composite.
func WithCompositeBackend(config composite.Config) Option {
	return func(c *Config) error {
		storage, err := composite.New(config)
		if err != nil {
			return fmt.Errorf("composite backend: %w", err)
		}
		c.Storage = storage
		return nil
	}
}
