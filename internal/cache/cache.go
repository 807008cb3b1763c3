// Package cache provides the key-value store behind the provider health
// cache.
//
// Two backends are available:
//   - RedisCache  — Redis-backed, shared across gateway replicas.
//   - MemoryCache — in-process TTL cache, zero external dependencies.
//
// Both implement the Cache interface so they are fully interchangeable. The
// values stored here are tiny (health verdicts), so neither backend bothers
// with size limits.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
