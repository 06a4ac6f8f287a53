// Package storage provides the optional Redis-backed result cache. Feature
// documents are keyed by the binary's content digest, so unchanged binaries
// skip the disassembly engine entirely on re-runs.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "binfeat:features:"

// Cache wraps a Redis client for feature-document storage. Payloads are
// snappy-compressed; feature JSON for large binaries compresses well.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache connects to Redis and verifies the connection.
func NewCache(ctx context.Context, addr, password string) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Cache{rdb: rdb}, nil
}

func (c *Cache) Close() error { return c.rdb.Close() }

// Get fetches a cached feature document by binary digest. The second return
// is false on a clean miss.
func (c *Cache) Get(ctx context.Context, digest string) ([]byte, bool, error) {
	compressed, err := c.rdb.Get(ctx, keyPrefix+digest).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	doc, err := snappy.Decode(nil, compressed)
	if err != nil {
		// A corrupt entry is treated as a miss; it will be overwritten.
		return nil, false, nil
	}
	return doc, true, nil
}

// Put stores a feature document under the binary's digest.
func (c *Cache) Put(ctx context.Context, digest string, doc []byte) error {
	compressed := snappy.Encode(nil, doc)
	if err := c.rdb.Set(ctx, keyPrefix+digest, compressed, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
