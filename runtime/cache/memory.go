package cache

import (
	"context"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/pkg/errors"
)

// Memory is an in-process engine cache backed by bigcache, intended as the
// fastest tier in front of disk or object storage. Entries expire after the
// configured TTL; an evicted entry is a miss, not an error.
type Memory struct {
	cache *bigcache.BigCache
}

var _ EngineCache = (*Memory)(nil)

// NewMemory creates an in-memory cache whose entries live for ttl.
func NewMemory(ctx context.Context, ttl time.Duration) (*Memory, error) {
	cache, err := bigcache.New(ctx, bigcache.DefaultConfig(ttl))
	if err != nil {
		return nil, errors.Wrap(err, "memory cache")
	}
	return &Memory{cache: cache}, nil
}

// Save stores the record under key.
func (c *Memory) Save(_ context.Context, key string, record []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	return errors.Wrapf(c.cache.Set(key, record), "memory cache: saving key %s", key)
}

// Load retrieves the record stored under key.
func (c *Memory) Load(_ context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	record, err := c.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "key %s in memory", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "memory cache: reading key %s", key)
	}
	return record, nil
}

// Has reports whether key is currently held (and not yet evicted).
func (c *Memory) Has(_ context.Context, key string) bool {
	if validKey(key) != nil {
		return false
	}
	_, err := c.cache.Get(key)
	return err == nil
}

// Close releases the cache's memory.
func (c *Memory) Close() error {
	return c.cache.Close()
}
