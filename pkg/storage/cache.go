package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 5 * time.Minute

// CacheConfig holds configuration for the metadata cache.
type CacheConfig struct {
	// Redis client for the cache tier.
	Redis redis.UniversalClient

	// TTL is how long cached entries live. Defaults to 5 minutes.
	TTL time.Duration

	// KeyPrefix namespaces cache keys. Defaults to "tupleflow:meta".
	KeyPrefix string

	// Logger receives cache degradation warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// CachedStore is a read-through Redis cache in front of another
// MetadataStore. Redis being down degrades to direct reads, never to an
// error.
type CachedStore struct {
	inner  MetadataStore
	redis  redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewCachedStore wraps inner with a Redis read-through cache.
func NewCachedStore(inner MetadataStore, cfg CacheConfig) *CachedStore {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "tupleflow:meta"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{
		inner:  inner,
		redis:  cfg.Redis,
		ttl:    ttl,
		prefix: prefix,
		logger: logger.With("component", "storage_cache"),
	}
}

// AccountByName implements MetadataStore.
func (c *CachedStore) AccountByName(ctx context.Context, name string) (Account, error) {
	key := fmt.Sprintf("%s:account:%s", c.prefix, name)
	var a Account
	if c.lookup(ctx, key, &a) {
		return a, nil
	}
	a, err := c.inner.AccountByName(ctx, name)
	if err != nil {
		return Account{}, err
	}
	c.store(ctx, key, a)
	return a, nil
}

// FilesForAccount implements MetadataStore.
func (c *CachedStore) FilesForAccount(ctx context.Context, accountID int64) ([]FileRecord, error) {
	key := fmt.Sprintf("%s:files:%d", c.prefix, accountID)
	var files []FileRecord
	if c.lookup(ctx, key, &files) {
		return files, nil
	}
	files, err := c.inner.FilesForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, files)
	return files, nil
}

// Close implements MetadataStore. The Redis client is shared configuration
// and stays open; only the inner store is closed.
func (c *CachedStore) Close() error {
	return c.inner.Close()
}

func (c *CachedStore) lookup(ctx context.Context, key string, out interface{}) bool {
	if c.redis == nil {
		return false
	}
	payload, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.logger.Warn("cache read failed, falling back to store", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		c.logger.Warn("cache entry corrupt, falling back to store", "key", key, "error", err)
		return false
	}
	return true
}

func (c *CachedStore) store(ctx context.Context, key string, value interface{}) {
	if c.redis == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}
