package certs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheKey is the Redis key holding the shared certificate document.
const DefaultCacheKey = "tokengate:certificates"

// ErrCacheMiss is returned by DocumentCache.Get when no usable document is cached.
var ErrCacheMiss = errors.New("certificate document not cached")

// DocumentCache shares the raw provider document between replicas so that only
// one of them needs to reach the provider per refresh interval.
type DocumentCache interface {
	// Get returns the cached document and its remaining lifetime.
	Get(ctx context.Context) ([]byte, time.Duration, error)

	// Put stores the document for ttl.
	Put(ctx context.Context, body []byte, ttl time.Duration) error
}

// RedisDocumentCache stores the provider document in a single Redis key.
type RedisDocumentCache struct {
	client redis.UniversalClient
	key    string
}

// NewRedisDocumentCache connects to the Redis instance at url and verifies the
// connection.
func NewRedisDocumentCache(ctx context.Context, url, key string) (*RedisDocumentCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisDocumentCacheWithClient(client, key), nil
}

// NewRedisDocumentCacheWithClient uses an existing client.
func NewRedisDocumentCacheWithClient(client redis.UniversalClient, key string) *RedisDocumentCache {
	if key == "" {
		key = DefaultCacheKey
	}
	return &RedisDocumentCache{client: client, key: key}
}

// Get implements DocumentCache.
func (c *RedisDocumentCache) Get(ctx context.Context) ([]byte, time.Duration, error) {
	pipe := c.client.TxPipeline()
	getCmd := pipe.Get(ctx, c.key)
	ttlCmd := pipe.PTTL(ctx, c.key)

	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, 0, ErrCacheMiss
		}
		return nil, 0, err
	}

	body, err := getCmd.Bytes()
	if err != nil {
		return nil, 0, err
	}

	// Keys without an expiry report a negative TTL and are not trusted.
	ttl := ttlCmd.Val()
	if ttl <= 0 {
		return nil, 0, ErrCacheMiss
	}

	return body, ttl, nil
}

// Put implements DocumentCache.
func (c *RedisDocumentCache) Put(ctx context.Context, body []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.key, body, ttl).Err()
}

// Close closes the underlying client.
func (c *RedisDocumentCache) Close() error {
	return c.client.Close()
}

var _ DocumentCache = (*RedisDocumentCache)(nil)
