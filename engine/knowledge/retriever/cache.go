package retriever

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ragon/ragon/engine/knowledge"
	"github.com/ragon/ragon/pkg/logger"
)

const (
	DefaultCachePrefix = "ragon:search:"
	DefaultCacheTTL    = 10 * time.Minute
)

// RedisCache keeps complete search results in Redis. Every Redis failure
// is logged and treated as a miss.
type RedisCache struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	metrics *knowledge.Metrics
}

type CacheOption func(*RedisCache)

func WithCacheMetrics(m *knowledge.Metrics) CacheOption {
	return func(c *RedisCache) {
		c.metrics = m
	}
}

func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration, opts ...CacheOption) *RedisCache {
	if prefix == "" {
		prefix = DefaultCachePrefix
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &RedisCache{client: client, prefix: prefix, ttl: ttl}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConnectRedis parses url and pings the server.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (c *RedisCache) key(query string, deep bool) string {
	sum := sha256.Sum256([]byte(strconv.FormatBool(deep) + "\x00" + query))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *RedisCache) Get(ctx context.Context, query string, deep bool) (*knowledge.Result, bool) {
	raw, err := c.client.Get(ctx, c.key(query, deep)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.metrics.RecordResultCache(ctx, "miss")
		} else {
			c.metrics.RecordResultCache(ctx, "error")
			logger.FromContext(ctx).Warn("Result cache read failed", "error", err)
		}
		return nil, false
	}
	var result knowledge.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		c.metrics.RecordResultCache(ctx, "error")
		logger.FromContext(ctx).Warn("Discarding undecodable cached result", "error", err)
		return nil, false
	}
	c.metrics.RecordResultCache(ctx, "hit")
	return &result, true
}

func (c *RedisCache) Set(ctx context.Context, query string, deep bool, result *knowledge.Result) {
	raw, err := json.Marshal(result)
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to encode result for cache", "error", err)
		return
	}
	if err := c.client.Set(ctx, c.key(query, deep), raw, c.ttl).Err(); err != nil {
		logger.FromContext(ctx).Warn("Result cache write failed", "error", err)
	}
}
