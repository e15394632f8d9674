package http

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ResponseCache is a small Redis-backed response cache for the
// shortlist endpoint. Every method is safe on a nil receiver so the
// server works without Redis configured.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResponseCache connects to Redis. Returns nil (cache disabled)
// when addr is empty or the ping fails; a cold cache is never a reason
// to refuse to serve.
func NewResponseCache(addr string, ttlSeconds int) *ResponseCache {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Str("addr", addr).Err(err).Msg("redis unavailable, response cache disabled")
		client.Close()
		return nil
	}

	ttl := time.Duration(ttlSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ResponseCache{client: client, ttl: ttl}
}

func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (c *ResponseCache) Set(ctx context.Context, key string, val []byte) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, key, val, c.ttl).Err(); err != nil {
		log.Debug().Str("key", key).Err(err).Msg("cache set failed")
	}
}

func (c *ResponseCache) Invalidate(ctx context.Context, key string) {
	if c == nil {
		return
	}
	c.client.Del(ctx, key)
}
