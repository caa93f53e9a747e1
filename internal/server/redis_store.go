package server

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultRedisTimeout = 2 * time.Second

// redisStore is a fixed-window counter: INCR the key and read its TTL in
// one transaction, start the expiry whenever the key has none and report the
// remaining TTL once the limit is exceeded.
type redisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

func newRedisStore(client redis.UniversalClient, timeout time.Duration) *redisStore {
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	return &redisStore{client: client, timeout: timeout}
}

func (s *redisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if window < time.Second {
		window = time.Second
	}

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("incr %s: %w", key, err)
	}
	count, ttl := incr.Val(), pttl.Val()

	// A key without expiry would never reset, whether it is new or a
	// previous EXPIRE was lost.
	if ttl < 0 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, fmt.Errorf("expire %s: %w", key, err)
		}
		ttl = window
	}
	if count <= int64(limit) {
		return true, 0, nil
	}
	return false, ttl, nil
}
