package server

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const chatKeyPrefix = "streamline:ratelimit:chat:"

// RateLimitConfig bounds overall request throughput and how fast a single
// caller may post chat messages. Zero limits disable the matching check.
type RateLimitConfig struct {
	GlobalRPS   float64
	GlobalBurst int
	ChatLimit   int
	ChatWindow  time.Duration
	// TrustForwardedHeaders honours X-Forwarded-For and X-Real-IP from any
	// peer. TrustedProxies restricts that to the listed CIDRs or addresses.
	TrustForwardedHeaders bool
	TrustedProxies        []string
	// Redis, when set, shares chat counters between nodes.
	Redis        redis.UniversalClient
	RedisTimeout time.Duration
}

type rateLimiter struct {
	global      *rate.Limiter
	chatLimit   int
	chatWindow  time.Duration
	mu          sync.Mutex
	chatBuckets map[string]*keyLimiter
	store       tokenStore
}

type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// tokenStore counts attempts per key in a fixed window shared across nodes.
type tokenStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		chatLimit:   cfg.ChatLimit,
		chatWindow:  cfg.ChatWindow,
		chatBuckets: make(map[string]*keyLimiter),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}
	if rl.chatLimit < 0 {
		rl.chatLimit = 0
	}
	if rl.chatWindow <= 0 {
		rl.chatWindow = 30 * time.Second
	}
	if cfg.Redis != nil && rl.chatLimit > 0 {
		rl.store = newRedisStore(cfg.Redis, cfg.RedisTimeout)
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

// AllowChat reports whether key may post another chat message and, when it
// may not, how long it should wait.
func (r *rateLimiter) AllowChat(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.chatLimit <= 0 {
		return true, 0, nil
	}
	if key == "" {
		key = "unknown"
	}
	if r.store != nil {
		return r.store.Allow(ctx, chatKeyPrefix+key, r.chatLimit, r.chatWindow)
	}

	now := time.Now()
	r.mu.Lock()
	bucket, exists := r.chatBuckets[key]
	if !exists {
		every := r.chatWindow / time.Duration(r.chatLimit)
		bucket = &keyLimiter{limiter: rate.NewLimiter(rate.Every(every), r.chatLimit)}
		r.chatBuckets[key] = bucket
	}
	bucket.lastSeen = now
	r.cleanupLocked(now)
	r.mu.Unlock()

	reservation := bucket.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, r.chatWindow, nil
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

func (r *rateLimiter) cleanupLocked(now time.Time) {
	cutoff := now.Add(-2 * r.chatWindow)
	for key, bucket := range r.chatBuckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(r.chatBuckets, key)
		}
	}
}
