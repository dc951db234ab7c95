package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitConfig bounds overall HTTP throughput and per-IP websocket connect
// attempts. A Redis address makes connect limiting survive restarts and work
// across replicas; without one each process counts on its own.
type RateLimitConfig struct {
	GlobalRPS     float64
	GlobalBurst   int
	ConnectLimit  int
	ConnectWindow time.Duration
	RedisAddr     string
	RedisPassword string
	RedisTimeout  time.Duration
}

type rateLimiter struct {
	global         *tokenBucket
	connectLimit   int
	connectWindow  time.Duration
	connectMu      sync.Mutex
	connectBuckets map[string]*ipLimiter
	store          attemptStore
}

type ipLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

// attemptStore counts fixed-window events keyed by client, shared across
// replicas when backed by Redis.
type attemptStore interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration, error)
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		connectLimit:   cfg.ConnectLimit,
		connectWindow:  cfg.ConnectWindow,
		connectBuckets: make(map[string]*ipLimiter),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.connectWindow <= 0 {
		rl.connectWindow = time.Minute
	}
	if cfg.RedisAddr != "" && rl.connectLimit > 0 {
		timeout := cfg.RedisTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		rl.store = newRedisAttemptStore(cfg.RedisAddr, cfg.RedisPassword, timeout)
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

func (r *rateLimiter) AllowConnect(key string) (bool, time.Duration, error) {
	if r == nil || r.connectLimit <= 0 {
		return true, 0, nil
	}
	if r.store != nil {
		return r.store.Allow(fmt.Sprintf("fila:connect:%s", key), r.connectLimit, r.connectWindow)
	}
	if key == "" {
		key = "unknown"
	}
	r.connectMu.Lock()
	bucket, exists := r.connectBuckets[key]
	if !exists {
		rate := float64(r.connectLimit) / r.connectWindow.Seconds()
		if rate <= 0 {
			rate = 1 / r.connectWindow.Seconds()
		}
		bucket = &ipLimiter{bucket: newTokenBucket(rate, r.connectLimit)}
		r.connectBuckets[key] = bucket
	}
	bucket.lastSeen = time.Now()
	r.cleanupLocked()
	r.connectMu.Unlock()

	if bucket.bucket.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

func (r *rateLimiter) cleanupLocked() {
	if len(r.connectBuckets) == 0 {
		return
	}
	cutoff := time.Now().Add(-2 * r.connectWindow)
	for key, bucket := range r.connectBuckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(r.connectBuckets, key)
		}
	}
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: time.Now(),
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens -= 1
	return true
}
