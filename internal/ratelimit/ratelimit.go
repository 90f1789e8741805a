// Package ratelimit bounds connection attempts per network origin.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter admits or rejects one attempt for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Rule admits fewer than Limit attempts per Window. The Limit-th attempt
// inside a window is rejected.
type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRule rejects the fifth attempt within ten seconds.
var DefaultRule = Rule{Limit: 5, Window: 10 * time.Second}

func (r Rule) normalized() Rule {
	if r.Limit <= 1 {
		r.Limit = DefaultRule.Limit
	}
	if r.Window <= 0 {
		r.Window = DefaultRule.Window
	}
	return r
}

// RedisWindow is a fixed window counter shared by every process.
type RedisWindow struct {
	client *redis.Client
	rule   Rule
	prefix string
}

// NewRedisWindow builds a shared limiter.
func NewRedisWindow(client *redis.Client, rule Rule, prefix string) *RedisWindow {
	if prefix == "" {
		prefix = "ratelimit:ws"
	}
	return &RedisWindow{client: client, rule: rule.normalized(), prefix: prefix}
}

func (l *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, l.rule.Window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() < int64(l.rule.Limit), nil
}

// Local is an in-process token bucket per key.
type Local struct {
	mu       sync.Mutex
	rule     Rule
	buckets  map[string]*bucket
	now      func() time.Time
	maxIdle  time.Duration
	lastScan time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocal builds an in-process limiter.
func NewLocal(rule Rule) *Local {
	rule = rule.normalized()
	return &Local{
		rule:    rule,
		buckets: make(map[string]*bucket),
		now:     time.Now,
		maxIdle: 3 * rule.Window,
	}
}

func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictLocked(now)
	b, ok := l.buckets[key]
	if !ok {
		burst := l.rule.Limit - 1
		every := rate.Every(l.rule.Window / time.Duration(burst))
		b = &bucket{limiter: rate.NewLimiter(every, burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

func (l *Local) evictLocked(now time.Time) {
	if now.Sub(l.lastScan) < l.maxIdle {
		return
	}
	l.lastScan = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.maxIdle {
			delete(l.buckets, key)
		}
	}
}

// Fallback consults primary and switches to secondary when primary errors.
type Fallback struct {
	primary   Limiter
	secondary Limiter
	logger    *zap.Logger
}

// NewFallback chains two limiters.
func NewFallback(primary, secondary Limiter, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Allow(ctx context.Context, key string) (bool, error) {
	allowed, err := f.primary.Allow(ctx, key)
	if err == nil {
		return allowed, nil
	}
	f.logger.Warn("primary rate limiter failed; using local limiter", zap.Error(err))
	return f.secondary.Allow(ctx, key)
}

// New picks the shared limiter when a redis client is available.
func New(client *redis.Client, rule Rule, logger *zap.Logger) Limiter {
	local := NewLocal(rule)
	if client == nil {
		return local
	}
	return NewFallback(NewRedisWindow(client, rule, ""), local, logger)
}
