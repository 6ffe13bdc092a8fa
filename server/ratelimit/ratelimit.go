// Package ratelimit bounds how often one caller may start an assistant turn.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result is the outcome of one Allow check.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Limiter admits or rejects a request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
}

// slidingWindow trims entries older than the window, then admits the request
// if fewer than limit remain. Members are made unique with a counter.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	local current = redis.call('ZCARD', key)

	if current < limit then
		local counter = redis.call('INCR', key .. ':seq')
		redis.call('ZADD', key, now, now .. ':' .. counter)
		redis.call('PEXPIRE', key, window_ms)
		redis.call('PEXPIRE', key .. ':seq', window_ms)
		return {1, limit - current - 1, 0}
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local reset_at = 0
	if #oldest >= 2 then
		reset_at = tonumber(oldest[2]) + window_ms
	end
	return {0, 0, reset_at}
`)

// Redis is a sliding-window limiter shared by every daemon using the same
// Redis instance.
type Redis struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedis admits limit requests per key within window.
func NewRedis(client *redis.Client, prefix string, limit int, window time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, limit: limit, window: window, now: time.Now}
}

// Allow records the request if it is admitted.
func (l *Redis) Allow(ctx context.Context, key string) (*Result, error) {
	now := l.now()
	nowMs := now.UnixMilli()
	startMs := now.Add(-l.window).UnixMilli()

	res, err := slidingWindow.Run(ctx, l.client, []string{l.prefix + key},
		nowMs, startMs, l.limit, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("rate limit script: unexpected reply length %d", len(res))
	}

	out := &Result{Allowed: res[0] == 1, Remaining: int(res[1]), Limit: l.limit, ResetAt: now.Add(l.window)}
	if res[2] > 0 {
		out.ResetAt = time.UnixMilli(res[2])
	}
	return out, nil
}

// Reset clears the window for key.
func (l *Redis) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.prefix+key, l.prefix+key+":seq").Err()
}

// Memory is an in-process sliding-window limiter for single-daemon setups.
type Memory struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewMemory admits limit requests per key within window.
func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{limit: limit, window: window, now: time.Now, hits: make(map[string][]time.Time)}
}

// Allow records the request if it is admitted.
func (l *Memory) Allow(_ context.Context, key string) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	start := now.Add(-l.window)
	hits := l.hits[key]
	i := 0
	for i < len(hits) && !hits[i].After(start) {
		i++
	}
	hits = hits[i:]

	if len(hits) >= l.limit {
		l.hits[key] = hits
		return &Result{Allowed: false, Limit: l.limit, ResetAt: hits[0].Add(l.window)}, nil
	}
	hits = append(hits, now)
	l.hits[key] = hits
	return &Result{Allowed: true, Remaining: l.limit - len(hits), Limit: l.limit, ResetAt: now.Add(l.window)}, nil
}
