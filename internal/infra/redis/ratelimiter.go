package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// allowScript increments the client's counter, starts the window on the first
// hit and returns {count, pttl}.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a fixed-window limiter whose counters live in Redis.
type RedisRateLimiter struct {
	client *goredis.Client
	limit  int
	window time.Duration
	script *goredis.Script
}

func NewRedisRateLimiter(client *goredis.Client, limit int, window time.Duration) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 {
		limit = ratelimit.DefaultLimit
	}
	if window < time.Millisecond {
		window = ratelimit.DefaultWindow
	}

	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
		script: allowScript,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, clientID string) (ratelimit.Decision, error) {
	if r == nil || r.client == nil || r.script == nil {
		return ratelimit.Decision{}, fmt.Errorf("rate limiter is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := r.script.Run(ctx, r.client, []string{key(clientID)}, r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	if len(result) != 2 {
		return ratelimit.Decision{}, fmt.Errorf("unexpected rate limit script result %v", result)
	}

	return ratelimit.NewDecision(int(result[0]), r.limit, time.Duration(result[1])*time.Millisecond), nil
}

func (r *RedisRateLimiter) Reset(ctx context.Context, clientID string) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("rate limiter is not initialized")
	}
	if err := r.client.Del(ctx, key(clientID)).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}

func key(clientID string) string {
	return keyPrefix + ratelimit.NormalizeClientID(clientID)
}
