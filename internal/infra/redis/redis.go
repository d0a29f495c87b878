package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sifan077/KrunkLink/config"
)

const defaultDialTimeout = 30 * time.Second

// NewClient builds a redis client using app config and verifies connectivity via PING.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return rdb, nil
}

// WindowLimiter counts hits per key in fixed windows stored in Redis.
type WindowLimiter struct {
	rdb    redis.Cmdable
	window time.Duration
}

// NewWindowLimiter returns a limiter whose counters reset every window.
func NewWindowLimiter(rdb redis.Cmdable, window time.Duration) *WindowLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &WindowLimiter{rdb: rdb, window: window}
}

// Hit increments key and returns the count in the current window and the time until it resets.
// The window starts on the first hit; a counter found without a TTL is given one.
func (l *WindowLimiter) Hit(ctx context.Context, key string) (int64, time.Duration, error) {
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return 0, 0, fmt.Errorf("redis: expire %s: %w", key, err)
		}
		return count, l.window, nil
	}

	remaining, err := l.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: ttl %s: %w", key, err)
	}
	if remaining < 0 {
		// Counter left without expiry by a failed Expire.
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return 0, 0, fmt.Errorf("redis: expire %s: %w", key, err)
		}
		remaining = l.window
	}
	return count, remaining, nil
}
