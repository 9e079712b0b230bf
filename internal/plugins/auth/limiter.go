package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// AttemptLimiter counts wrong one-time code guesses per key.
type AttemptLimiter interface {
	// Fail records a wrong guess and returns the count within the window.
	// The window starts at the first failure.
	Fail(ctx context.Context, key string, window time.Duration) (int64, error)

	// Count returns the failures recorded for key within the window.
	Count(ctx context.Context, key string) (int64, error)

	// Reset forgets all failures for key.
	Reset(ctx context.Context, key string) error
}

// RedisAttemptLimiter keeps counters in Redis so every instance of the
// service shares them.
type RedisAttemptLimiter struct {
	rdb redis.Cmdable
}

// NewRedisAttemptLimiter creates a limiter on the given client.
func NewRedisAttemptLimiter(rdb redis.Cmdable) *RedisAttemptLimiter {
	return &RedisAttemptLimiter{rdb: rdb}
}

// Fail implements AttemptLimiter. The increment and the window are applied
// in one MULTI/EXEC so a counter never outlives its window; EXPIRE NX leaves
// an already running window alone.
func (l *RedisAttemptLimiter) Fail(ctx context.Context, key string, window time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recording attempt: %w", err)
	}
	return incr.Val(), nil
}

// Count implements AttemptLimiter.
func (l *RedisAttemptLimiter) Count(ctx context.Context, key string) (int64, error) {
	n, err := l.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading attempts: %w", err)
	}
	return n, nil
}

// Reset implements AttemptLimiter.
func (l *RedisAttemptLimiter) Reset(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("resetting attempts: %w", err)
	}
	return nil
}

// Attempt keys. One counter per identity per code purpose.
func registrationAttemptKey(identityID string) string {
	return "verify_attempts:registration:" + identityID
}

func resetAttemptKey(identityID string) string {
	return "verify_attempts:reset:" + identityID
}

// sharedUsernameAttemptKey counts wrong guesses against a username held by
// several pending sign-ups, where no single account can be charged.
func sharedUsernameAttemptKey(username string) string {
	return "verify_attempts:registration:username:" + strings.ToLower(username)
}

// noopLimiter never limits. Used when the cap is disabled.
type noopLimiter struct{}

func (noopLimiter) Fail(context.Context, string, time.Duration) (int64, error) { return 0, nil }
func (noopLimiter) Count(context.Context, string) (int64, error)               { return 0, nil }
func (noopLimiter) Reset(context.Context, string) error                        { return nil }
