package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisAttemptLimiter(t *testing.T) {
	limiter, mr := newRedisLimiter(t)
	ctx := context.Background()
	key := registrationAttemptKey("id-1")

	for want := int64(1); want <= 3; want++ {
		n, err := limiter.Fail(ctx, key, 10*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.Equal(t, 10*time.Minute, mr.TTL(key), "window starts at the first failure")

	require.NoError(t, limiter.Reset(ctx, key))
	assert.False(t, mr.Exists(key))

	n, err := limiter.Fail(ctx, key, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mr.FastForward(11 * time.Minute)
	n, err = limiter.Fail(ctx, key, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "counter expires with the window")
}

func TestRedisAttemptLimiter_CounterAlwaysGetsAWindow(t *testing.T) {
	limiter, mr := newRedisLimiter(t)
	ctx := context.Background()
	key := registrationAttemptKey("id-1")

	// A counter left without a TTL, as a lost EXPIRE after INCR would.
	require.NoError(t, mr.Set(key, "2"))
	assert.Zero(t, mr.TTL(key))

	n, err := limiter.Fail(ctx, key, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 10*time.Minute, mr.TTL(key))

	// A later failure does not extend a running window.
	mr.FastForward(4 * time.Minute)
	_, err = limiter.Fail(ctx, key, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 6*time.Minute, mr.TTL(key))
}

func TestRedisAttemptLimiter_Count(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	ctx := context.Background()
	key := sharedUsernameAttemptKey("Alice1")
	assert.Equal(t, sharedUsernameAttemptKey("alice1"), key)

	n, err := limiter.Count(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, n, "no counter yet")

	_, err = limiter.Fail(ctx, key, time.Minute)
	require.NoError(t, err)
	n, err = limiter.Count(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisAttemptLimiter_KeysArePerPurpose(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	ctx := context.Background()

	_, err := limiter.Fail(ctx, registrationAttemptKey("id-1"), time.Minute)
	require.NoError(t, err)
	n, err := limiter.Fail(ctx, resetAttemptKey("id-1"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisAttemptLimiter_Unavailable(t *testing.T) {
	limiter, mr := newRedisLimiter(t)
	mr.Close()

	_, err := limiter.Fail(context.Background(), "k", time.Minute)
	assert.Error(t, err)
	assert.Error(t, limiter.Reset(context.Background(), "k"))
	_, err = limiter.Count(context.Background(), "k")
	assert.Error(t, err)
}

func TestDepsWithDefaults_DisablesCap(t *testing.T) {
	limiter, _ := newRedisLimiter(t)

	d := Deps{Attempts: limiter, MaxAttempts: 0}.withDefaults()
	assert.IsType(t, noopLimiter{}, d.Attempts)
	assert.NotNil(t, d.Now)

	d = Deps{Attempts: limiter, MaxAttempts: 5}.withDefaults()
	assert.Same(t, limiter, d.Attempts)
}
