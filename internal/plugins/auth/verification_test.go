package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
)

// newRedisLimiter returns a limiter on a fresh miniredis server.
func newRedisLimiter(t *testing.T) (*RedisAttemptLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisAttemptLimiter(rdb), mr
}

func TestVerify_Success(t *testing.T) {
	h := newHarness(t)
	reg, code := h.register(t, bidderInput("ada@example.com", "ada", "+15550001"))

	res, err := h.verification.Verify(context.Background(), VerifyInput{Identifier: "ada", Role: RoleBidder, Code: code})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "account verified", res.Message)
	assert.True(t, res.User.Verified)
	assert.Empty(t, res.Token, "verification issues no token")

	identity := h.store.identity(reg.User.ID)
	assert.True(t, identity.Verified)
	assert.Nil(t, identity.Registration)
}

func TestVerify_ReplayReportsNothingPending(t *testing.T) {
	h := newHarness(t)
	_, code := h.register(t, merchantInput("shop@example.com", "+15550009"))
	input := VerifyInput{Identifier: "shop@example.com", Role: RoleMerchant, Code: code}

	_, err := h.verification.Verify(context.Background(), input)
	require.NoError(t, err)

	_, err = h.verification.Verify(context.Background(), input)
	requireKind(t, err, apperror.KindInvalidState)
	assert.Equal(t, msgAlreadyVerified, apperror.SafeMessage(err))
}

func TestVerify_Expiry(t *testing.T) {
	t.Run("valid at the expiry instant", func(t *testing.T) {
		h := newHarness(t)
		_, code := h.register(t, bidderInput("ada@example.com", "ada", "+15550001"))
		h.clock.Advance(10 * time.Minute)

		_, err := h.verification.Verify(context.Background(), VerifyInput{Identifier: "ada", Role: RoleBidder, Code: code})
		require.NoError(t, err)
	})

	t.Run("expired one second later", func(t *testing.T) {
		h := newHarness(t)
		reg, code := h.register(t, bidderInput("ada@example.com", "ada", "+15550001"))
		h.clock.Advance(10*time.Minute + time.Second)

		_, err := h.verification.Verify(context.Background(), VerifyInput{Identifier: "ada", Role: RoleBidder, Code: code})
		requireKind(t, err, apperror.KindExpired)
		assert.False(t, h.store.identity(reg.User.ID).Verified)
	})

	t.Run("mismatch is reported before expiry", func(t *testing.T) {
		h := newHarness(t)
		_, code := h.register(t, bidderInput("ada@example.com", "ada", "+15550001"))
		h.clock.Advance(time.Hour)

		_, err := h.verification.Verify(context.Background(), VerifyInput{Identifier: "ada", Role: RoleBidder, Code: wrongCode(code)})
		requireKind(t, err, apperror.KindInvalidCode)
	})
}

func TestVerify_Rejections(t *testing.T) {
	h := newHarness(t)
	_, code := h.register(t, bidderInput("ada@example.com", "ada", "+15550001"))

	tests := []struct {
		name  string
		input VerifyInput
		kind  apperror.Kind
	}{
		{"unknown username", VerifyInput{Identifier: "nobody", Role: RoleBidder, Code: code}, apperror.KindNotFound},
		{"unknown email", VerifyInput{Identifier: "nobody@example.com", Role: RoleMerchant, Code: code}, apperror.KindNotFound},
		{"role mismatch", VerifyInput{Identifier: "ada@example.com", Role: RoleMerchant, Code: code}, apperror.KindNotFound},
		{"wrong code", VerifyInput{Identifier: "ada", Role: RoleBidder, Code: wrongCode(code)}, apperror.KindInvalidCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.verification.Verify(context.Background(), tt.input)
			requireKind(t, err, tt.kind)
		})
	}
}

func TestVerify_NoPendingCode(t *testing.T) {
	h := newHarness(t)
	reg, _ := h.register(t, bidderInput("ada@example.com", "ada", "+15550001"))
	require.NoError(t, h.store.Identities().UpdateRegistration(context.Background(), reg.User.ID, RoleBidder, nil))

	_, err := h.verification.Verify(context.Background(), VerifyInput{Identifier: "ada", Role: RoleBidder, Code: "123456"})
	requireKind(t, err, apperror.KindInvalidState)
	assert.Equal(t, msgNoPendingVerify, apperror.SafeMessage(err))
}

func TestVerify_LockoutClearsCode(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	h := newHarness(t, withAttempts(limiter, 3))
	reg, code := h.register(t, bidderInput("ada@example.com", "ada", "+15550001"))
	wrong := VerifyInput{Identifier: "ada", Role: RoleBidder, Code: wrongCode(code)}

	for i := 0; i < 2; i++ {
		_, err := h.verification.Verify(context.Background(), wrong)
		requireKind(t, err, apperror.KindInvalidCode)
	}

	_, err := h.verification.Verify(context.Background(), wrong)
	requireKind(t, err, apperror.KindInvalidState)
	assert.Equal(t, msgTooManyAttempts, apperror.SafeMessage(err))
	assert.Nil(t, h.store.identity(reg.User.ID).Registration)

	// The right code no longer helps once the pending one is gone.
	_, err = h.verification.Verify(context.Background(), VerifyInput{Identifier: "ada", Role: RoleBidder, Code: code})
	requireKind(t, err, apperror.KindInvalidState)

	// A resend starts a fresh allowance.
	_, err = h.registration.Resend(context.Background(), "ada", RoleBidder)
	require.NoError(t, err)
	_, err = h.verification.Verify(context.Background(), wrong)
	requireKind(t, err, apperror.KindInvalidCode)
	_, err = h.verification.Verify(context.Background(), VerifyInput{Identifier: "ada", Role: RoleBidder, Code: h.notifier.lastCode(t)})
	require.NoError(t, err)
}

func TestVerify_LimiterOutageFailsOpen(t *testing.T) {
	limiter, mr := newRedisLimiter(t)
	h := newHarness(t, withAttempts(limiter, 1))
	_, code := h.register(t, bidderInput("ada@example.com", "ada", "+15550001"))
	mr.Close()

	for i := 0; i < 3; i++ {
		_, err := h.verification.Verify(context.Background(), VerifyInput{Identifier: "ada", Role: RoleBidder, Code: wrongCode(code)})
		requireKind(t, err, apperror.KindInvalidCode)
	}
	_, err := h.verification.Verify(context.Background(), VerifyInput{Identifier: "ada", Role: RoleBidder, Code: code})
	require.NoError(t, err)
}

func TestVerify_MarkFailure(t *testing.T) {
	h := newHarness(t)
	_, code := h.register(t, bidderInput("ada@example.com", "ada", "+15550001"))
	h.store.fail["identities.mark_verified"] = errStoreDown

	_, err := h.verification.Verify(context.Background(), VerifyInput{Identifier: "ada", Role: RoleBidder, Code: code})
	requireKind(t, err, apperror.KindPersistence)
}

// otherCode returns a code equal to none of codes.
func otherCode(codes ...string) string {
	for _, c := range []string{"000000", "111111", "222222"} {
		clash := false
		for _, code := range codes {
			clash = clash || c == code
		}
		if !clash {
			return c
		}
	}
	return "333333"
}

func TestVerify_SharedUsernameMatchesEitherSignUp(t *testing.T) {
	h := newHarness(t)
	first, codeA := h.register(t, bidderInput("a@example.com", "alice1", "+15550001"))
	second, codeB := h.register(t, bidderInput("b@example.com", "alice1", "+15550002"))

	// The earlier sign-up is not the most recently updated one.
	res, err := h.verification.Verify(context.Background(), VerifyInput{Identifier: "alice1", Role: RoleBidder, Code: codeA})
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, res.User.ID)
	assert.True(t, h.store.identity(first.User.ID).Verified)

	pending := h.store.identity(second.User.ID)
	assert.False(t, pending.Verified)
	require.NotNil(t, pending.Registration)
	assert.Equal(t, codeB, pending.Registration.Code)
}

func TestVerify_SharedUsernameChargesTheUsername(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	h := newHarness(t, withAttempts(limiter, 3))
	first, codeA := h.register(t, bidderInput("a@example.com", "alice1", "+15550001"))
	second, codeB := h.register(t, bidderInput("b@example.com", "alice1", "+15550002"))
	wrong := VerifyInput{Identifier: "alice1", Role: RoleBidder, Code: otherCode(codeA, codeB)}

	for i := 0; i < 3; i++ {
		_, err := h.verification.Verify(context.Background(), wrong)
		requireKind(t, err, apperror.KindInvalidCode)
	}

	// The username is locked for its window, even for a right code.
	_, err := h.verification.Verify(context.Background(), VerifyInput{Identifier: "alice1", Role: RoleBidder, Code: codeA})
	requireKind(t, err, apperror.KindInvalidState)
	assert.Equal(t, msgTooManyAttempts, apperror.SafeMessage(err))

	// Neither account was charged or lost its code.
	for _, id := range []string{first.User.ID, second.User.ID} {
		assert.NotNil(t, h.store.identity(id).Registration)
		n, err := limiter.Count(context.Background(), registrationAttemptKey(id))
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	res, err := h.verification.Verify(context.Background(), VerifyInput{Identifier: "b@example.com", Role: RoleBidder, Code: codeB})
	require.NoError(t, err)
	assert.Equal(t, second.User.ID, res.User.ID)
}

func TestVerify_SharedUsernameNothingPending(t *testing.T) {
	h := newHarness(t)
	first, _ := h.register(t, bidderInput("a@example.com", "alice1", "+15550001"))
	second, _ := h.register(t, bidderInput("b@example.com", "alice1", "+15550002"))
	for _, id := range []string{first.User.ID, second.User.ID} {
		require.NoError(t, h.store.Identities().UpdateRegistration(context.Background(), id, RoleBidder, nil))
	}

	_, err := h.verification.Verify(context.Background(), VerifyInput{Identifier: "alice1", Role: RoleBidder, Code: "123456"})
	requireKind(t, err, apperror.KindInvalidState)
	assert.Equal(t, msgNoPendingVerify, apperror.SafeMessage(err))
}

func TestResend_SharedUsernameNeedsEmail(t *testing.T) {
	h := newHarness(t)
	h.register(t, bidderInput("a@example.com", "alice1", "+15550001"))
	h.register(t, bidderInput("b@example.com", "alice1", "+15550002"))
	sent := h.notifier.count()

	_, err := h.registration.Resend(context.Background(), "alice1", RoleBidder)
	requireKind(t, err, apperror.KindInvalidState)
	assert.Equal(t, msgSharedUsername, apperror.SafeMessage(err))
	assert.Equal(t, sent, h.notifier.count())

	_, err = h.registration.Resend(context.Background(), "a@example.com", RoleBidder)
	require.NoError(t, err)
}
