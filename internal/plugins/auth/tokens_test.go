package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
)

func testIssuer(now *time.Time) *TokenIssuer {
	return NewTokenIssuer(testSecret, time.Hour, 24*time.Hour, func() time.Time { return *now })
}

func TestTokenIssuer_RegistrationToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := testIssuer(&now)
	identity := &Identity{ID: "id-1", Email: "ada@example.com", Role: RoleBidder}

	raw, err := issuer.IssueRegistration(identity, "ada")
	require.NoError(t, err)

	claims, err := issuer.Parse(raw, TokenRegistration)
	require.NoError(t, err)
	assert.Equal(t, "id-1", claims.Subject)
	assert.Equal(t, "bidhouse", claims.Issuer)
	assert.Equal(t, TokenRegistration, claims.Kind)
	assert.Nil(t, claims.Profile)
	assert.Equal(t, now.Add(24*time.Hour), claims.ExpiresAt.Time.UTC())
}

func TestTokenIssuer_SessionToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := testIssuer(&now)
	identity := &Identity{ID: "id-2", Email: "shop@example.com", Role: RoleMerchant, Verified: true}
	profile := &MerchantProfile{
		ProfileBase:  ProfileBase{FullName: "Grace Hopper", Contact: "+15550009", PasswordHash: "secret"},
		BusinessName: "Hopper Antiques",
		Onboarding:   OnboardingPending,
	}

	raw, err := issuer.IssueSession(identity, profile)
	require.NoError(t, err)

	claims, err := issuer.Parse(raw, TokenSession)
	require.NoError(t, err)
	require.NotNil(t, claims.Profile)
	assert.Equal(t, ProfileSnapshot{
		FullName:         "Grace Hopper",
		Contact:          "+15550009",
		BusinessName:     "Hopper Antiques",
		OnboardingStatus: OnboardingPending,
	}, *claims.Profile)
	assert.NotContains(t, raw, "secret")
}

func TestTokenIssuer_Rejects(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := testIssuer(&now)
	identity := &Identity{ID: "id-3", Email: "ada@example.com", Role: RoleBidder, Verified: true}
	session, err := issuer.IssueSession(identity, &BidderProfile{Username: "ada"})
	require.NoError(t, err)

	other := NewTokenIssuer("a-different-secret-of-enough-length", time.Hour, time.Hour, func() time.Time { return now })
	forged, err := other.IssueSession(identity, nil)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "bidhouse",
			Subject:   "id-3",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Kind: TokenSession,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "id-3",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Kind: TokenSession,
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
		want TokenKind
	}{
		{"wrong kind", session, TokenRegistration},
		{"wrong secret", forged, TokenSession},
		{"alg none", unsigned, TokenSession},
		{"foreign issuer", foreign, TokenSession},
		{"tampered", session + "x", TokenSession},
		{"garbage", "not-a-token", TokenSession},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Parse(tt.raw, tt.want)
			requireKind(t, err, apperror.KindUnauthorized)
			assert.Equal(t, "invalid token", apperror.SafeMessage(err))
		})
	}

	now = now.Add(2 * time.Hour)
	_, err = issuer.Parse(session, TokenSession)
	requireKind(t, err, apperror.KindUnauthorized)
	assert.Equal(t, "token has expired", apperror.SafeMessage(err))
}
