package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
)

// TokenKind separates the pre-verification token handed out at sign-up from
// the session token issued at login. Only session tokens authenticate.
type TokenKind string

// Token kinds, carried in the "typ" claim.
const (
	TokenRegistration TokenKind = "registration"
	TokenSession      TokenKind = "session"
)

const tokenIssuer = "bidhouse"

// Claims is the JWT payload for both token kinds.
type Claims struct {
	jwt.RegisteredClaims

	Kind     TokenKind `json:"typ"`
	Email    string    `json:"email"`
	Role     Role      `json:"role"`
	Username string    `json:"username,omitempty"`
	Verified bool      `json:"verified"`

	// Profile is the public profile snapshot. Session tokens only.
	Profile *ProfileSnapshot `json:"profile,omitempty"`
}

// IdentityID returns the subject claim.
func (c *Claims) IdentityID() string {
	return c.Subject
}

// TokenIssuer signs and parses HS256 tokens.
type TokenIssuer struct {
	secret          []byte
	sessionTTL      time.Duration
	registrationTTL time.Duration
	now             func() time.Time
}

// NewTokenIssuer creates an issuer signing with secret.
func NewTokenIssuer(secret string, sessionTTL, registrationTTL time.Duration, now func() time.Time) *TokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{
		secret:          []byte(secret),
		sessionTTL:      sessionTTL,
		registrationTTL: registrationTTL,
		now:             now,
	}
}

// IssueRegistration signs the long-lived token returned by sign-up. It
// proves a registration is in progress, not that the email is verified.
func (t *TokenIssuer) IssueRegistration(identity *Identity, username string) (string, error) {
	return t.sign(Claims{
		RegisteredClaims: t.registered(identity.ID, t.registrationTTL),
		Kind:             TokenRegistration,
		Email:            identity.Email,
		Role:             identity.Role,
		Username:         username,
		Verified:         false,
	})
}

// IssueSession signs a bounded session token carrying the profile snapshot
// so downstream handlers need no lookup for display data.
func (t *TokenIssuer) IssueSession(identity *Identity, p Profile) (string, error) {
	snap := SnapshotOf(p)
	return t.sign(Claims{
		RegisteredClaims: t.registered(identity.ID, t.sessionTTL),
		Kind:             TokenSession,
		Email:            identity.Email,
		Role:             identity.Role,
		Username:         snap.Username,
		Verified:         identity.Verified,
		Profile:          &snap,
	})
}

func (t *TokenIssuer) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := t.now()
	return jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (t *TokenIssuer) sign(claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", claims.Kind, err)
	}
	return signed, nil
}

// Parse validates signature, issuer and lifetime, and that the token is of
// the wanted kind. Every failure is Unauthorized.
func (t *TokenIssuer) Parse(raw string, want TokenKind) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.NewUnauthorized("token has expired")
		}
		return nil, apperror.NewUnauthorized("invalid token")
	}
	if claims.Kind != want {
		return nil, apperror.NewUnauthorized("invalid token")
	}
	return claims, nil
}
