package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
	"github.com/keyxmakerx/bidhouse/internal/observability"
	"github.com/keyxmakerx/bidhouse/internal/plugins/smtp"
)

// Notifier is the notification dispatcher contract. Send reports delivery
// failure through the result, never through a panic or error.
type Notifier interface {
	Send(ctx context.Context, recipient string, kind smtp.TemplateKind, vars map[string]string) smtp.DispatchResult
}

// Deps bundles the collaborators shared by the account workflows. Every
// workflow gets its own copy; nothing here is mutated after construction.
type Deps struct {
	Store    Store
	Hasher   Hasher
	Codes    *CodeGenerator
	Tokens   *TokenIssuer
	Notifier Notifier

	// Attempts counts wrong code guesses. MaxAttempts <= 0 disables the cap.
	Attempts    AttemptLimiter
	MaxAttempts int

	Metrics *observability.Metrics
	Now     func() time.Time
}

// withDefaults fills optional collaborators.
func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Attempts == nil || d.MaxAttempts <= 0 {
		d.Attempts = noopLimiter{}
		d.MaxAttempts = 0
	}
	return d
}

// Client-facing messages shared by more than one workflow.
const (
	msgAccountNotFound  = "account not found"
	msgInvalidCode      = "incorrect code"
	msgExpiredCode      = "code has expired, request a new code"
	msgTooManyAttempts  = "too many incorrect attempts, request a new code"
	msgInvalidLogin     = "invalid credentials"
	msgNoPendingVerify  = "no pending verification request"
	msgNoPendingReset   = "no pending password reset request"
	msgAlreadyVerified  = "account already verified"
	msgEmailRegistered  = "email already registered"
	msgUsernameTaken    = "username already taken"
	msgContactTaken     = "contact number already taken"
	msgSharedUsername   = "more than one pending sign-up uses this username, use your email address instead"
	compensationTimeout = 5 * time.Second
)

// normalizeEmail lowercases and trims an email so lookups are
// case-insensitive.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// persistence wraps a store error as a PersistenceFailure.
func persistence(op string, err error) error {
	return apperror.NewPersistence(fmt.Errorf("%s: %w", op, err))
}

// resolveIdentity finds the identity a verification or login key refers to,
// scoped to role. Bidders may use their username; an identifier containing
// "@" is always an email. An identity of another role counts as absent.
// Returns (nil, nil, nil) when nothing matches.
func resolveIdentity(ctx context.Context, store Store, identifier string, role Role) (*Identity, Profile, error) {
	identifier = strings.TrimSpace(identifier)

	if role == RoleBidder && !strings.Contains(identifier, "@") {
		match, err := store.Profiles().FindByUsername(ctx, identifier)
		if err != nil {
			return nil, nil, persistence("looking up profile by username", err)
		}
		if match == nil {
			return nil, nil, nil
		}
		identity, err := store.Identities().FindByID(ctx, match.Profile.Base().IdentityID)
		if err != nil {
			return nil, nil, persistence("looking up identity", err)
		}
		if identity == nil || identity.Role != role {
			return nil, nil, nil
		}
		return identity, match.Profile, nil
	}

	identity, err := store.Identities().FindByEmail(ctx, normalizeEmail(identifier))
	if err != nil {
		return nil, nil, persistence("looking up identity by email", err)
	}
	if identity == nil || identity.Role != role {
		return nil, nil, nil
	}
	profile, err := store.Profiles().FindByIdentity(ctx, identity.ID, identity.Role)
	if err != nil {
		return nil, nil, persistence("looking up profile", err)
	}
	return identity, profile, nil
}

// candidate is an identity a verification key may refer to.
type candidate struct {
	identity *Identity
	profile  Profile
}

// resolveCandidates is resolveIdentity for keys that pending sign-ups may
// share. An email, or a username held by a verified identity, yields at
// most one candidate. Otherwise every pending bidder holding the username
// is returned.
func resolveCandidates(ctx context.Context, store Store, identifier string, role Role) ([]candidate, error) {
	identifier = strings.TrimSpace(identifier)
	if role != RoleBidder || strings.Contains(identifier, "@") {
		identity, profile, err := resolveIdentity(ctx, store, identifier, role)
		if err != nil || identity == nil {
			return nil, err
		}
		return []candidate{{identity: identity, profile: profile}}, nil
	}

	matches, err := store.Profiles().ListByUsername(ctx, identifier)
	if err != nil {
		return nil, persistence("listing profiles by username", err)
	}
	var out []candidate
	for _, m := range matches {
		identity, err := store.Identities().FindByID(ctx, m.Profile.Base().IdentityID)
		if err != nil {
			return nil, persistence("looking up identity", err)
		}
		if identity == nil || identity.Role != role {
			continue
		}
		if identity.Verified {
			return []candidate{{identity: identity, profile: m.Profile}}, nil
		}
		out = append(out, candidate{identity: identity, profile: m.Profile})
	}
	return out, nil
}

// checkCode validates a submitted one-time code against the pending one:
// absent code, mismatch, then expiry. A mismatch counts toward the attempt
// cap; reaching it calls clear, which must drop the pending code.
func (d Deps) checkCode(ctx context.Context, pending *PendingCode, submitted, noPendingMsg, attemptKey string, clear func(context.Context) error) error {
	if pending == nil {
		return apperror.NewInvalidState(noPendingMsg)
	}

	if !codesEqual(strings.TrimSpace(submitted), pending.Code) {
		locked, err := d.recordFailure(ctx, attemptKey, clear)
		if err != nil {
			return err
		}
		if locked {
			return apperror.NewInvalidState(msgTooManyAttempts)
		}
		return apperror.NewInvalidCode(msgInvalidCode)
	}

	if pending.Expired(d.Now()) {
		return apperror.NewExpired(msgExpiredCode)
	}
	return nil
}

// recordFailure counts a wrong guess and reports whether the cap was hit.
// A limiter outage lets the guess through rather than blocking
// verification entirely.
func (d Deps) recordFailure(ctx context.Context, key string, clear func(context.Context) error) (bool, error) {
	if d.MaxAttempts <= 0 {
		return false, nil
	}
	n, err := d.Attempts.Fail(ctx, key, d.Codes.TTL())
	if err != nil {
		slog.Warn("attempt limiter unavailable", slog.String("key", key), slog.Any("error", err))
		return false, nil
	}
	if n < int64(d.MaxAttempts) {
		return false, nil
	}

	if err := clear(ctx); err != nil {
		return false, persistence("clearing locked-out code", err)
	}
	d.resetAttempts(ctx, key)
	return true, nil
}

// resetAttempts forgets failures for key, logging limiter errors.
func (d Deps) resetAttempts(ctx context.Context, key string) {
	if err := d.Attempts.Reset(ctx, key); err != nil {
		slog.Warn("resetting attempt counter", slog.String("key", key), slog.Any("error", err))
	}
}

// codeVars are the template variables for a code email.
func (d Deps) codeVars(name, code string) map[string]string {
	return map[string]string{
		"name":    name,
		"code":    code,
		"minutes": fmt.Sprintf("%d", int(d.Codes.TTL().Minutes())),
	}
}

// dummyHash is compared against when no account matches a login so the
// response time does not reveal whether the identifier exists.
type dummyHash struct {
	once sync.Once
	hash string
}

func (h *dummyHash) get(hasher Hasher) string {
	h.once.Do(func() {
		h.hash, _ = hasher.Hash("bidhouse-timing-equalizer")
	})
	return h.hash
}
