package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
)

// VerificationService confirms a registration code and marks the identity
// verified. It only touches the store; no email is sent.
type VerificationService interface {
	Verify(ctx context.Context, input VerifyInput) (*Result, error)
}

// verificationService implements VerificationService.
type verificationService struct {
	Deps
}

// NewVerificationService creates the verification workflow.
func NewVerificationService(d Deps) VerificationService {
	return &verificationService{Deps: d.withDefaults()}
}

// Verify checks, in order: the account exists, is not yet verified, has a
// pending code, the code matches, and it has not expired. On success the
// code is cleared with the verified flag in a single write, so replaying
// the same code reports that nothing is pending.
func (s *verificationService) Verify(ctx context.Context, input VerifyInput) (*Result, error) {
	candidates, err := resolveCandidates(ctx, s.Store, input.Identifier, input.Role)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		s.Metrics.Verification("not_found")
		return nil, apperror.NewNotFound(msgAccountNotFound)
	}
	target, err := s.pick(ctx, candidates, input)
	if err != nil {
		s.Metrics.Verification(string(apperror.KindOf(err)))
		return nil, err
	}
	identity, profile := target.identity, target.profile
	if identity.Verified {
		s.Metrics.Verification("already_verified")
		return nil, apperror.NewInvalidState(msgAlreadyVerified)
	}

	key := registrationAttemptKey(identity.ID)
	clear := func(ctx context.Context) error {
		return s.Store.Identities().UpdateRegistration(ctx, identity.ID, identity.Role, nil)
	}
	if err := s.checkCode(ctx, identity.Registration, input.Code, msgNoPendingVerify, key, clear); err != nil {
		s.Metrics.Verification(string(apperror.KindOf(err)))
		return nil, err
	}

	if err := s.Store.Identities().MarkVerified(ctx, identity.ID); err != nil {
		return nil, persistence("marking identity verified", err)
	}
	identity.Verified = true
	identity.Registration = nil
	s.resetAttempts(ctx, key)

	s.Metrics.Verification("success")
	slog.Info("identity verified",
		slog.String("identity_id", identity.ID),
		slog.String("role", string(identity.Role)),
	)

	return &Result{
		Success: true,
		Message: "account verified",
		User:    NewUserView(identity, profile),
	}, nil
}

// pick chooses the candidate a code is meant for. Several candidates only
// occur when pending sign-ups share a username: the one whose pending code
// matches wins. A code matching none is charged to the username, since no
// single account can be blamed, and once that counter is full no candidate
// is tried until the window passes.
func (s *verificationService) pick(ctx context.Context, candidates []candidate, input VerifyInput) (candidate, error) {
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	key := sharedUsernameAttemptKey(input.Identifier)
	if s.MaxAttempts > 0 {
		n, err := s.Attempts.Count(ctx, key)
		if err != nil {
			slog.Warn("attempt limiter unavailable", slog.String("key", key), slog.Any("error", err))
		} else if n >= int64(s.MaxAttempts) {
			return candidate{}, apperror.NewInvalidState(msgTooManyAttempts)
		}
	}

	code := strings.TrimSpace(input.Code)
	pending := false
	for _, c := range candidates {
		if c.identity.Registration == nil {
			continue
		}
		pending = true
		if codesEqual(code, c.identity.Registration.Code) {
			return c, nil
		}
	}
	if !pending {
		return candidate{}, apperror.NewInvalidState(msgNoPendingVerify)
	}

	if s.MaxAttempts > 0 {
		if _, err := s.Attempts.Fail(ctx, key, s.Codes.TTL()); err != nil {
			slog.Warn("attempt limiter unavailable", slog.String("key", key), slog.Any("error", err))
		}
	}
	return candidate{}, apperror.NewInvalidCode(msgInvalidCode)
}
