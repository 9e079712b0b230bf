package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
	"github.com/keyxmakerx/bidhouse/internal/plugins/smtp"
)

// ResetService is the three-phase password reset. Each phase is invoked
// independently and they share the identity's reset code.
type ResetService interface {
	// RequestReset stores a new reset code and emails it. A failed email is
	// reported but nothing is rolled back; the identity already existed.
	RequestReset(ctx context.Context, email string) (*Result, error)

	// VerifyReset confirms a reset code without consuming it.
	VerifyReset(ctx context.Context, email, code string) (*Result, error)

	// ReplacePassword re-validates the code, then sets the new password and
	// consumes the code together.
	ReplacePassword(ctx context.Context, email, code, newPassword string) (*Result, error)
}

// resetService implements ResetService.
type resetService struct {
	Deps
}

// NewResetService creates the credential reset workflow.
func NewResetService(d Deps) ResetService {
	return &resetService{Deps: d.withDefaults()}
}

// errCodeConsumed means another request consumed or replaced the reset
// code between the check and the write.
var errCodeConsumed = errors.New("reset code already consumed")

// RequestReset implements ResetService.
func (s *resetService) RequestReset(ctx context.Context, email string) (*Result, error) {
	identity, err := s.Store.Identities().FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, persistence("looking up identity by email", err)
	}
	if identity == nil {
		s.Metrics.Reset("request", "not_found")
		return nil, apperror.NewNotFound(msgAccountNotFound)
	}

	code, err := s.Codes.Generate()
	if err != nil {
		return nil, apperror.NewPersistence(err)
	}
	if err := s.Store.Identities().SetResetCode(ctx, identity.ID, &code); err != nil {
		return nil, persistence("storing reset code", err)
	}
	s.resetAttempts(ctx, resetAttemptKey(identity.ID))

	sent := s.Notifier.Send(ctx, identity.Email, smtp.KindResetCode, s.codeVars("", code.Code))
	if !sent.Success {
		s.Metrics.Reset("request", "dispatch_failure")
		return nil, apperror.NewDispatchFailure(sent.Message)
	}

	s.Metrics.Reset("request", "success")
	slog.Info("password reset requested", slog.String("identity_id", identity.ID))
	return &Result{Success: true, Message: "reset code sent to " + identity.Email}, nil
}

// VerifyReset implements ResetService.
func (s *resetService) VerifyReset(ctx context.Context, email, code string) (*Result, error) {
	if _, err := s.checkResetCode(ctx, email, code); err != nil {
		s.Metrics.Reset("verify", string(apperror.KindOf(err)))
		return nil, err
	}

	s.Metrics.Reset("verify", "success")
	return &Result{Success: true, Message: "code accepted, choose a new password"}, nil
}

// ReplacePassword implements ResetService. The code is checked again here,
// so a client that skipped or replayed the verify phase gains nothing, and
// it is cleared in the same transaction that writes the new hash.
func (s *resetService) ReplacePassword(ctx context.Context, email, code, newPassword string) (*Result, error) {
	identity, err := s.checkResetCode(ctx, email, code)
	if err != nil {
		s.Metrics.Reset("replace", string(apperror.KindOf(err)))
		return nil, err
	}

	hash, err := s.Hasher.Hash(newPassword)
	if err != nil {
		return nil, apperror.NewPersistence(fmt.Errorf("hashing password: %w", err))
	}

	err = s.Store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		consumed, err := tx.Identities().ConsumeResetCode(ctx, identity.ID, identity.Reset.Code)
		if err != nil {
			return err
		}
		if !consumed {
			return errCodeConsumed
		}
		return tx.Profiles().UpdatePassword(ctx, identity.ID, identity.Role, hash)
	})
	if errors.Is(err, errCodeConsumed) {
		s.Metrics.Reset("replace", string(apperror.KindInvalidState))
		return nil, apperror.NewInvalidState(msgNoPendingReset)
	}
	if err != nil {
		return nil, persistence("replacing password", err)
	}
	s.resetAttempts(ctx, resetAttemptKey(identity.ID))

	s.Metrics.Reset("replace", "success")
	slog.Info("password reset completed", slog.String("identity_id", identity.ID))
	return &Result{Success: true, Message: "password updated"}, nil
}

// checkResetCode loads the identity for email and validates code against
// its pending reset code.
func (s *resetService) checkResetCode(ctx context.Context, email, code string) (*Identity, error) {
	identity, err := s.Store.Identities().FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, persistence("looking up identity by email", err)
	}
	if identity == nil {
		return nil, apperror.NewNotFound(msgAccountNotFound)
	}

	clear := func(ctx context.Context) error {
		return s.Store.Identities().SetResetCode(ctx, identity.ID, nil)
	}
	if err := s.checkCode(ctx, identity.Reset, code, msgNoPendingReset, resetAttemptKey(identity.ID), clear); err != nil {
		return nil, err
	}
	return identity, nil
}
