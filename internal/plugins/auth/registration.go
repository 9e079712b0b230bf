package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
	"github.com/keyxmakerx/bidhouse/internal/plugins/smtp"
)

// Registration paths, used in logs and metrics.
const (
	pathCreate = "create"
	pathReuse  = "reuse"
)

// RegistrationService runs sign-up: it creates or refreshes an unverified
// identity with its profile and emails a one-time code, undoing its own
// writes when the email cannot be sent.
type RegistrationService interface {
	// Register starts a sign-up and returns the pre-verification token.
	Register(ctx context.Context, input RegisterInput) (*Result, error)

	// Resend issues and emails a fresh code for an unverified account.
	Resend(ctx context.Context, identifier string, role Role) (*Result, error)
}

// registrationService implements RegistrationService.
type registrationService struct {
	Deps
}

// NewRegistrationService creates the registration workflow.
func NewRegistrationService(d Deps) RegistrationService {
	return &registrationService{Deps: d.withDefaults()}
}

// Register implements RegistrationService.
func (s *registrationService) Register(ctx context.Context, input RegisterInput) (*Result, error) {
	input.Email = normalizeEmail(input.Email)

	existing, err := s.Store.Identities().FindByEmail(ctx, input.Email)
	if err != nil {
		return nil, persistence("looking up identity by email", err)
	}
	if existing != nil && existing.Verified {
		s.Metrics.Registration(string(input.Role), "precheck", "conflict")
		return nil, apperror.NewConflict(msgEmailRegistered)
	}

	if err := s.checkNaturalKeys(ctx, input); err != nil {
		return nil, err
	}

	code, err := s.Codes.Generate()
	if err != nil {
		return nil, apperror.NewPersistence(err)
	}

	hash, err := s.Hasher.Hash(input.Password)
	if err != nil {
		return nil, apperror.NewPersistence(fmt.Errorf("hashing password: %w", err))
	}

	// The identity id is fixed before any write so the token can be signed
	// up front; a signing failure then leaves nothing to undo.
	path := pathCreate
	var before *priorState
	identity := &Identity{
		ID:           uuid.NewString(),
		Email:        input.Email,
		Role:         input.Role,
		Registration: &code,
	}
	if existing != nil {
		path = pathReuse
		prevProfile, err := s.Store.Profiles().FindByIdentity(ctx, existing.ID, existing.Role)
		if err != nil {
			return nil, persistence("looking up profile", err)
		}
		before = &priorState{role: existing.Role, profile: prevProfile}
		identity = existing
		identity.Role = input.Role
		identity.Registration = &code
	}
	profile := newProfile(input, identity.ID, hash)

	token, err := s.Tokens.IssueRegistration(identity, input.Username)
	if err != nil {
		return nil, apperror.NewPersistence(err)
	}

	if path == pathCreate {
		err = s.create(ctx, identity, profile)
	} else {
		err = s.reuse(ctx, before.role, identity, profile)
	}
	if err != nil {
		s.Metrics.Registration(string(input.Role), path, "error")
		return nil, persistence("saving registration", err)
	}

	// A fresh code starts a fresh allowance of guesses.
	s.resetAttempts(ctx, registrationAttemptKey(identity.ID))

	sent := s.Notifier.Send(ctx, identity.Email, smtp.KindRegistrationCode, s.codeVars(input.FullName, code.Code))
	if !sent.Success {
		if err := s.compensate(ctx, path, identity, before); err != nil {
			return nil, err
		}
		s.Metrics.Registration(string(input.Role), path, "dispatch_failure")
		return nil, apperror.NewDispatchFailure(sent.Message)
	}

	s.Metrics.Registration(string(input.Role), path, "success")
	slog.Info("registration started",
		slog.String("identity_id", identity.ID),
		slog.String("role", string(identity.Role)),
		slog.String("path", path),
	)

	return &Result{
		Success: true,
		Message: "verification code sent to " + identity.Email,
		Token:   token,
		User:    NewUserView(identity, profile),
	}, nil
}

// checkNaturalKeys rejects a username or contact already owned by a
// verified identity. Matches owned by unverified identities are reusable.
func (s *registrationService) checkNaturalKeys(ctx context.Context, input RegisterInput) error {
	if input.Role == RoleBidder {
		match, err := s.Store.Profiles().FindByUsername(ctx, input.Username)
		if err != nil {
			return persistence("looking up profile by username", err)
		}
		if match != nil && match.OwnerVerified {
			s.Metrics.Registration(string(input.Role), "precheck", "conflict")
			return apperror.NewConflict(msgUsernameTaken)
		}
	}

	match, err := s.Store.Profiles().FindByContact(ctx, input.Role, input.Contact)
	if err != nil {
		return persistence("looking up profile by contact", err)
	}
	if match != nil && match.OwnerVerified {
		s.Metrics.Registration(string(input.Role), "precheck", "conflict")
		return apperror.NewConflict(msgContactTaken)
	}
	return nil
}

// newProfile builds the profile of the input's role.
func newProfile(input RegisterInput, identityID, passwordHash string) Profile {
	base := ProfileBase{
		ID:           uuid.NewString(),
		IdentityID:   identityID,
		FullName:     input.FullName,
		Contact:      input.Contact,
		PasswordHash: passwordHash,
	}
	switch input.Role {
	case RoleMerchant:
		return &MerchantProfile{ProfileBase: base, BusinessName: input.BusinessName, Onboarding: OnboardingNone}
	case RoleOperator:
		return &OperatorProfile{ProfileBase: base}
	default:
		return &BidderProfile{ProfileBase: base, Username: input.Username}
	}
}

// create inserts a new identity and its profile in one transaction.
func (s *registrationService) create(ctx context.Context, identity *Identity, profile Profile) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.Identities().Create(ctx, identity); err != nil {
			return err
		}
		return tx.Profiles().Create(ctx, profile)
	})
}

// reuse overwrites the pending code and role of an unverified identity and
// replaces its profile in one transaction. A role change drops the profile
// of the previous role so the identity keeps exactly one.
func (s *registrationService) reuse(ctx context.Context, previousRole Role, identity *Identity, profile Profile) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.Identities().UpdateRegistration(ctx, identity.ID, identity.Role, identity.Registration); err != nil {
			return err
		}

		if previousRole != identity.Role {
			if err := tx.Profiles().DeleteByIdentity(ctx, identity.ID, previousRole); err != nil {
				return err
			}
		}

		current, err := tx.Profiles().FindByIdentity(ctx, identity.ID, identity.Role)
		if err != nil {
			return err
		}
		if current == nil {
			return tx.Profiles().Create(ctx, profile)
		}

		// Keep the row identity and anything an operator recorded.
		profile.Base().ID = current.Base().ID
		profile.Base().CreatedAt = current.Base().CreatedAt
		if prev, ok := current.(*MerchantProfile); ok {
			next := profile.(*MerchantProfile)
			next.Onboarding = prev.Onboarding
			next.OnboardingAttempts = prev.OnboardingAttempts
			next.RuleViolations = prev.RuleViolations
			next.SuspendedUntil = prev.SuspendedUntil
		}
		return tx.Profiles().Update(ctx, profile)
	})
}

// priorState is what a reuse-path registration overwrites: the identity's
// role and the profile it held in that role, nil if it had none.
type priorState struct {
	role    Role
	profile Profile
}

// compensate undoes a registration whose code email failed. The create path
// deletes the identity and profile it wrote. The reuse path puts back the
// role and profile in before and clears the pending code; a nil before only
// clears the code. It runs detached from the request context so a client
// hang-up cannot skip it.
func (s *registrationService) compensate(ctx context.Context, path string, identity *Identity, before *priorState) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	var err error
	if path == pathCreate {
		err = s.Store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
			if err := tx.Profiles().DeleteByIdentity(ctx, identity.ID, identity.Role); err != nil {
				return err
			}
			return tx.Identities().Delete(ctx, identity.ID)
		})
	} else {
		err = s.restore(ctx, identity, before)
	}

	s.Metrics.Compensation(path, err == nil)
	if err != nil {
		slog.Error("registration compensation failed",
			slog.String("identity_id", identity.ID),
			slog.String("path", path),
			slog.Any("error", err),
		)
		return persistence("compensating registration", err)
	}

	slog.Warn("registration rolled back after failed code email",
		slog.String("identity_id", identity.ID),
		slog.String("path", path),
	)
	return nil
}

// restore rolls a reused identity back to before with no pending code.
func (s *registrationService) restore(ctx context.Context, identity *Identity, before *priorState) error {
	role := identity.Role
	if before != nil {
		role = before.role
	}
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.Identities().UpdateRegistration(ctx, identity.ID, role, nil); err != nil {
			return err
		}
		if before == nil {
			return nil
		}
		// Drop what this attempt wrote and put the old row back under its
		// original id.
		if err := tx.Profiles().DeleteByIdentity(ctx, identity.ID, identity.Role); err != nil {
			return err
		}
		if before.profile == nil {
			return nil
		}
		return tx.Profiles().Create(ctx, before.profile)
	})
	if err == nil {
		identity.Role = role
		identity.Registration = nil
	}
	return err
}

// Resend implements RegistrationService. A failed email clears the new
// code, leaving the account with nothing pending. A username shared by
// several pending sign-ups is refused; the email identifies one account.
func (s *registrationService) Resend(ctx context.Context, identifier string, role Role) (*Result, error) {
	candidates, err := resolveCandidates(ctx, s.Store, identifier, role)
	if err != nil {
		return nil, err
	}
	switch {
	case len(candidates) == 0:
		return nil, apperror.NewNotFound(msgAccountNotFound)
	case len(candidates) > 1:
		return nil, apperror.NewInvalidState(msgSharedUsername)
	}
	identity, profile := candidates[0].identity, candidates[0].profile
	if identity.Verified {
		return nil, apperror.NewInvalidState(msgAlreadyVerified)
	}

	code, err := s.Codes.Generate()
	if err != nil {
		return nil, apperror.NewPersistence(err)
	}
	if err := s.Store.Identities().UpdateRegistration(ctx, identity.ID, identity.Role, &code); err != nil {
		return nil, persistence("storing registration code", err)
	}
	identity.Registration = &code
	s.resetAttempts(ctx, registrationAttemptKey(identity.ID))

	name := ""
	if profile != nil {
		name = profile.Base().FullName
	}
	sent := s.Notifier.Send(ctx, identity.Email, smtp.KindRegistrationCode, s.codeVars(name, code.Code))
	if !sent.Success {
		if err := s.compensate(ctx, pathReuse, identity, nil); err != nil {
			return nil, err
		}
		return nil, apperror.NewDispatchFailure(sent.Message)
	}

	return &Result{Success: true, Message: "verification code sent to " + identity.Email}, nil
}
