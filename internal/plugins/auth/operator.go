package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
	"github.com/keyxmakerx/bidhouse/internal/plugins/smtp"
)

// CreateMerchantInput is an operator's request to onboard a merchant
// directly. Password is optional; without one the merchant must use the
// reset flow before signing in.
type CreateMerchantInput struct {
	Email        string
	FullName     string
	Contact      string
	BusinessName string
	Password     string
}

// CreateOperatorInput is a request to create an operator account outside
// the public sign-up flow.
type CreateOperatorInput struct {
	Email    string
	FullName string
	Contact  string
	Password string
}

// BanInput describes a ban. A nil Until is a permanent ban; otherwise the
// identity is barred until that instant.
type BanInput struct {
	Reason string
	Until  *time.Time
}

// OperatorService holds the account administration used by marketplace
// operators.
type OperatorService interface {
	// CreateMerchant creates a verified merchant whose onboarding is already
	// approved, then sends a best-effort welcome email.
	CreateMerchant(ctx context.Context, input CreateMerchantInput) (*Result, error)

	// CreateOperator creates a verified operator with a password. Used to
	// bootstrap the first operator from the command line.
	CreateOperator(ctx context.Context, input CreateOperatorInput) (*Result, error)

	// TransitionOnboarding moves a merchant's onboarding state machine.
	TransitionOnboarding(ctx context.Context, identityID string, next OnboardingStatus) (*MerchantProfile, error)

	// RecordViolation counts a rule violation and, when suspendFor is
	// positive, extends the merchant ban window.
	RecordViolation(ctx context.Context, identityID string, suspendFor time.Duration) (*MerchantProfile, error)

	// Ban bars an identity from signing in. Operators cannot ban themselves.
	Ban(ctx context.Context, actorID, identityID string, input BanInput) (*Identity, error)

	// Unban lifts both the permanent ban and any ban window.
	Unban(ctx context.Context, identityID string) (*Identity, error)
}

// operatorService implements OperatorService.
type operatorService struct {
	Deps
}

// NewOperatorService creates the operator workflow.
func NewOperatorService(d Deps) OperatorService {
	return &operatorService{Deps: d.withDefaults()}
}

// CreateMerchant implements OperatorService. An unverified identity holding
// the email is an abandoned sign-up and is replaced.
func (s *operatorService) CreateMerchant(ctx context.Context, input CreateMerchantInput) (*Result, error) {
	input.Email = normalizeEmail(input.Email)

	existing, err := s.checkAvailable(ctx, input.Email, RoleMerchant, input.Contact)
	if err != nil {
		return nil, err
	}

	var hash string
	if input.Password != "" {
		if hash, err = s.Hasher.Hash(input.Password); err != nil {
			return nil, apperror.NewPersistence(fmt.Errorf("hashing password: %w", err))
		}
	}

	identity := &Identity{
		ID:       uuid.NewString(),
		Email:    input.Email,
		Role:     RoleMerchant,
		Verified: true,
	}
	profile := &MerchantProfile{
		ProfileBase: ProfileBase{
			ID:           uuid.NewString(),
			IdentityID:   identity.ID,
			FullName:     input.FullName,
			Contact:      input.Contact,
			PasswordHash: hash,
		},
		BusinessName: input.BusinessName,
		Onboarding:   OnboardingVerified,
	}

	if err := s.replaceWith(ctx, existing, identity, profile); err != nil {
		return nil, persistence("creating merchant", err)
	}

	nextStep := "sign in with the password you were given"
	if hash == "" {
		nextStep = "request a password reset with this email address to choose a password"
	}
	sent := s.Notifier.Send(ctx, identity.Email, smtp.KindMerchantWelcome, map[string]string{
		"name":      input.FullName,
		"business":  input.BusinessName,
		"next_step": nextStep,
	})

	message := "merchant created"
	if !sent.Success {
		slog.Warn("merchant welcome email failed",
			slog.String("identity_id", identity.ID),
			slog.String("reason", sent.Message),
		)
		message = "merchant created, welcome email not sent"
	}

	slog.Info("merchant created by operator", slog.String("identity_id", identity.ID))
	return &Result{Success: true, Message: message, User: NewUserView(identity, profile)}, nil
}

// CreateOperator implements OperatorService. Like CreateMerchant, an
// unverified identity holding the email is replaced.
func (s *operatorService) CreateOperator(ctx context.Context, input CreateOperatorInput) (*Result, error) {
	input.Email = normalizeEmail(input.Email)

	existing, err := s.checkAvailable(ctx, input.Email, RoleOperator, input.Contact)
	if err != nil {
		return nil, err
	}

	hash, err := s.Hasher.Hash(input.Password)
	if err != nil {
		return nil, apperror.NewPersistence(fmt.Errorf("hashing password: %w", err))
	}

	identity := &Identity{
		ID:       uuid.NewString(),
		Email:    input.Email,
		Role:     RoleOperator,
		Verified: true,
	}
	profile := &OperatorProfile{ProfileBase: ProfileBase{
		ID:           uuid.NewString(),
		IdentityID:   identity.ID,
		FullName:     input.FullName,
		Contact:      input.Contact,
		PasswordHash: hash,
	}}

	if err := s.replaceWith(ctx, existing, identity, profile); err != nil {
		return nil, persistence("creating operator", err)
	}

	slog.Info("operator created", slog.String("identity_id", identity.ID))
	return &Result{Success: true, Message: "operator created", User: NewUserView(identity, profile)}, nil
}

// checkAvailable rejects an email held by a verified identity and a contact
// held by a verified owner of role. It returns the unverified identity
// holding the email, if any.
func (s *operatorService) checkAvailable(ctx context.Context, email string, role Role, contact string) (*Identity, error) {
	existing, err := s.Store.Identities().FindByEmail(ctx, email)
	if err != nil {
		return nil, persistence("looking up identity by email", err)
	}
	if existing != nil && existing.Verified {
		return nil, apperror.NewConflict(msgEmailRegistered)
	}

	match, err := s.Store.Profiles().FindByContact(ctx, role, contact)
	if err != nil {
		return nil, persistence("looking up profile by contact", err)
	}
	if match != nil && match.OwnerVerified {
		return nil, apperror.NewConflict(msgContactTaken)
	}
	return existing, nil
}

// replaceWith writes a new verified account, first deleting the abandoned
// sign-up it replaces, in one transaction.
func (s *operatorService) replaceWith(ctx context.Context, existing, identity *Identity, profile Profile) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		if existing != nil {
			if err := tx.Profiles().DeleteByIdentity(ctx, existing.ID, existing.Role); err != nil {
				return err
			}
			if err := tx.Identities().Delete(ctx, existing.ID); err != nil {
				return err
			}
		}
		if err := tx.Identities().Create(ctx, identity); err != nil {
			return err
		}
		return tx.Profiles().Create(ctx, profile)
	})
}

// TransitionOnboarding implements OperatorService.
func (s *operatorService) TransitionOnboarding(ctx context.Context, identityID string, next OnboardingStatus) (*MerchantProfile, error) {
	merchant, err := s.findMerchant(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if err := merchant.Advance(next); err != nil {
		return nil, apperror.NewInvalidState(err.Error())
	}
	if err := s.Store.Profiles().Update(ctx, merchant); err != nil {
		return nil, persistence("updating onboarding status", err)
	}

	slog.Info("merchant onboarding changed",
		slog.String("identity_id", identityID),
		slog.String("status", string(next)),
		slog.Int("attempts", merchant.OnboardingAttempts),
	)
	return merchant, nil
}

// RecordViolation implements OperatorService. A new window never shortens
// one already in force.
func (s *operatorService) RecordViolation(ctx context.Context, identityID string, suspendFor time.Duration) (*MerchantProfile, error) {
	merchant, err := s.findMerchant(ctx, identityID)
	if err != nil {
		return nil, err
	}

	merchant.RuleViolations++
	if suspendFor > 0 {
		until := s.Now().UTC().Add(suspendFor).Truncate(time.Second)
		if merchant.SuspendedUntil == nil || until.After(*merchant.SuspendedUntil) {
			merchant.SuspendedUntil = &until
		}
	}
	if err := s.Store.Profiles().Update(ctx, merchant); err != nil {
		return nil, persistence("recording violation", err)
	}

	slog.Info("merchant rule violation recorded",
		slog.String("identity_id", identityID),
		slog.Int("violations", merchant.RuleViolations),
	)
	return merchant, nil
}

// findMerchant loads a merchant profile by identity id.
func (s *operatorService) findMerchant(ctx context.Context, identityID string) (*MerchantProfile, error) {
	p, err := s.Store.Profiles().FindByIdentity(ctx, identityID, RoleMerchant)
	if err != nil {
		return nil, persistence("looking up merchant profile", err)
	}
	merchant, ok := p.(*MerchantProfile)
	if !ok || merchant == nil {
		return nil, apperror.NewNotFound("merchant not found")
	}
	return merchant, nil
}

// Ban implements OperatorService.
func (s *operatorService) Ban(ctx context.Context, actorID, identityID string, input BanInput) (*Identity, error) {
	if actorID == identityID {
		return nil, apperror.NewInvalidState("you cannot ban your own account")
	}
	if input.Until != nil && !input.Until.After(s.Now()) {
		return nil, apperror.NewValidation("ban window must end in the future")
	}

	identity, err := s.findIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}

	identity.BanReason = input.Reason
	if input.Until == nil {
		identity.Banned = true
		identity.BannedUntil = nil
	} else {
		until := input.Until.UTC().Truncate(time.Second)
		identity.Banned = false
		identity.BannedUntil = &until
	}
	if err := s.Store.Identities().UpdateBan(ctx, identity.ID, identity.Banned, identity.BanReason, identity.BannedUntil); err != nil {
		return nil, persistence("updating ban", err)
	}

	slog.Info("identity banned",
		slog.String("identity_id", identity.ID),
		slog.String("actor_id", actorID),
		slog.Bool("permanent", identity.Banned),
	)
	return identity, nil
}

// Unban implements OperatorService.
func (s *operatorService) Unban(ctx context.Context, identityID string) (*Identity, error) {
	identity, err := s.findIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}

	identity.Banned = false
	identity.BanReason = ""
	identity.BannedUntil = nil
	if err := s.Store.Identities().UpdateBan(ctx, identity.ID, false, "", nil); err != nil {
		return nil, persistence("lifting ban", err)
	}

	slog.Info("identity unbanned", slog.String("identity_id", identity.ID))
	return identity, nil
}

// findIdentity loads an identity by id or returns NotFound.
func (s *operatorService) findIdentity(ctx context.Context, identityID string) (*Identity, error) {
	identity, err := s.Store.Identities().FindByID(ctx, identityID)
	if err != nil {
		return nil, persistence("looking up identity", err)
	}
	if identity == nil {
		return nil, apperror.NewNotFound(msgAccountNotFound)
	}
	return identity, nil
}
