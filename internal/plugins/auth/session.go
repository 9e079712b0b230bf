package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
)

// SessionService signs verified accounts in and issues session tokens.
type SessionService interface {
	// Login checks credentials and account state, then issues a session
	// token carrying the profile snapshot.
	Login(ctx context.Context, input LoginInput) (*Result, error)

	// Current returns the live view of a signed-in identity.
	Current(ctx context.Context, identityID string) (*Result, error)
}

// sessionService implements SessionService.
type sessionService struct {
	Deps
	dummy *dummyHash
}

// NewSessionService creates the session issuer.
func NewSessionService(d Deps) SessionService {
	return &sessionService{Deps: d.withDefaults(), dummy: &dummyHash{}}
}

// Login implements SessionService. Account standing is checked before the
// password. Every rejection is Unauthorized.
func (s *sessionService) Login(ctx context.Context, input LoginInput) (*Result, error) {
	identity, profile, err := resolveIdentity(ctx, s.Store, input.Identifier, input.Role)
	if err != nil {
		return nil, err
	}

	if identity == nil || profile == nil {
		s.Hasher.Compare(input.Password, s.dummy.get(s.Hasher))
		s.Metrics.Login(string(input.Role), "invalid_credentials")
		return nil, apperror.NewUnauthorized(msgInvalidLogin)
	}

	if err := s.checkStanding(identity, profile, s.Now()); err != nil {
		s.Metrics.Login(string(input.Role), "rejected")
		slog.Info("login rejected",
			slog.String("identity_id", identity.ID),
			slog.String("reason", err.Error()),
		)
		return nil, err
	}

	hash := profile.Base().PasswordHash
	if hash == "" {
		hash = s.dummy.get(s.Hasher)
	}
	if !s.Hasher.Compare(input.Password, hash) || profile.Base().PasswordHash == "" {
		s.Metrics.Login(string(input.Role), "invalid_credentials")
		return nil, apperror.NewUnauthorized(msgInvalidLogin)
	}

	token, err := s.Tokens.IssueSession(identity, profile)
	if err != nil {
		return nil, apperror.NewPersistence(err)
	}

	s.Metrics.Login(string(identity.Role), "success")
	slog.Info("login succeeded",
		slog.String("identity_id", identity.ID),
		slog.String("role", string(identity.Role)),
	)
	return &Result{
		Success: true,
		Message: "signed in",
		Token:   token,
		User:    NewUserView(identity, profile),
	}, nil
}

// checkStanding rejects accounts that may not hold a session: unverified,
// banned or inside a ban window, or a suspended merchant.
func (s *sessionService) checkStanding(identity *Identity, profile Profile, now time.Time) error {
	if !identity.Verified {
		return apperror.NewUnauthorized("account is not verified")
	}
	if banned, msg := identity.BanState(now); banned {
		return apperror.NewUnauthorized(msg)
	}
	if m, ok := profile.(*MerchantProfile); ok && m.Suspended(now) {
		return apperror.NewUnauthorized("merchant account is suspended until " + m.SuspendedUntil.UTC().Format(time.RFC3339))
	}
	return nil
}

// Current implements SessionService.
func (s *sessionService) Current(ctx context.Context, identityID string) (*Result, error) {
	identity, err := s.Store.Identities().FindByID(ctx, identityID)
	if err != nil {
		return nil, persistence("looking up identity", err)
	}
	if identity == nil {
		return nil, apperror.NewNotFound(msgAccountNotFound)
	}
	profile, err := s.Store.Profiles().FindByIdentity(ctx, identity.ID, identity.Role)
	if err != nil {
		return nil, persistence("looking up profile", err)
	}
	return &Result{Success: true, Message: "ok", User: NewUserView(identity, profile)}, nil
}
