// Package auth owns account identity and verification for bidhouse: the
// base identity record, the role-specific profile attached to it, one-time
// codes delivered by email, credential reset, and session token issuance.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the single account kind an identity holds.
type Role string

// Role values. Must match the identities.role ENUM.
const (
	RoleBidder   Role = "bidder"
	RoleMerchant Role = "merchant"
	RoleOperator Role = "operator"
)

// ParseRole normalizes and validates a role string from a request.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBidder, RoleMerchant, RoleOperator:
		return true
	}
	return false
}

// PendingCode is a one-time code and the instant after which it no longer
// verifies. Which purpose it serves is decided by the Identity field it
// lives in.
type PendingCode struct {
	Code      string
	ExpiresAt time.Time
}

// Expired reports whether the code is past its expiry at now. A code is
// still valid at exactly its expiry instant.
func (p PendingCode) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Identity is the single source of truth for who can log in. Exactly one
// Profile of the same Role belongs to it.
type Identity struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Verified bool   `json:"verified"`

	// Registration is the pending sign-up code, nil when none is pending.
	Registration *PendingCode `json:"-"`

	// Reset is the pending password reset code, nil when none is pending.
	Reset *PendingCode `json:"-"`

	Banned      bool       `json:"banned"`
	BanReason   string     `json:"ban_reason,omitempty"`
	BannedUntil *time.Time `json:"banned_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BanState reports whether the identity is currently barred from signing
// in, with a client-safe reason. Permanent bans win over ban windows.
func (i *Identity) BanState(now time.Time) (bool, string) {
	if i.Banned {
		if i.BanReason != "" {
			return true, "account is banned: " + i.BanReason
		}
		return true, "account is banned"
	}
	if i.BannedUntil != nil && now.Before(*i.BannedUntil) {
		return true, fmt.Sprintf("account is suspended until %s", i.BannedUntil.UTC().Format(time.RFC3339))
	}
	return false, ""
}

// --- Profiles ---

// Profile is the role-specific half of an account. It is a closed sum type:
// the only implementations are *BidderProfile, *MerchantProfile and
// *OperatorProfile. Use a type switch to reach the role's own fields.
type Profile interface {
	// Role returns the role this profile kind belongs to.
	Role() Role

	// Base returns the fields every profile kind carries.
	Base() *ProfileBase

	sealed()
}

// ProfileBase holds the fields common to every profile kind.
type ProfileBase struct {
	ID         string `json:"id"`
	IdentityID string `json:"identity_id"`
	FullName   string `json:"full_name"`
	Contact    string `json:"contact"`

	// PasswordHash is the argon2id PHC string. Empty only for merchants an
	// operator created without a password.
	PasswordHash string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BidderProfile holds bidder details. Bidders sign in and verify by
// username.
type BidderProfile struct {
	ProfileBase
	Username string `json:"username"`
}

// OnboardingStatus is a merchant's progress through seller approval.
type OnboardingStatus string

// Onboarding states. Must match the merchant_profiles.onboarding_status ENUM.
const (
	OnboardingNone     OnboardingStatus = "none"
	OnboardingPending  OnboardingStatus = "pending"
	OnboardingVerified OnboardingStatus = "verified"
	OnboardingRejected OnboardingStatus = "rejected"
)

// onboardingTransitions lists the allowed next states for each state.
// A rejected merchant may resubmit, and a verified merchant may later be
// rejected.
var onboardingTransitions = map[OnboardingStatus][]OnboardingStatus{
	OnboardingNone:     {OnboardingPending},
	OnboardingPending:  {OnboardingVerified, OnboardingRejected},
	OnboardingVerified: {OnboardingRejected},
	OnboardingRejected: {OnboardingPending},
}

// CanTransition reports whether moving from s to next is allowed.
func (s OnboardingStatus) CanTransition(next OnboardingStatus) bool {
	for _, allowed := range onboardingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MerchantProfile holds merchant details plus the onboarding state machine.
type MerchantProfile struct {
	ProfileBase
	BusinessName string           `json:"business_name"`
	Onboarding   OnboardingStatus `json:"onboarding_status"`

	// OnboardingAttempts counts submissions for review (entries into pending).
	OnboardingAttempts int `json:"onboarding_attempts"`

	// RuleViolations counts marketplace rule violations recorded by operators.
	RuleViolations int `json:"rule_violations"`

	// SuspendedUntil is the merchant-level ban window, independent of the
	// identity ban.
	SuspendedUntil *time.Time `json:"suspended_until,omitempty"`
}

// Advance moves the onboarding state machine to next, counting attempts.
func (m *MerchantProfile) Advance(next OnboardingStatus) error {
	if !m.Onboarding.CanTransition(next) {
		return fmt.Errorf("onboarding cannot move from %s to %s", m.Onboarding, next)
	}
	if next == OnboardingPending {
		m.OnboardingAttempts++
	}
	m.Onboarding = next
	return nil
}

// Suspended reports whether the merchant ban window is active at now.
func (m *MerchantProfile) Suspended(now time.Time) bool {
	return m.SuspendedUntil != nil && now.Before(*m.SuspendedUntil)
}

// OperatorProfile holds marketplace operator details.
type OperatorProfile struct {
	ProfileBase
}

func (p *BidderProfile) Role() Role         { return RoleBidder }
func (p *BidderProfile) Base() *ProfileBase { return &p.ProfileBase }
func (p *BidderProfile) sealed()            {}

func (p *MerchantProfile) Role() Role         { return RoleMerchant }
func (p *MerchantProfile) Base() *ProfileBase { return &p.ProfileBase }
func (p *MerchantProfile) sealed()            {}

func (p *OperatorProfile) Role() Role         { return RoleOperator }
func (p *OperatorProfile) Base() *ProfileBase { return &p.ProfileBase }
func (p *OperatorProfile) sealed()            {}

// ProfileMatch is the result of a natural-key profile lookup: the profile
// and whether its owning identity is verified. Uniqueness of username and
// contact only counts verified owners.
type ProfileMatch struct {
	Profile       Profile
	OwnerVerified bool
}

// --- Views returned to clients ---

// ProfileSnapshot is the public subset of a profile. It is embedded in
// session tokens and returned in user views.
type ProfileSnapshot struct {
	FullName         string           `json:"full_name"`
	Contact          string           `json:"contact,omitempty"`
	Username         string           `json:"username,omitempty"`
	BusinessName     string           `json:"business_name,omitempty"`
	OnboardingStatus OnboardingStatus `json:"onboarding_status,omitempty"`
}

// SnapshotOf builds the public snapshot of p. A nil profile yields an empty
// snapshot.
func SnapshotOf(p Profile) ProfileSnapshot {
	if p == nil {
		return ProfileSnapshot{}
	}
	snap := ProfileSnapshot{
		FullName: p.Base().FullName,
		Contact:  p.Base().Contact,
	}
	switch v := p.(type) {
	case *BidderProfile:
		snap.Username = v.Username
	case *MerchantProfile:
		snap.BusinessName = v.BusinessName
		snap.OnboardingStatus = v.Onboarding
	}
	return snap
}

// UserView is the user object returned by registration, verification and
// login.
type UserView struct {
	ID       string          `json:"id"`
	Email    string          `json:"email"`
	Role     Role            `json:"role"`
	Verified bool            `json:"verified"`
	Profile  ProfileSnapshot `json:"profile"`
}

// NewUserView combines an identity and its profile into a client view.
func NewUserView(id *Identity, p Profile) *UserView {
	return &UserView{
		ID:       id.ID,
		Email:    id.Email,
		Role:     id.Role,
		Verified: id.Verified,
		Profile:  SnapshotOf(p),
	}
}

// Result is the envelope every auth endpoint responds with.
type Result struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Token   string    `json:"token,omitempty"`
	User    *UserView `json:"user,omitempty"`
}

// --- Request DTOs (bound from HTTP requests) ---

// RegisterRequest holds the sign-up body. Which profile fields are required
// depends on Role.
type RegisterRequest struct {
	Role         string `json:"role"`
	Email        string `json:"email"`
	FullName     string `json:"full_name"`
	Username     string `json:"username"`
	Contact      string `json:"contact"`
	BusinessName string `json:"business_name"`
	Password     string `json:"password"`
	AcceptTerms  bool   `json:"accept_terms"`
}

// VerifyRequest holds a registration code submission. Identifier is the
// username for bidders and the email for merchants and operators.
type VerifyRequest struct {
	Identifier string `json:"identifier"`
	Role       string `json:"role"`
	Code       string `json:"code"`
}

// ResendRequest asks for a fresh registration code.
type ResendRequest struct {
	Identifier string `json:"identifier"`
	Role       string `json:"role"`
}

// ResetRequest starts a password reset.
type ResetRequest struct {
	Email string `json:"email"`
}

// ResetVerifyRequest checks a reset code without consuming it.
type ResetVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// ResetReplaceRequest sets a new password, consuming the reset code.
type ResetReplaceRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

// LoginRequest holds sign-in credentials.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Role       string `json:"role"`
}

// --- Service Input DTOs (passed from handler to service) ---

// RegisterInput is the validated input for a sign-up attempt.
type RegisterInput struct {
	Role         Role
	Email        string
	FullName     string
	Username     string
	Contact      string
	BusinessName string
	Password     string
}

// VerifyInput is the validated input for a registration code check.
type VerifyInput struct {
	Identifier string
	Role       Role
	Code       string
}

// LoginInput is the validated input for a sign-in.
type LoginInput struct {
	Identifier string
	Password   string
	Role       Role
}

// --- Operator request DTOs ---

// CreateMerchantRequest is an operator's merchant creation body. Password
// may be omitted.
type CreateMerchantRequest struct {
	Email        string `json:"email"`
	FullName     string `json:"full_name"`
	Contact      string `json:"contact"`
	BusinessName string `json:"business_name"`
	Password     string `json:"password"`
}

// OnboardingRequest moves a merchant's onboarding state machine.
type OnboardingRequest struct {
	Status string `json:"status"`
}

// ViolationRequest records a rule violation. SuspendFor is a Go duration
// such as "72h"; empty records the violation without a suspension.
type ViolationRequest struct {
	Reason     string `json:"reason"`
	SuspendFor string `json:"suspend_for"`
}

// BanRequest bans an identity. With neither Until nor Duration the ban is
// permanent; otherwise it is a ban window.
type BanRequest struct {
	Reason   string     `json:"reason"`
	Until    *time.Time `json:"until"`
	Duration string     `json:"duration"`
}
