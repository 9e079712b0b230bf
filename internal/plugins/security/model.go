// Package security records and lists account security events: sign-ups,
// verifications, password resets, logins and operator actions. Events are
// an audit trail only; nothing reads them back to decide identity state.
package security

import "time"

// Security event type constants follow the "resource.verb" pattern for
// consistent filtering.
const (
	EventRegistrationStarted     = "registration.started"
	EventRegistrationCompensated = "registration.compensated"
	EventIdentityVerified        = "identity.verified"
	EventVerifyFailed            = "verify.failed"
	EventResetRequested          = "reset.requested"
	EventResetCompleted          = "reset.completed"
	EventLoginSuccess            = "login.success"
	EventLoginFailed             = "login.failed"
	EventIdentityBanned          = "identity.banned"
	EventIdentityUnbanned        = "identity.unbanned"
	EventMerchantCreated         = "merchant.created"
	EventMerchantOnboarding      = "merchant.onboarding"
	EventMerchantViolation       = "merchant.violation"
)

// knownEvents is the set of event types the list endpoint accepts as a
// filter.
var knownEvents = map[string]bool{
	EventRegistrationStarted:     true,
	EventRegistrationCompensated: true,
	EventIdentityVerified:        true,
	EventVerifyFailed:            true,
	EventResetRequested:          true,
	EventResetCompleted:          true,
	EventLoginSuccess:            true,
	EventLoginFailed:             true,
	EventIdentityBanned:          true,
	EventIdentityUnbanned:        true,
	EventMerchantCreated:         true,
	EventMerchantOnboarding:      true,
	EventMerchantViolation:       true,
}

// Event is a single security event.
type Event struct {
	ID         int64          `json:"id"`
	EventType  string         `json:"event_type"`
	IdentityID string         `json:"identity_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"` // Operator who performed the action.
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`

	// Email is joined from identities for display; empty once the identity
	// is gone.
	Email string `json:"email,omitempty"`
}

// Stats holds aggregate counts over the last 24 hours.
type Stats struct {
	TotalEvents         int `json:"total_events"`
	FailedLogins24h     int `json:"failed_logins_24h"`
	SuccessfulLogins24h int `json:"successful_logins_24h"`
	FailedVerifies24h   int `json:"failed_verifies_24h"`
	BannedIdentities    int `json:"banned_identities"`
	UniqueIPs24h        int `json:"unique_ips_24h"`
}

// Page is one page of the event list.
type Page struct {
	Events  []Event `json:"events"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"per_page"`
}
