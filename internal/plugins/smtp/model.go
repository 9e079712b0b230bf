// Package smtp is the notification dispatcher: it renders templated emails
// and delivers them over SMTP. Delivery failures are reported as a
// DispatchResult, never as an error, so callers decide how to react.
//
// Settings come from the environment (config.SMTPConfig). Without an SMTP
// host the dispatcher falls back to a transport that only logs messages.
package smtp

// TemplateKind names one of the email templates the dispatcher knows.
type TemplateKind string

// Template kinds.
const (
	// KindRegistrationCode carries the code that confirms a sign-up.
	KindRegistrationCode TemplateKind = "registration_code"

	// KindResetCode carries the code that authorizes a password reset.
	KindResetCode TemplateKind = "reset_code"

	// KindMerchantWelcome tells an operator-created merchant their account
	// exists.
	KindMerchantWelcome TemplateKind = "merchant_welcome"
)

// DispatchResult reports whether an email was handed to the mail server.
// Message is safe to show to the end user.
type DispatchResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Settings is the redacted view of the dispatcher configuration returned to
// operators. The password is never included.
type Settings struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	HasPassword bool   `json:"has_password"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
	Encryption  string `json:"encryption"`
	Configured  bool   `json:"configured"`
}
