package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
	"github.com/keyxmakerx/bidhouse/internal/sanitize"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.]{3,30}$`)
	contactPattern  = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	codePattern     = regexp.MustCompile(`^[0-9]{4,10}$`)
)

// Length limits shared by the request validators.
const (
	minPasswordLen = 8
	maxPasswordLen = 128
	maxNameLen     = 100
	maxEmailLen    = 254
)

// normalizeContact strips the separators people type into phone numbers.
func normalizeContact(s string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(strings.TrimSpace(s))
}

// validateEmail checks that s is a bare address, not "Name <addr>".
func validateEmail(s string) string {
	if s == "" {
		return "email is required"
	}
	if len(s) > maxEmailLen {
		return "email is too long"
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return "email is not a valid address"
	}
	return ""
}

// validatePassword enforces the password length policy.
func validatePassword(s string) string {
	switch {
	case s == "":
		return "password is required"
	case len(s) < minPasswordLen:
		return "password must be at least 8 characters"
	case len(s) > maxPasswordLen:
		return "password must be at most 128 characters"
	}
	return ""
}

// validateName checks a required display field such as a full or business
// name.
func validateName(field, s string) string {
	n := utf8.RuneCountInString(s)
	switch {
	case n == 0:
		return field + " is required"
	case n < 2:
		return field + " must be at least 2 characters"
	case n > maxNameLen:
		return field + " must be at most 100 characters"
	}
	return ""
}

// validateCode checks the shape of a submitted one-time code. Whether it is
// the right code is the workflow's business.
func validateCode(s string) string {
	if s == "" {
		return "code is required"
	}
	if !codePattern.MatchString(s) {
		return "code must be digits only"
	}
	return ""
}

// validateRegisterRequest normalizes and checks a sign-up body. Returns the
// validated input or a client-facing message.
func validateRegisterRequest(req *RegisterRequest) (RegisterInput, string) {
	role, err := ParseRole(req.Role)
	if err != nil {
		return RegisterInput{}, "role must be one of bidder, merchant, operator"
	}

	input := RegisterInput{
		Role:         role,
		Email:        normalizeEmail(req.Email),
		FullName:     sanitize.Text(req.FullName),
		Username:     strings.TrimSpace(req.Username),
		Contact:      normalizeContact(req.Contact),
		BusinessName: sanitize.Text(req.BusinessName),
		Password:     req.Password,
	}

	if msg := validateEmail(input.Email); msg != "" {
		return input, msg
	}
	if msg := validateName("full name", input.FullName); msg != "" {
		return input, msg
	}
	if !contactPattern.MatchString(input.Contact) {
		return input, "contact must be a phone number of 7 to 15 digits"
	}

	switch role {
	case RoleBidder:
		if !usernamePattern.MatchString(input.Username) {
			return input, "username must be 3 to 30 letters, digits, dots or underscores"
		}
	case RoleMerchant:
		if msg := validateName("business name", input.BusinessName); msg != "" {
			return input, msg
		}
	}
	if role != RoleBidder {
		input.Username = ""
	}
	if role != RoleMerchant {
		input.BusinessName = ""
	}

	if msg := validatePassword(input.Password); msg != "" {
		return input, msg
	}
	if !req.AcceptTerms {
		return input, "you must accept the terms of service"
	}
	return input, ""
}

// validateIdentifier checks a login or verification key against the role:
// bidders may use a username or email, everyone else an email.
func validateIdentifier(identifier string, role Role) string {
	if identifier == "" {
		return "identifier is required"
	}
	if strings.Contains(identifier, "@") {
		return validateEmail(normalizeEmail(identifier))
	}
	if role != RoleBidder {
		return "identifier must be an email address"
	}
	if !usernamePattern.MatchString(identifier) {
		return "identifier is not a valid username"
	}
	return ""
}

// validateCreateMerchant checks an operator's merchant creation request.
func validateCreateMerchant(req *CreateMerchantRequest) (CreateMerchantInput, string) {
	input := CreateMerchantInput{
		Email:        normalizeEmail(req.Email),
		FullName:     sanitize.Text(req.FullName),
		Contact:      normalizeContact(req.Contact),
		BusinessName: sanitize.Text(req.BusinessName),
		Password:     req.Password,
	}
	if msg := validateEmail(input.Email); msg != "" {
		return input, msg
	}
	if msg := validateName("full name", input.FullName); msg != "" {
		return input, msg
	}
	if !contactPattern.MatchString(input.Contact) {
		return input, "contact must be a phone number of 7 to 15 digits"
	}
	if msg := validateName("business name", input.BusinessName); msg != "" {
		return input, msg
	}
	if input.Password != "" {
		if msg := validatePassword(input.Password); msg != "" {
			return input, msg
		}
	}
	return input, ""
}

// ValidateOperatorInput normalizes and checks an operator account request
// from outside HTTP, such as the command line. The password is required.
func ValidateOperatorInput(input CreateOperatorInput) (CreateOperatorInput, error) {
	input.Email = normalizeEmail(input.Email)
	input.FullName = sanitize.Text(input.FullName)
	input.Contact = normalizeContact(input.Contact)

	msg := validateEmail(input.Email)
	if msg == "" {
		msg = validateName("full name", input.FullName)
	}
	if msg == "" && !contactPattern.MatchString(input.Contact) {
		msg = "contact must be a phone number of 7 to 15 digits"
	}
	if msg == "" {
		msg = validatePassword(input.Password)
	}
	if msg != "" {
		return input, apperror.NewValidation(msg)
	}
	return input, nil
}
