package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
	"github.com/keyxmakerx/bidhouse/internal/plugins/security"
)

// Auditor records security events. Implemented by security.Service.
type Auditor interface {
	LogEvent(ctx context.Context, eventType, identityID, actorID, ip, userAgent string, details map[string]any) error
}

// Services bundles the workflows the handlers call.
type Services struct {
	Registration RegistrationService
	Verification VerificationService
	Reset        ResetService
	Sessions     SessionService
	Operator     OperatorService
}

// Handler handles the account HTTP endpoints. Handlers are thin: they bind
// and validate the request, call a workflow, record a security event and
// render the envelope. Failures are returned as errors and rendered by the
// app's error handler.
type Handler struct {
	svc     Services
	auditor Auditor

	// operatorSignup allows role=operator on the public sign-up route.
	operatorSignup bool
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithOperatorSignup lets the public sign-up route create operator
// accounts. Off by default; operators are otherwise created from the CLI.
func WithOperatorSignup(allowed bool) HandlerOption {
	return func(h *Handler) { h.operatorSignup = allowed }
}

// NewHandler creates a new auth handler. auditor may be nil.
func NewHandler(svc Services, auditor Auditor, opts ...HandlerOption) *Handler {
	h := &Handler{svc: svc, auditor: auditor}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register starts a sign-up (POST /api/v1/auth/register).
func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	input, msg := validateRegisterRequest(&req)
	if msg != "" {
		return apperror.NewValidation(msg)
	}
	if input.Role == RoleOperator && !h.operatorSignup {
		return apperror.NewForbidden("operator accounts cannot be created through sign-up")
	}

	result, err := h.svc.Registration.Register(c.Request().Context(), input)
	if err != nil {
		if apperror.Is(err, apperror.KindDispatch) {
			h.audit(c, security.EventRegistrationCompensated, "", "", map[string]any{
				"email": input.Email,
				"role":  string(input.Role),
			})
		}
		return err
	}

	h.audit(c, security.EventRegistrationStarted, result.User.ID, "", map[string]any{
		"role": string(input.Role),
	})
	return c.JSON(http.StatusCreated, result)
}

// Verify confirms a registration code (POST /api/v1/auth/verify).
func (h *Handler) Verify(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	role, err := ParseRole(req.Role)
	if err != nil {
		return apperror.NewValidation("role must be one of bidder, merchant, operator")
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	if msg := validateIdentifier(req.Identifier, role); msg != "" {
		return apperror.NewValidation(msg)
	}
	req.Code = strings.TrimSpace(req.Code)
	if msg := validateCode(req.Code); msg != "" {
		return apperror.NewValidation(msg)
	}

	result, err := h.svc.Verification.Verify(c.Request().Context(), VerifyInput{
		Identifier: req.Identifier,
		Role:       role,
		Code:       req.Code,
	})
	if err != nil {
		h.audit(c, security.EventVerifyFailed, "", "", map[string]any{
			"identifier": req.Identifier,
			"role":       string(role),
			"reason":     string(apperror.KindOf(err)),
		})
		return err
	}

	h.audit(c, security.EventIdentityVerified, result.User.ID, "", nil)
	return c.JSON(http.StatusOK, result)
}

// Resend issues a fresh registration code (POST /api/v1/auth/verify/resend).
func (h *Handler) Resend(c echo.Context) error {
	var req ResendRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	role, err := ParseRole(req.Role)
	if err != nil {
		return apperror.NewValidation("role must be one of bidder, merchant, operator")
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	if msg := validateIdentifier(req.Identifier, role); msg != "" {
		return apperror.NewValidation(msg)
	}

	result, err := h.svc.Registration.Resend(c.Request().Context(), req.Identifier, role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// RequestReset starts a password reset (POST /api/v1/auth/reset/request).
func (h *Handler) RequestReset(c echo.Context) error {
	var req ResetRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	email := normalizeEmail(req.Email)
	if msg := validateEmail(email); msg != "" {
		return apperror.NewValidation(msg)
	}

	result, err := h.svc.Reset.RequestReset(c.Request().Context(), email)
	if err != nil {
		return err
	}

	h.audit(c, security.EventResetRequested, "", "", map[string]any{"email": email})
	return c.JSON(http.StatusOK, result)
}

// VerifyReset checks a reset code (POST /api/v1/auth/reset/verify).
func (h *Handler) VerifyReset(c echo.Context) error {
	var req ResetVerifyRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	email := normalizeEmail(req.Email)
	if msg := validateEmail(email); msg != "" {
		return apperror.NewValidation(msg)
	}
	code := strings.TrimSpace(req.Code)
	if msg := validateCode(code); msg != "" {
		return apperror.NewValidation(msg)
	}

	result, err := h.svc.Reset.VerifyReset(c.Request().Context(), email, code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// ReplacePassword sets a new password (POST /api/v1/auth/reset/replace).
func (h *Handler) ReplacePassword(c echo.Context) error {
	var req ResetReplaceRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	email := normalizeEmail(req.Email)
	if msg := validateEmail(email); msg != "" {
		return apperror.NewValidation(msg)
	}
	code := strings.TrimSpace(req.Code)
	if msg := validateCode(code); msg != "" {
		return apperror.NewValidation(msg)
	}
	if msg := validatePassword(req.Password); msg != "" {
		return apperror.NewValidation(msg)
	}

	result, err := h.svc.Reset.ReplacePassword(c.Request().Context(), email, code, req.Password)
	if err != nil {
		return err
	}

	h.audit(c, security.EventResetCompleted, "", "", map[string]any{"email": email})
	return c.JSON(http.StatusOK, result)
}

// Login signs a verified account in (POST /api/v1/auth/login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	role, err := ParseRole(req.Role)
	if err != nil {
		return apperror.NewValidation("role must be one of bidder, merchant, operator")
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" || req.Password == "" {
		return apperror.NewValidation("identifier and password are required")
	}

	result, err := h.svc.Sessions.Login(c.Request().Context(), LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		Role:       role,
	})
	if err != nil {
		h.audit(c, security.EventLoginFailed, "", "", map[string]any{
			"identifier": req.Identifier,
			"role":       string(role),
			"reason":     apperror.SafeMessage(err),
		})
		return err
	}

	h.audit(c, security.EventLoginSuccess, result.User.ID, "", map[string]any{"role": string(role)})
	return c.JSON(http.StatusOK, result)
}

// Me returns the signed-in account (GET /api/v1/auth/me).
func (h *Handler) Me(c echo.Context) error {
	claims := GetClaims(c)
	if claims == nil {
		return apperror.NewUnauthorized("authentication required")
	}

	result, err := h.svc.Sessions.Current(c.Request().Context(), claims.IdentityID())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// audit records a security event, ignoring failures.
func (h *Handler) audit(c echo.Context, eventType, identityID, actorID string, details map[string]any) {
	if h.auditor == nil {
		return
	}
	req := c.Request()
	_ = h.auditor.LogEvent(req.Context(), eventType, identityID, actorID, c.RealIP(), req.UserAgent(), details)
}
