package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
	"github.com/keyxmakerx/bidhouse/internal/plugins/security"
	"github.com/keyxmakerx/bidhouse/internal/sanitize"
)

// CreateMerchant creates a pre-verified merchant
// (POST /api/v1/operator/merchants).
func (h *Handler) CreateMerchant(c echo.Context) error {
	var req CreateMerchantRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	input, msg := validateCreateMerchant(&req)
	if msg != "" {
		return apperror.NewValidation(msg)
	}

	result, err := h.svc.Operator.CreateMerchant(c.Request().Context(), input)
	if err != nil {
		return err
	}

	h.audit(c, security.EventMerchantCreated, result.User.ID, actorID(c), map[string]any{
		"business_name": input.BusinessName,
		"has_password":  input.Password != "",
	})
	return c.JSON(http.StatusCreated, result)
}

// TransitionOnboarding moves a merchant's onboarding status
// (POST /api/v1/operator/merchants/:id/onboarding).
func (h *Handler) TransitionOnboarding(c echo.Context) error {
	var req OnboardingRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	next := OnboardingStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	switch next {
	case OnboardingPending, OnboardingVerified, OnboardingRejected:
	default:
		return apperror.NewValidation("status must be one of pending, verified, rejected")
	}

	id := c.Param("id")
	merchant, err := h.svc.Operator.TransitionOnboarding(c.Request().Context(), id, next)
	if err != nil {
		return err
	}

	h.audit(c, security.EventMerchantOnboarding, id, actorID(c), map[string]any{
		"status":   string(next),
		"attempts": merchant.OnboardingAttempts,
	})
	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"message":  "onboarding status is now " + string(next),
		"merchant": merchant,
	})
}

// RecordViolation records a rule violation against a merchant
// (POST /api/v1/operator/merchants/:id/violations).
func (h *Handler) RecordViolation(c echo.Context) error {
	var req ViolationRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	var suspendFor time.Duration
	if req.SuspendFor != "" {
		d, err := time.ParseDuration(req.SuspendFor)
		if err != nil || d <= 0 {
			return apperror.NewValidation("suspend_for must be a positive duration such as 72h")
		}
		suspendFor = d
	}

	id := c.Param("id")
	merchant, err := h.svc.Operator.RecordViolation(c.Request().Context(), id, suspendFor)
	if err != nil {
		return err
	}

	h.audit(c, security.EventMerchantViolation, id, actorID(c), map[string]any{
		"reason":      sanitize.Text(req.Reason),
		"violations":  merchant.RuleViolations,
		"suspend_for": req.SuspendFor,
	})
	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"message":  "violation recorded",
		"merchant": merchant,
	})
}

// Ban bans an identity permanently or for a window
// (POST /api/v1/operator/identities/:id/ban).
func (h *Handler) Ban(c echo.Context) error {
	var req BanRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	input := BanInput{Reason: sanitize.Text(req.Reason), Until: req.Until}
	if req.Duration != "" {
		if req.Until != nil {
			return apperror.NewValidation("give either until or duration, not both")
		}
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			return apperror.NewValidation("duration must be a positive duration such as 72h")
		}
		until := time.Now().Add(d)
		input.Until = &until
	}
	if len(input.Reason) > 255 {
		return apperror.NewValidation("reason must be at most 255 characters")
	}

	id := c.Param("id")
	identity, err := h.svc.Operator.Ban(c.Request().Context(), actorID(c), id, input)
	if err != nil {
		return err
	}

	details := map[string]any{"reason": input.Reason, "permanent": identity.Banned}
	if identity.BannedUntil != nil {
		details["until"] = identity.BannedUntil.Format(time.RFC3339)
	}
	h.audit(c, security.EventIdentityBanned, id, actorID(c), details)

	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"message":  "identity banned",
		"identity": identity,
	})
}

// Unban lifts a ban (DELETE /api/v1/operator/identities/:id/ban).
func (h *Handler) Unban(c echo.Context) error {
	id := c.Param("id")
	identity, err := h.svc.Operator.Unban(c.Request().Context(), id)
	if err != nil {
		return err
	}

	h.audit(c, security.EventIdentityUnbanned, id, actorID(c), nil)
	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"message":  "ban lifted",
		"identity": identity,
	})
}

// actorID returns the signed-in operator's identity id.
func actorID(c echo.Context) string {
	if claims := GetClaims(c); claims != nil {
		return claims.IdentityID()
	}
	return ""
}
