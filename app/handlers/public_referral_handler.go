package handlers

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/refermed/refermed/app/dto"
	businessflow "github.com/refermed/refermed/business_flow"
	"github.com/refermed/refermed/utils"
)

// PublicReferralHandlerInterface defines the contract for the unauthenticated
// magic link surface
type PublicReferralHandlerInterface interface {
	Metadata(c fiber.Ctx) error
	VerifyAccess(c fiber.Ctx) error
	Submit(c fiber.Ctx) error
	Status(c fiber.Ctx) error
}

// PublicReferralHandler serves the patient- and referrer-facing endpoints.
// Every link access failure comes back as the same 401 so callers probing
// tokens or codes learn nothing.
type PublicReferralHandler struct {
	flow      businessflow.PublicReferralFlow
	validator *validator.Validate
}

func NewPublicReferralHandler(flow businessflow.PublicReferralFlow) PublicReferralHandlerInterface {
	return &PublicReferralHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

func (h *PublicReferralHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *PublicReferralHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func (h *PublicReferralHandler) unauthorized(c fiber.Ctx) error {
	return h.ErrorResponse(c, fiber.StatusUnauthorized, "Link not found or access denied", "LINK_UNAUTHORIZED", nil)
}

// Metadata returns the clinic name, specialist and label shown on the landing
// page before the access code is entered
func (h *PublicReferralHandler) Metadata(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.unauthorized(c)
	}

	res, err := h.flow.LinkMetadata(h.createRequestContext(c, "/api/v1/referral-links/"+token), token)
	if err != nil {
		if businessflow.IsLinkUnauthorized(err) {
			return h.unauthorized(c)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load link", "LINK_LOOKUP_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Link retrieved", res)
}

// VerifyAccess checks the access code for a link
func (h *PublicReferralHandler) VerifyAccess(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.unauthorized(c)
	}

	var req dto.VerifyLinkAccessRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST_BODY", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", collectValidationErrors(err))
	}

	ctx := h.createRequestContext(c, "/api/v1/referral-links/"+token+"/verify")
	res, err := h.flow.VerifyAccess(ctx, token, req.AccessCode, publicMetadata(c))
	if err != nil {
		if businessflow.IsLinkUnauthorized(err) {
			return h.unauthorized(c)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to verify access code", "VERIFY_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, res.Message, nil)
}

// Submit creates a referral through a magic link. The response carries the
// status token the patient uses to follow their treatment.
func (h *PublicReferralHandler) Submit(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.unauthorized(c)
	}

	var req dto.SubmitReferralRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST_BODY", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", collectValidationErrors(err))
	}

	ctx := h.createRequestContext(c, "/api/v1/referral-links/"+token+"/submit")
	res, err := h.flow.Submit(ctx, token, &req, publicMetadata(c))
	if err != nil {
		if businessflow.IsLinkUnauthorized(err) {
			return h.unauthorized(c)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to submit referral", "REFERRAL_SUBMIT_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, res.Message, fiber.Map{
		"uuid":         res.UUID,
		"status_token": res.StatusToken,
	})
}

// Status renders the patient status page. The access code travels in a header
// so it stays out of server access logs.
func (h *PublicReferralHandler) Status(c fiber.Ctx) error {
	statusToken := c.Params("statusToken")
	if statusToken == "" {
		return h.unauthorized(c)
	}
	accessCode := c.Get("X-Access-Code")
	if accessCode == "" {
		accessCode = c.Query("code")
	}

	ctx := h.createRequestContext(c, "/api/v1/referral-status/"+statusToken)
	res, err := h.flow.Status(ctx, statusToken, accessCode, publicMetadata(c))
	if err != nil {
		if businessflow.IsLinkUnauthorized(err) {
			return h.unauthorized(c)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load referral status", "STATUS_LOOKUP_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Referral status retrieved", res)
}

func (h *PublicReferralHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return h.createRequestContextWithTimeout(c, endpoint, 10*time.Second)
}

func (h *PublicReferralHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)
	return ctx
}

// publicMetadata builds audit metadata for unauthenticated requests
func publicMetadata(c fiber.Ctx) *businessflow.ClientMetadata {
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	if requestID := c.Get("X-Request-ID"); requestID != "" {
		metadata.SetRequestID(requestID)
	}
	return metadata
}
