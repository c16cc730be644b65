package handlers

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/refermed/refermed/app/dto"
	"github.com/refermed/refermed/app/services"
	businessflow "github.com/refermed/refermed/business_flow"
	"github.com/refermed/refermed/utils"
)

// ReferralLinkHandlerInterface defines the contract for referral link management
type ReferralLinkHandlerInterface interface {
	Create(c fiber.Ctx) error
	List(c fiber.Ctx) error
	Update(c fiber.Ctx) error
	RegenerateAccessCode(c fiber.Ctx) error
	Delete(c fiber.Ctx) error
}

// ReferralLinkHandler handles the authenticated magic link endpoints
type ReferralLinkHandler struct {
	flow      businessflow.ReferralLinkFlow
	validator *validator.Validate
}

func NewReferralLinkHandler(flow businessflow.ReferralLinkFlow) ReferralLinkHandlerInterface {
	return &ReferralLinkHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

func (h *ReferralLinkHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *ReferralLinkHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Create creates a new magic link for the acting clinic. The plaintext access
// code appears in this response only.
func (h *ReferralLinkHandler) Create(c fiber.Ctx) error {
	tenant, ok := tenantFromLocals(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant not found in context", "MISSING_TENANT", nil)
	}

	var req dto.CreateReferralLinkRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST_BODY", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", collectValidationErrors(err))
	}

	res, err := h.flow.Create(h.createRequestContext(c, "/api/v1/referral-links"), tenant, &req, clientMetadata(c))
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create referral link", "LINK_CREATE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, res.Message, fiber.Map{
		"link":        res.Link,
		"access_code": res.AccessCode,
	})
}

// List returns the clinic's links with per-link referral counts
func (h *ReferralLinkHandler) List(c fiber.Ctx) error {
	tenant, ok := tenantFromLocals(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant not found in context", "MISSING_TENANT", nil)
	}

	res, err := h.flow.List(h.createRequestContext(c, "/api/v1/referral-links"), tenant)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list referral links", "LINK_LIST_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, res.Message, fiber.Map{
		"links": res.Links,
	})
}

// Update changes the label or active state of a link
func (h *ReferralLinkHandler) Update(c fiber.Ctx) error {
	tenant, ok := tenantFromLocals(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant not found in context", "MISSING_TENANT", nil)
	}

	var req dto.UpdateReferralLinkRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST_BODY", nil)
	}
	req.UUID = c.Params("uuid")
	if req.UUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Link UUID is required", "MISSING_LINK_UUID", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", collectValidationErrors(err))
	}

	res, err := h.flow.Update(h.createRequestContext(c, "/api/v1/referral-links/"+req.UUID), tenant, &req, clientMetadata(c))
	if err != nil {
		if businessflow.IsLinkNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Referral link not found", "LINK_NOT_FOUND", nil)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update referral link", "LINK_UPDATE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, res.Message, fiber.Map{
		"link": res.Link,
	})
}

// RegenerateAccessCode rotates the link's access code and returns the new
// plaintext once. The old code stops working immediately.
func (h *ReferralLinkHandler) RegenerateAccessCode(c fiber.Ctx) error {
	tenant, ok := tenantFromLocals(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant not found in context", "MISSING_TENANT", nil)
	}

	var req dto.RegenerateAccessCodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		// Body is optional here
		req = dto.RegenerateAccessCodeRequest{}
	}
	req.UUID = c.Params("uuid")
	if req.UUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Link UUID is required", "MISSING_LINK_UUID", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", collectValidationErrors(err))
	}

	res, err := h.flow.RegenerateAccessCode(h.createRequestContext(c, "/api/v1/referral-links/"+req.UUID+"/regenerate-code"), tenant, &req, clientMetadata(c))
	if err != nil {
		if businessflow.IsLinkNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Referral link not found", "LINK_NOT_FOUND", nil)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to regenerate access code", "ACCESS_CODE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, res.Message, fiber.Map{
		"access_code": res.AccessCode,
	})
}

// Delete removes a link. Referrals submitted through it survive detached.
func (h *ReferralLinkHandler) Delete(c fiber.Ctx) error {
	tenant, ok := tenantFromLocals(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant not found in context", "MISSING_TENANT", nil)
	}

	linkUUID := c.Params("uuid")
	if linkUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Link UUID is required", "MISSING_LINK_UUID", nil)
	}

	res, err := h.flow.Delete(h.createRequestContext(c, "/api/v1/referral-links/"+linkUUID), tenant, linkUUID, clientMetadata(c))
	if err != nil {
		if businessflow.IsLinkNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Referral link not found", "LINK_NOT_FOUND", nil)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete referral link", "LINK_DELETE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, res.Message, nil)
}

func (h *ReferralLinkHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return h.createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}

func (h *ReferralLinkHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)
	return ctx
}

// tenantFromLocals reads the tenant resolved by the auth middleware
func tenantFromLocals(c fiber.Ctx) (*businessflow.Tenant, bool) {
	tenant, ok := c.Locals("tenant").(*businessflow.Tenant)
	return tenant, ok && tenant != nil
}

// clientMetadata builds audit metadata from the request, carrying the acting
// subject when the token had one
func clientMetadata(c fiber.Ctx) *businessflow.ClientMetadata {
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	if requestID := c.Get("X-Request-ID"); requestID != "" {
		metadata.SetRequestID(requestID)
	}
	if claims, ok := c.Locals("identity_claims").(*services.IdentityClaims); ok && claims != nil {
		metadata.AddAdditional("subject", claims.Subject)
	}
	return metadata
}
