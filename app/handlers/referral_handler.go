package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/refermed/refermed/app/dto"
	businessflow "github.com/refermed/refermed/business_flow"
	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/utils"
)

// ReferralHandlerInterface defines the contract for tenant-scoped referral endpoints
type ReferralHandlerInterface interface {
	List(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	UpdateStatus(c fiber.Ctx) error
	RevertStage(c fiber.Ctx) error
	Share(c fiber.Ctx) error
	Export(c fiber.Ctx) error
	StartDemoProgression(c fiber.Ctx) error
}

// ReferralHandler handles listing, lookup, the status machine, sharing,
// export and demo progression for a clinic's referrals
type ReferralHandler struct {
	referralFlow businessflow.ReferralFlow
	statusFlow   businessflow.ReferralStatusFlow
	demoFlow     businessflow.DemoProgressionFlow
	validator    *validator.Validate
}

func NewReferralHandler(
	referralFlow businessflow.ReferralFlow,
	statusFlow businessflow.ReferralStatusFlow,
	demoFlow businessflow.DemoProgressionFlow,
) ReferralHandlerInterface {
	return &ReferralHandler{
		referralFlow: referralFlow,
		statusFlow:   statusFlow,
		demoFlow:     demoFlow,
		validator:    validator.New(),
	}
}

func (h *ReferralHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *ReferralHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// List returns the clinic's referrals with pagination and optional filters
func (h *ReferralHandler) List(c fiber.Ctx) error {
	tenant, ok := tenantFromLocals(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant not found in context", "MISSING_TENANT", nil)
	}

	req := dto.ListReferralsRequest{Page: 1, PageSize: 20}
	if pageStr := c.Query("page"); pageStr != "" {
		if page, err := strconv.Atoi(pageStr); err == nil {
			req.Page = page
		}
	}
	if pageSizeStr := c.Query("page_size"); pageSizeStr != "" {
		if pageSize, err := strconv.Atoi(pageSizeStr); err == nil {
			req.PageSize = pageSize
		}
	}
	if status := c.Query("status"); status != "" {
		req.Status = &status
	}
	if referralType := c.Query("referral_type"); referralType != "" {
		req.ReferralType = &referralType
	}

	res, err := h.referralFlow.List(h.createRequestContext(c, "/api/v1/referrals"), tenant, &req)
	if err != nil {
		if businessflow.IsInvalidPage(err) || businessflow.IsInvalidPageSize(err) || businessflow.IsInvalidStatus(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_FILTER", nil)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list referrals", "REFERRAL_LIST_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, res.Message, fiber.Map{
		"referrals": res.Referrals,
		"total":     res.Total,
		"page":      res.Page,
		"page_size": res.PageSize,
	})
}

// Get returns a single referral owned by the clinic
func (h *ReferralHandler) Get(c fiber.Ctx) error {
	tenant, ok := tenantFromLocals(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant not found in context", "MISSING_TENANT", nil)
	}

	referralUUID := c.Params("uuid")
	if referralUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Referral UUID is required", "MISSING_REFERRAL_UUID", nil)
	}

	res, err := h.referralFlow.Get(h.createRequestContext(c, "/api/v1/referrals/"+referralUUID), tenant, referralUUID)
	if err != nil {
		return h.referralError(c, err, "Failed to get referral", "REFERRAL_GET_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Referral retrieved", fiber.Map{
		"referral": res,
	})
}

// UpdateStatus moves a referral forward along the treatment timeline or into a
// terminal status
func (h *ReferralHandler) UpdateStatus(c fiber.Ctx) error {
	tenant, ok := tenantFromLocals(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant not found in context", "MISSING_TENANT", nil)
	}

	var req dto.UpdateReferralStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST_BODY", nil)
	}
	req.UUID = c.Params("uuid")
	if req.UUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Referral UUID is required", "MISSING_REFERRAL_UUID", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", collectValidationErrors(err))
	}

	ctx := h.createRequestContext(c, "/api/v1/referrals/"+req.UUID+"/status")
	res, err := h.statusFlow.Transition(ctx, req.UUID, tenant.Clinic, models.ReferralStatus(req.Status), clientMetadata(c))
	if err != nil {
		return h.statusError(c, err, "Failed to update referral status", "REFERRAL_STATUS_UPDATE_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, res.Message, fiber.Map{
		"referral": res.Referral,
	})
}

// RevertStage moves a referral back to an earlier stage, keeping its stage
// timestamps
func (h *ReferralHandler) RevertStage(c fiber.Ctx) error {
	tenant, ok := tenantFromLocals(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant not found in context", "MISSING_TENANT", nil)
	}

	var req dto.RevertReferralStageRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST_BODY", nil)
	}
	req.UUID = c.Params("uuid")
	if req.UUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Referral UUID is required", "MISSING_REFERRAL_UUID", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", collectValidationErrors(err))
	}

	ctx := h.createRequestContext(c, "/api/v1/referrals/"+req.UUID+"/revert")
	res, err := h.statusFlow.RevertStage(ctx, req.UUID, tenant.Clinic, models.ReferralStatus(req.Stage), clientMetadata(c))
	if err != nil {
		return h.statusError(c, err, "Failed to revert referral stage", "REFERRAL_STAGE_REVERT_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, res.Message, fiber.Map{
		"referral": res.Referral,
	})
}

// Share returns the referral's share token, generating it on first use
func (h *ReferralHandler) Share(c fiber.Ctx) error {
	tenant, ok := tenantFromLocals(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant not found in context", "MISSING_TENANT", nil)
	}

	referralUUID := c.Params("uuid")
	if referralUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Referral UUID is required", "MISSING_REFERRAL_UUID", nil)
	}

	ctx := h.createRequestContext(c, "/api/v1/referrals/"+referralUUID+"/share")
	res, err := h.referralFlow.Share(ctx, tenant, referralUUID, clientMetadata(c))
	if err != nil {
		return h.referralError(c, err, "Failed to share referral", "REFERRAL_SHARE_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, res.Message, fiber.Map{
		"share_token": res.ShareToken,
	})
}

// Export streams the clinic's referrals as an xlsx workbook
func (h *ReferralHandler) Export(c fiber.Ctx) error {
	tenant, ok := tenantFromLocals(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant not found in context", "MISSING_TENANT", nil)
	}

	ctx := h.createRequestContextWithTimeout(c, "/api/v1/referrals/export", 60*time.Second)
	filename, data, err := h.referralFlow.Export(ctx, tenant, clientMetadata(c))
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to export referrals", "REFERRAL_EXPORT_FAILED", nil)
	}

	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", "attachment; filename="+strconv.Quote(filename))
	return c.Send(data)
}

// StartDemoProgression schedules automated advancement of a referral through
// the timeline. Only available when the demo mode is on.
func (h *ReferralHandler) StartDemoProgression(c fiber.Ctx) error {
	tenant, ok := tenantFromLocals(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant not found in context", "MISSING_TENANT", nil)
	}

	var req dto.StartDemoProgressionRequest
	if err := c.Bind().JSON(&req); err != nil {
		// Body is optional; fast defaults to false
		req = dto.StartDemoProgressionRequest{}
	}
	req.UUID = c.Params("uuid")
	if req.UUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Referral UUID is required", "MISSING_REFERRAL_UUID", nil)
	}

	ctx := h.createRequestContext(c, "/api/v1/referrals/"+req.UUID+"/demo-progression")
	res, err := h.demoFlow.Start(ctx, tenant, &req, clientMetadata(c))
	if err != nil {
		if businessflow.IsDemoDisabled(err) {
			return h.ErrorResponse(c, fiber.StatusForbidden, "Demo progression is disabled", "DEMO_DISABLED", nil)
		}
		if businessflow.IsTerminalStatus(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Referral is in a terminal status", "REFERRAL_TERMINAL", nil)
		}
		return h.referralError(c, err, "Failed to start demo progression", "DEMO_PROGRESSION_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusAccepted, res.Message, nil)
}

// referralError translates the shared lookup and ownership failures
func (h *ReferralHandler) referralError(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	if businessflow.IsReferralNotFound(err) {
		return h.ErrorResponse(c, fiber.StatusNotFound, "Referral not found", "REFERRAL_NOT_FOUND", nil)
	}
	if businessflow.IsReferralAccessDenied(err) {
		return h.ErrorResponse(c, fiber.StatusForbidden, "Referral belongs to another clinic", "REFERRAL_ACCESS_DENIED", nil)
	}
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}

// statusError translates status machine failures on top of the shared ones
func (h *ReferralHandler) statusError(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	if businessflow.IsInvalidStatus(err) {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Unknown referral status", "INVALID_STATUS", nil)
	}
	if businessflow.IsNotCanonicalStage(err) {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Stage must be a canonical timeline stage", "NOT_CANONICAL_STAGE", nil)
	}
	if businessflow.IsInvalidTransition(err) {
		return h.ErrorResponse(c, fiber.StatusConflict, "Transition not allowed from the current status", "INVALID_TRANSITION", nil)
	}
	if businessflow.IsTerminalStatus(err) {
		return h.ErrorResponse(c, fiber.StatusConflict, "Referral is in a terminal status", "REFERRAL_TERMINAL", nil)
	}
	if businessflow.IsRevertNotAllowed(err) {
		return h.ErrorResponse(c, fiber.StatusConflict, "Revert target must be an earlier stage", "REVERT_NOT_ALLOWED", nil)
	}
	return h.referralError(c, err, fallbackMessage, fallbackCode)
}

func (h *ReferralHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return h.createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}

func (h *ReferralHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)
	return ctx
}
