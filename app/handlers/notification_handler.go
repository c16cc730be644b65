package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/refermed/refermed/app/dto"
	businessflow "github.com/refermed/refermed/business_flow"
	"github.com/refermed/refermed/utils"
)

// NotificationHandlerInterface defines the contract for the notification feed
type NotificationHandlerInterface interface {
	List(c fiber.Ctx) error
	MarkRead(c fiber.Ctx) error
}

type NotificationHandler struct {
	flow businessflow.NotificationFlow
}

func NewNotificationHandler(flow businessflow.NotificationFlow) NotificationHandlerInterface {
	return &NotificationHandler{flow: flow}
}

func (h *NotificationHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *NotificationHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// List returns the clinic's notification feed, newest first
func (h *NotificationHandler) List(c fiber.Ctx) error {
	tenant, ok := tenantFromLocals(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant not found in context", "MISSING_TENANT", nil)
	}

	limit := 50
	offset := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = parsed
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil {
			offset = parsed
		}
	}

	res, err := h.flow.List(h.createRequestContext(c, "/api/v1/notifications"), tenant, limit, offset)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list notifications", "NOTIFICATION_LIST_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, res.Message, fiber.Map{
		"notifications": res.Notifications,
	})
}

// MarkRead marks one notification of the clinic as read
func (h *NotificationHandler) MarkRead(c fiber.Ctx) error {
	tenant, ok := tenantFromLocals(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant not found in context", "MISSING_TENANT", nil)
	}

	idStr := c.Params("id")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id == 0 {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid notification id", "INVALID_NOTIFICATION_ID", nil)
	}

	ctx := h.createRequestContext(c, "/api/v1/notifications/"+idStr+"/read")
	if err := h.flow.MarkRead(ctx, tenant, uint(id)); err != nil {
		if businessflow.IsReferralAccessDenied(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Notification not found", "NOTIFICATION_NOT_FOUND", nil)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to mark notification read", "NOTIFICATION_UPDATE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Notification marked read", nil)
}

func (h *NotificationHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return h.createRequestContextWithTimeout(c, endpoint, 10*time.Second)
}

func (h *NotificationHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)
	return ctx
}
