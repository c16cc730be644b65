// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/refermed/refermed/app/dto"
	"github.com/refermed/refermed/app/services"
	businessflow "github.com/refermed/refermed/business_flow"
)

// AuthMiddleware validates IdP bearer tokens and resolves the acting clinic
// for protected endpoints
type AuthMiddleware struct {
	tokenService services.AuthTokenService
	tenantFlow   businessflow.TenantFlow
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokenService services.AuthTokenService, tenantFlow businessflow.TenantFlow) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
		tenantFlow:   tenantFlow,
	}
}

// Authenticate validates the bearer token and resolves the tenant before the
// request reaches a handler. Handlers downstream can rely on both being set.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		// Get the Authorization header
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Authorization header is required",
				Error: dto.ErrorDetail{
					Code: "MISSING_AUTHORIZATION_HEADER",
				},
			})
		}

		// Check if the header starts with "Bearer "
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Invalid authorization header format. Expected 'Bearer <token>'",
				Error: dto.ErrorDetail{
					Code: "INVALID_AUTHORIZATION_FORMAT",
				},
			})
		}

		// Extract the token (remove "Bearer " prefix)
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Access token is required",
				Error: dto.ErrorDetail{
					Code: "MISSING_ACCESS_TOKEN",
				},
			})
		}

		// Validate the token signature and claims
		claims, err := m.tokenService.ValidateToken(token)
		if err != nil {
			var errorCode string
			var message string

			// Determine the specific error type
			if errors.Is(err, services.ErrTokenExpired) {
				errorCode = "TOKEN_EXPIRED"
				message = "Access token has expired"
			} else if errors.Is(err, services.ErrTokenInvalid) {
				errorCode = "TOKEN_INVALID"
				message = "Invalid access token"
			} else {
				errorCode = "TOKEN_VALIDATION_FAILED"
				message = "Token validation failed"
			}

			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: message,
				Error: dto.ErrorDetail{
					Code: errorCode,
				},
			})
		}

		// Resolve the acting clinic for this identity
		tenant, err := m.tenantFlow.Resolve(c.Context(), claims)
		if err != nil {
			var errorCode string
			var message string
			status := fiber.StatusForbidden

			if businessflow.IsClinicNotFound(err) {
				errorCode = "CLINIC_NOT_FOUND"
				message = "The clinic referenced by the token does not exist"
			} else if businessflow.IsClinicInactive(err) {
				errorCode = "CLINIC_INACTIVE"
				message = "The clinic account is inactive"
			} else if businessflow.IsMembershipNotFound(err) {
				errorCode = "MEMBERSHIP_NOT_FOUND"
				message = "No clinic membership found for this identity"
			} else {
				status = fiber.StatusInternalServerError
				errorCode = "TENANT_RESOLUTION_FAILED"
				message = "Failed to resolve clinic for this request"
			}

			return c.Status(status).JSON(dto.APIResponse{
				Success: false,
				Message: message,
				Error: dto.ErrorDetail{
					Code: errorCode,
				},
			})
		}

		// Store identity and tenant in context for downstream handlers
		c.Locals("identity_claims", claims)
		c.Locals("tenant", tenant)

		// Store RequestID for audit logging
		if requestID := c.Get("X-Request-ID"); requestID != "" {
			c.Locals("request_id", requestID)
		}

		// Continue to the next handler
		return c.Next()
	}
}

// GetTenantFromContext extracts the resolved tenant from the request context
func GetTenantFromContext(c fiber.Ctx) (*businessflow.Tenant, bool) {
	tenant, ok := c.Locals("tenant").(*businessflow.Tenant)
	return tenant, ok
}

// GetClaimsFromContext extracts identity claims from the request context
func GetClaimsFromContext(c fiber.Ctx) (*services.IdentityClaims, bool) {
	claims, ok := c.Locals("identity_claims").(*services.IdentityClaims)
	return claims, ok
}
