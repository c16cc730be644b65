// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cache"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/refermed/refermed/app/dto"
	"github.com/refermed/refermed/app/handlers"
	"github.com/refermed/refermed/app/middleware"
	"github.com/refermed/refermed/utils"
)

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app                 *fiber.App
	linkHandler         handlers.ReferralLinkHandlerInterface
	referralHandler     handlers.ReferralHandlerInterface
	publicHandler       handlers.PublicReferralHandlerInterface
	notificationHandler handlers.NotificationHandlerInterface
	authMiddleware      *middleware.AuthMiddleware
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(
	linkHandler handlers.ReferralLinkHandlerInterface,
	referralHandler handlers.ReferralHandlerInterface,
	publicHandler handlers.PublicReferralHandlerInterface,
	notificationHandler handlers.NotificationHandlerInterface,
	authMiddleware *middleware.AuthMiddleware,
) Router {
	// Configure Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "ReferMed API",
		ServerHeader: "ReferMed",
		ErrorHandler: errorHandler,
		BodyLimit:    4 * 1024 * 1024, // 4MB
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	return &FiberRouter{
		app:                 app,
		linkHandler:         linkHandler,
		referralHandler:     referralHandler,
		publicHandler:       publicHandler,
		notificationHandler: notificationHandler,
		authMiddleware:      authMiddleware,
	}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	log.Println("Setting up routes...")

	// Global middleware
	r.setupMiddleware()

	// API routes
	api := r.app.Group("/api/v1")

	// Health check route (no rate limiting)
	api.Get("/health", r.healthCheck)

	// API documentation route (development only)
	if os.Getenv("APP_ENV") == "development" || os.Getenv("APP_ENV") == "local" {
		api.Get("/docs", r.getAPIDocumentation)
		log.Println("API documentation enabled for development")
	}

	// Apply general rate limiting to all API routes (aligned with nginx)
	api.Use(limiter.New(limiter.Config{
		Max:        2000,            // Maximum 2000 requests (matches nginx api zone)
		Expiration: 1 * time.Minute, // Per minute
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP() // Rate limit by IP
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error: dto.ErrorDetail{
					Code: "RATE_LIMIT_EXCEEDED",
				},
			})
		},
		Next: func(c fiber.Ctx) bool {
			// Skip rate limiting for health checks
			return c.Path() == "/api/v1/health"
		},
	}))

	// Stricter rate limiting for the public magic link surface; anyone with
	// the URL can hit these, so they get the tight budget.
	publicLimiter := limiter.New(limiter.Config{
		Max:        30,              // Maximum 30 requests
		Expiration: 1 * time.Minute, // Per minute
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP() // Rate limit by IP
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error: dto.ErrorDetail{
					Code: "RATE_LIMIT_EXCEEDED",
				},
			})
		},
	})

	authenticate := r.authMiddleware.Authenticate()

	// Public magic link endpoints (no authentication)
	api.Get("/referral-links/:token", r.publicHandler.Metadata, publicLimiter)
	api.Post("/referral-links/:token/verify", r.publicHandler.VerifyAccess, publicLimiter)
	api.Post("/referral-links/:token/submit", r.publicHandler.Submit, publicLimiter)
	api.Get("/referral-status/:statusToken", r.publicHandler.Status, publicLimiter)

	// Referral link management (authenticated, tenant-scoped)
	api.Get("/referral-links", r.linkHandler.List, authenticate)
	api.Post("/referral-links", r.linkHandler.Create, authenticate)
	api.Patch("/referral-links/:uuid", r.linkHandler.Update, authenticate)
	api.Delete("/referral-links/:uuid", r.linkHandler.Delete, authenticate)
	api.Post("/referral-links/:uuid/regenerate-code", r.linkHandler.RegenerateAccessCode, authenticate)

	// Referrals (authenticated, tenant-scoped). Export goes before :uuid so
	// the static segment wins.
	api.Get("/referrals", r.referralHandler.List, authenticate)
	api.Get("/referrals/export", r.referralHandler.Export, authenticate)
	api.Get("/referrals/:uuid", r.referralHandler.Get, authenticate)
	api.Patch("/referrals/:uuid/status", r.referralHandler.UpdateStatus, authenticate)
	api.Post("/referrals/:uuid/revert", r.referralHandler.RevertStage, authenticate)
	api.Post("/referrals/:uuid/share", r.referralHandler.Share, authenticate)
	api.Post("/referrals/:uuid/demo-progression", r.referralHandler.StartDemoProgression, authenticate)

	// Notification feed (authenticated)
	api.Get("/notifications", r.notificationHandler.List, authenticate)
	api.Post("/notifications/:id/read", r.notificationHandler.MarkRead, authenticate)

	// Not found handler
	r.app.Use(r.notFoundHandler)

	log.Println("Routes configured successfully")
}

// SetupMiddleware configures global middleware
func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return generateRequestID()
		},
	}))

	// Security headers middleware
	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		HSTSMaxAge:                31536000, // 1 year
		HSTSExcludeSubdomains:     false,
		ContentSecurityPolicy:     "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https:; font-src 'self' https:; connect-src 'self' https:; frame-ancestors 'none';",
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginEmbedderPolicy: "require-corp",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "cross-origin",
		OriginAgentCluster:        "?1",
		XDNSPrefetchControl:       "off",
		XDownloadOptions:          "noopen",
		XPermittedCrossDomain:     "none",
	}))

	// CORS middleware with production settings
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"https://refermed.app",
			"https://api.refermed.app",
			"https://portal.refermed.app",
			"https://monitoring.refermed.app",
		},
		AllowMethods: []string{
			"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Requested-With",
			"X-Request-ID",
			"X-Access-Code",
			"Cache-Control",
		},
		ExposeHeaders: []string{
			"X-Request-ID",
			"X-Response-Time",
		},
		AllowCredentials: true,
		MaxAge:           utils.CORSMaxAge,
	}))

	// Compression middleware for performance
	r.app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
		Next: func(c fiber.Ctx) bool {
			// Skip compression for certain content types
			contentType := c.Get("Content-Type")
			return contains(contentType, "image/") ||
				contains(contentType, "video/") ||
				contains(contentType, "audio/")
		},
	}))

	// Cache middleware for static content
	r.app.Use(cache.New(cache.Config{
		Next: func(c fiber.Ctx) bool {
			// Only cache GET requests to specific endpoints
			return c.Method() != "GET" ||
				!contains(c.Path(), "/health") &&
					!contains(c.Path(), "/docs")
		},
		Expiration:          30 * time.Minute,
		DisableCacheControl: false,
	}))

	// Advanced logging middleware
	r.app.Use(logger.New(logger.Config{
		Format:     `{"time":"${time}","pid":"${pid}","request_id":"${locals:requestid}","level":"info","method":"${method}","path":"${path}","protocol":"${protocol}","ip":"${ip}","user_agent":"${ua}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent},"referer":"${referer}"}` + "\n",
		TimeFormat: time.RFC3339,
		TimeZone:   "UTC",
		Next: func(c fiber.Ctx) bool {
			// Skip logging for health checks in production
			return c.Path() == "/api/v1/health"
		},
	}))

	// Prometheus request metrics
	r.app.Use(middleware.Metrics())

	// Custom security middleware
	r.app.Use(r.securityMiddleware)

	// Recovery middleware with custom error handling
	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e interface{}) {
			// Log panic with request context
			log.Printf(`{"time":"%s","level":"error","request_id":"%s","event":"panic","error":"%v","path":"%s","method":"%s","ip":"%s"}`,
				utils.UTCNow().Format(time.RFC3339),
				c.Locals("requestid"),
				e,
				c.Path(),
				c.Method(),
				c.IP(),
			)
		},
	}))
}

// Custom security middleware
func (r *FiberRouter) securityMiddleware(c fiber.Ctx) error {
	// Add security headers
	c.Set("X-Response-Time", utils.UTCNow().Format(time.RFC3339))
	c.Set("Server", "ReferMed")

	// IP validation (if configured)
	clientIP := c.IP()

	// Simple IP blocking example
	blockedIPs := []string{
		"127.0.0.2", // Example blocked IP
	}

	for _, blockedIP := range blockedIPs {
		if clientIP == blockedIP {
			return c.Status(fiber.StatusForbidden).JSON(dto.APIResponse{
				Success: false,
				Message: "Access denied from this IP address",
				Error: dto.ErrorDetail{
					Code: "ACCESS_DENIED",
				},
			})
		}
	}

	// Continue to next middleware
	return c.Next()
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	log.Printf("Starting server on %s", address)
	return r.app.Listen(address)
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

// Health check endpoint
func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data: fiber.Map{
			"status":    "ok",
			"timestamp": utils.UTCNow().Unix(),
			"version":   "1.0.0",
			"service":   "refermed-api",
		},
	})
}

// API documentation endpoint
func (r *FiberRouter) getAPIDocumentation(c fiber.Ctx) error {
	docs := GetRouteDocumentation()
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "API documentation retrieved successfully",
		Data: fiber.Map{
			"title":       "ReferMed API Documentation",
			"version":     "1.0.0",
			"description": "Clinic referral tracking API",
			"endpoints":   docs,
		},
	})
}

// Not found handler
func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	requestID := c.Locals("requestid")

	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": requestID,
			},
		},
	})
}

// Global error handler
func errorHandler(c fiber.Ctx, err error) error {
	// Default error code
	code := fiber.StatusInternalServerError

	// Retrieve the custom status code if it's a fiber.*Error
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	// Log the error
	log.Printf("Error %d: %v", code, err)

	// Get RequestID for tracing
	requestID := c.Locals("requestid")

	// Return JSON error response
	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: "An internal server error occurred",
		Error: dto.ErrorDetail{
			Code: "INTERNAL_ERROR",
			Details: fiber.Map{
				"timestamp":  utils.UTCNow().Unix(),
				"request_id": requestID,
			},
		},
	})
}

// Helper functions

// generateRequestID creates a unique request ID
func generateRequestID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// contains checks if a string contains a substring
func contains(str, substr string) bool {
	return strings.Contains(str, substr)
}

// GetRouteDocumentation returns API documentation
func GetRouteDocumentation() []map[string]any {
	return []map[string]any{
		{
			"method":      "GET",
			"path":        "/api/v1/referral-links/:token",
			"description": "Public link landing page metadata (clinic, specialist, label)",
			"parameters": map[string]any{
				"token": "string (required) - Magic link token in URL path",
			},
		},
		{
			"method":      "POST",
			"path":        "/api/v1/referral-links/:token/verify",
			"description": "Verify the access code of a magic link",
			"parameters": map[string]any{
				"access_code": "string (required) - Numeric access code (4-8 digits)",
			},
		},
		{
			"method":      "POST",
			"path":        "/api/v1/referral-links/:token/submit",
			"description": "Submit a referral through a magic link",
			"parameters": map[string]any{
				"access_code":    "string (required) - Numeric access code",
				"patient_name":   "string (required) - Patient full name",
				"patient_mobile": "string (optional) - Mobile in E.164 format",
				"patient_email":  "string (optional) - Email address",
				"reason":         "string (required) - Referral reason",
				"symptoms":       "array of strings (optional) - Reported symptoms",
			},
		},
		{
			"method":      "GET",
			"path":        "/api/v1/referral-status/:statusToken",
			"description": "Patient status page with the treatment timeline",
			"parameters": map[string]any{
				"statusToken": "string (required) - Status token from submission",
				"code":        "string (query) - Access code; also accepted via X-Access-Code header",
			},
		},
		{
			"method":      "GET",
			"path":        "/api/v1/referral-links",
			"description": "List the clinic's magic links with referral counts",
			"parameters":  map[string]any{},
		},
		{
			"method":      "POST",
			"path":        "/api/v1/referral-links",
			"description": "Create a magic link; the access code appears once in the response",
			"parameters": map[string]any{
				"label":              "string (required) - Link label",
				"access_code_length": "number (optional) - 4 to 8, default 6",
			},
		},
		{
			"method":      "POST",
			"path":        "/api/v1/referral-links/:uuid/regenerate-code",
			"description": "Rotate a link's access code; the old code stops working",
			"parameters": map[string]any{
				"uuid": "string (required) - Link UUID in URL path",
			},
		},
		{
			"method":      "GET",
			"path":        "/api/v1/referrals",
			"description": "List the clinic's referrals",
			"parameters": map[string]any{
				"page":          "number (optional) - Page, default 1",
				"page_size":     "number (optional) - Page size, default 20, max 100",
				"status":        "string (optional) - Filter by status",
				"referral_type": "string (optional) - incoming|outgoing",
			},
		},
		{
			"method":      "PATCH",
			"path":        "/api/v1/referrals/:uuid/status",
			"description": "Move a referral forward along the treatment timeline",
			"parameters": map[string]any{
				"status": "string (required) - accepted|sent|completed|cancelled|rejected",
			},
		},
		{
			"method":      "POST",
			"path":        "/api/v1/referrals/:uuid/revert",
			"description": "Move a referral back to an earlier stage, keeping timestamps",
			"parameters": map[string]any{
				"stage": "string (required) - submitted|accepted|sent|completed",
			},
		},
		{
			"method":      "GET",
			"path":        "/api/v1/referrals/export",
			"description": "Download the clinic's referrals as an xlsx workbook",
			"parameters":  map[string]any{},
		},
		{
			"method":      "GET",
			"path":        "/api/v1/health",
			"description": "Health check endpoint",
			"parameters":  map[string]any{},
		},
	}
}
