// Package main provides the main entry point for the ReferMed referral tracking service
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/refermed/refermed/app/handlers"
	"github.com/refermed/refermed/app/middleware"
	"github.com/refermed/refermed/app/router"
	"github.com/refermed/refermed/app/scheduler"
	"github.com/refermed/refermed/app/services"
	businessflow "github.com/refermed/refermed/business_flow"
	"github.com/refermed/refermed/config"
	"github.com/refermed/refermed/repository"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting ReferMed application...")

	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cfg.Logging)

	// Initialize application
	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Setup routes
	app.router.SetupRoutes()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// setupLogging routes the process log through a rotating file sink when
// configured. Rotation keeps disk usage bounded on long-lived deployments.
func setupLogging(cfg config.LoggingConfig) {
	if cfg.Output == "stdout" || cfg.FilePath == "" {
		return
	}

	sink := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	if cfg.Output == "both" {
		log.SetOutput(io.MultiWriter(os.Stdout, sink))
		return
	}
	log.SetOutput(sink)
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pooling
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test the connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Cache client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB if provided in config
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", cfg.RedisURL, cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor starts a background goroutine that periodically pings Redis
// to detect connectivity issues. The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeNotificationService initializes the notification service
func initializeNotificationService(cfg *config.ProductionConfig, notificationRepo repository.NotificationRepository) services.NotificationService {
	// Create SMS service based on configuration
	var smsService services.SMSService
	var emailProvider services.EmailProvider

	switch cfg.SMS.ProviderDomain {
	case "mock":
		smsService = services.NewMockSMSService()
	default:
		smsService = services.NewSMSService(&cfg.SMS)
	}

	if cfg.Email.Host != "" {
		emailProvider = services.NewSMTPEmailProvider(cfg.Email.Host, cfg.Email.Port, cfg.Email.Username, cfg.Email.Password, cfg.Email.FromEmail)
	} else {
		emailProvider = services.NewMockEmailProvider()
	}

	return services.NewNotificationService(smsService, emailProvider, notificationRepo)
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	// Initialize database
	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		cancel := startCacheHealthMonitor(context.Background(), rc, 30*time.Second)
		stopFuncs = append(stopFuncs, cancel)
	}

	// Initialize repositories
	clinicRepo := repository.NewClinicRepository(db)
	memberRepo := repository.NewClinicMemberRepository(db)
	linkRepo := repository.NewReferralLinkRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	attachmentRepo := repository.NewReferralAttachmentRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	// Initialize services
	notificationService := initializeNotificationService(cfg, notificationRepo)
	tokenService := services.NewTokenService(cfg.Security.BcryptCost)

	authTokenService, err := services.NewAuthTokenService(
		cfg.Auth.Issuer,
		cfg.Auth.Audience,
		cfg.Auth.UseRSAKeys,
		cfg.Auth.PublicKey,
		cfg.Auth.SecretKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth token service: %w", err)
	}

	log.Printf("Auth token service initialized with issuer: %s, audience: %s", cfg.Auth.Issuer, cfg.Auth.Audience)

	// Initialize flows
	tenantFlow := businessflow.NewTenantFlow(clinicRepo, memberRepo)

	linkFlow := businessflow.NewReferralLinkFlow(
		db,
		linkRepo,
		referralRepo,
		auditRepo,
		tokenService,
	)

	publicFlow := businessflow.NewPublicReferralFlow(
		db,
		linkRepo,
		referralRepo,
		clinicRepo,
		attachmentRepo,
		auditRepo,
		tokenService,
		notificationService,
		rc,
		&cfg.Cache,
	)

	referralFlow := businessflow.NewReferralFlow(
		referralRepo,
		auditRepo,
		tokenService,
	)

	statusFlow := businessflow.NewReferralStatusFlow(
		referralRepo,
		clinicRepo,
		auditRepo,
		notificationService,
	)

	notificationFlow := businessflow.NewNotificationFlow(notificationRepo)

	// Demo progression scheduler; off in production unless forced
	demoScheduler := scheduler.NewDemoProgressionScheduler(
		statusFlow,
		referralRepo,
		attachmentRepo,
		log.Default(),
		cfg.Demo.BaseStep,
		cfg.Demo.FastStep,
	)
	stopFuncs = append(stopFuncs, demoScheduler.Shutdown)
	if cfg.DemoEnabled() {
		log.Println("Demo progression scheduler enabled")
	}

	demoFlow := businessflow.NewDemoProgressionFlow(
		referralRepo,
		auditRepo,
		demoScheduler,
		cfg.DemoEnabled(),
	)

	// Initialize handlers
	linkHandler := handlers.NewReferralLinkHandler(linkFlow)
	referralHandler := handlers.NewReferralHandler(referralFlow, statusFlow, demoFlow)
	publicHandler := handlers.NewPublicReferralHandler(publicFlow)
	notificationHandler := handlers.NewNotificationHandler(notificationFlow)

	// Initialize auth middleware
	authMiddleware := middleware.NewAuthMiddleware(authTokenService, tenantFlow)

	// Initialize router
	appRouter := router.NewFiberRouter(
		linkHandler,
		referralHandler,
		publicHandler,
		notificationHandler,
		authMiddleware,
	)

	// Create application struct from FiberRouter
	fiberRouter := appRouter.(*router.FiberRouter)
	application := &Application{
		router:    fiberRouter,
		config:    cfg,
		server:    fiberRouter.GetApp(),
		stopFuncs: stopFuncs,
	}

	return application, nil
}
