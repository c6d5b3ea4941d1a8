package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/cronflow/cronflow/internal/actions"
	"github.com/cronflow/cronflow/internal/config"
	"github.com/cronflow/cronflow/internal/crypto"
	"github.com/cronflow/cronflow/internal/database"
	"github.com/cronflow/cronflow/internal/dispatch"
	"github.com/cronflow/cronflow/internal/handlers"
	"github.com/cronflow/cronflow/internal/models"
	"github.com/cronflow/cronflow/internal/notify"
	"github.com/cronflow/cronflow/internal/render"
	"github.com/cronflow/cronflow/internal/routes"
	"github.com/cronflow/cronflow/internal/runner"
	"github.com/cronflow/cronflow/internal/scheduler"
	"github.com/cronflow/cronflow/internal/services"
	"github.com/cronflow/cronflow/internal/store"
)

func main() {
	// JSON structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting Cronflow", "version", handlers.Version)

	// ─── Config ──────────────────────────────────────────────────────────
	cfg := config.Load()

	// ─── Database ────────────────────────────────────────────────────────
	if err := database.Connect(cfg); err != nil {
		slog.Error("Database connection failed", "error", err)
		os.Exit(1)
	}

	if err := database.Migrate(); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}

	db := database.DB

	// ─── Encryption ─────────────────────────────────────────────────────
	var encryptor *crypto.Encryptor
	if cfg.EncryptionKey != "" {
		var err error
		encryptor, err = crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			slog.Error("Failed to create encryptor", "error", err)
			os.Exit(1)
		}
		slog.Info("Secret encryption initialized")
	} else {
		slog.Warn("ENCRYPTION_KEY not set, secrets will not be protected")
		// Create a dummy encryptor with a default key for development
		encryptor, _ = crypto.NewEncryptor("0000000000000000000000000000000000000000000000000000000000000000")
	}

	// ─── Execution core ─────────────────────────────────────────────────
	st := store.NewGormStore(db)
	sshPool := services.NewSSHPool()

	localRunner := runner.NewLocalRunner(st, cfg.WorkDir)
	remoteRunner := runner.NewRemoteRunner(sshPool, encryptor, st)
	httpRunner := runner.NewHTTPRunner(time.Duration(cfg.HTTPTimeoutSeconds) * time.Second)

	coordinator := dispatch.NewCoordinator(st, localRunner, remoteRunner, httpRunner)

	notifiers := notify.NewSet(
		notify.NewEmailNotifier(encryptor),
		notify.NewSlackNotifier(encryptor),
		notify.NewDiscordNotifier(encryptor),
		notify.NewWebhookNotifier(encryptor),
	)

	actionDispatcher := actions.NewDispatcher(st, notifiers, render.NewTemplateRenderer(), defaultEmailCredential(cfg, encryptor))
	coordinator.SetActions(actionDispatcher)

	sched := scheduler.New(st, coordinator)
	coordinator.SetTimerControl(sched)
	actionDispatcher.SetChainer(sched)

	hub := handlers.NewHub()
	coordinator.SetObserver(hub)

	if err := sched.Initialize(context.Background()); err != nil {
		slog.Error("Scheduler initialization failed", "error", err)
		os.Exit(1)
	}

	// ─── Handlers ───────────────────────────────────────────────────────
	authHandler := handlers.NewAuthHandler(cfg)
	eventHandler := handlers.NewEventHandler(db, sched)
	actionHandler := handlers.NewActionHandler(db)
	targetHandler := handlers.NewTargetHandler(db, encryptor)
	credentialHandler := handlers.NewCredentialHandler(db, encryptor)
	variableHandler := handlers.NewVariableHandler(db)
	logHandler := handlers.NewLogHandler(db, hub)
	systemHandler := handlers.NewSystemHandler(db)

	// ─── Fiber App ──────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      "cronflow v" + handlers.Version,
		ServerHeader: "cronflow",
		BodyLimit:    10 * 1024 * 1024, // 10MB for script payloads
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal server error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": message,
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, OPTIONS",
	}))

	app.Use(recover.New(recover.Config{
		EnableStackTrace: false,
	}))

	// Security headers
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Request logger
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if c.Path() == "/api/health" {
			return err
		}
		slog.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)
		return err
	})

	// ─── Routes ─────────────────────────────────────────────────────────
	routes.Setup(app, cfg, authHandler, eventHandler, actionHandler, targetHandler,
		credentialHandler, variableHandler, logHandler, hub, systemHandler)

	// ─── Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Cronflow...")

		sched.Stop()
		sshPool.CloseAll()

		if err := app.Shutdown(); err != nil {
			slog.Error("Fiber shutdown error", "error", err)
		}

		if sqlDB, err := database.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	// ─── Start ──────────────────────────────────────────────────────────
	listenAddr := ":" + cfg.Port
	slog.Info("Cronflow listening", "addr", listenAddr)

	if err := app.Listen(listenAddr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// defaultEmailCredential builds the system-wide email channel from the
// environment. Nil when disabled.
func defaultEmailCredential(cfg *config.Config, enc *crypto.Encryptor) *models.Credential {
	if !cfg.DefaultEmailEnabled || cfg.DefaultSMTPHost == "" {
		return nil
	}

	cred := &models.Credential{
		Name:         "default-email",
		ChannelKind:  models.ChannelEmail,
		SMTPHost:     cfg.DefaultSMTPHost,
		SMTPPort:     cfg.DefaultSMTPPort,
		SMTPUsername: cfg.DefaultSMTPUsername,
		FromAddress:  cfg.DefaultFromAddress,
	}
	if cfg.DefaultSMTPPassword != "" {
		encrypted, err := enc.Encrypt(cfg.DefaultSMTPPassword)
		if err != nil {
			slog.Error("Failed to encrypt default SMTP password", "error", err)
			return nil
		}
		cred.EncryptedPassword = encrypted
	}
	slog.Info("Default email channel enabled", "host", cfg.DefaultSMTPHost)
	return cred
}
