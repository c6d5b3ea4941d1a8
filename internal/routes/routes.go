package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cronflow/cronflow/internal/config"
	"github.com/cronflow/cronflow/internal/handlers"
	"github.com/cronflow/cronflow/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	eventHandler *handlers.EventHandler,
	actionHandler *handlers.ActionHandler,
	targetHandler *handlers.TargetHandler,
	credentialHandler *handlers.CredentialHandler,
	variableHandler *handlers.VariableHandler,
	logHandler *handlers.LogHandler,
	hub *handlers.Hub,
	systemHandler *handlers.SystemHandler,
) {
	// ─── Public ──────────────────────────────────────────────────────────
	app.Get("/api/health", systemHandler.Health)

	// ─── Auth ────────────────────────────────────────────────────────────
	app.Post("/api/auth/login", authHandler.Login)
	app.Post("/api/auth/refresh", authHandler.Refresh)

	// ─── Protected routes ────────────────────────────────────────────────
	api := app.Group("/api", middleware.JWTProtected(cfg.JWTSecret))

	// Auth (protected)
	api.Get("/auth/me", authHandler.Me)
	api.Put("/auth/password", authHandler.ChangePassword)

	// Dashboard
	api.Get("/dashboard/overview", systemHandler.Overview)

	// Events
	api.Get("/events", eventHandler.ListEvents)
	api.Post("/events", eventHandler.CreateEvent)
	api.Get("/events/:id", eventHandler.GetEvent)
	api.Put("/events/:id", eventHandler.UpdateEvent)
	api.Delete("/events/:id", eventHandler.DeleteEvent)
	api.Post("/events/:id/run", eventHandler.RunEvent)
	api.Put("/events/:id/status", eventHandler.SetStatus)

	// Conditional actions (nested under events)
	api.Get("/events/:id/actions", actionHandler.ListActions)
	api.Post("/events/:id/actions", actionHandler.CreateAction)
	api.Put("/events/:id/actions/:actionId", actionHandler.UpdateAction)
	api.Delete("/events/:id/actions/:actionId", actionHandler.DeleteAction)

	// Execution history
	api.Get("/logs", logHandler.ListLogs)
	api.Get("/logs/:id", logHandler.GetLog)
	api.Delete("/events/:id/logs", logHandler.DeleteLogs)

	// Live execution feed (WebSocket)
	api.Use("/logs/stream/live", hub.UpgradeCheck())
	api.Get("/logs/stream/live", hub.HandleStream())

	// Targets
	api.Get("/targets", targetHandler.ListTargets)
	api.Post("/targets", targetHandler.CreateTarget)
	api.Get("/targets/:id", targetHandler.GetTarget)
	api.Put("/targets/:id", targetHandler.UpdateTarget)
	api.Delete("/targets/:id", targetHandler.DeleteTarget)
	api.Post("/targets/:id/test", targetHandler.TestTarget)

	// Notification credentials
	api.Get("/credentials", credentialHandler.ListCredentials)
	api.Post("/credentials", credentialHandler.CreateCredential)
	api.Put("/credentials/:id", credentialHandler.UpdateCredential)
	api.Delete("/credentials/:id", credentialHandler.DeleteCredential)

	// Variables
	api.Get("/variables", variableHandler.ListVariables)
	api.Put("/variables", variableHandler.SetVariable)
	api.Delete("/variables/:key", variableHandler.DeleteVariable)
}
