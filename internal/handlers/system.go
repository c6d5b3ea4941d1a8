package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/cronflow/cronflow/internal/models"
)

var startTime = time.Now()
var Version = "1.0.0"

type SystemHandler struct {
	db *gorm.DB
}

func NewSystemHandler(db *gorm.DB) *SystemHandler {
	return &SystemHandler{db: db}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	dbStatus := "ok"
	statusCode := fiber.StatusOK

	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		statusCode = fiber.StatusServiceUnavailable
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "unreachable: " + err.Error()
		statusCode = fiber.StatusServiceUnavailable
	}

	overall := "ok"
	if statusCode != fiber.StatusOK {
		overall = "degraded"
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":  overall,
		"service": "cronflow",
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"uptime":  time.Since(startTime).String(),
		"db":      dbStatus,
	})
}

// Overview aggregates the counts the dashboard shows.
func (h *SystemHandler) Overview(c *fiber.Ctx) error {
	var totalEvents, activeEvents, totalTargets int64
	h.db.Model(&models.Event{}).Count(&totalEvents)
	h.db.Model(&models.Event{}).Where("status = ? AND trigger_type = ?", models.StatusActive, models.TriggerScheduled).Count(&activeEvents)
	h.db.Model(&models.Target{}).Count(&totalTargets)

	since := time.Now().Add(-24 * time.Hour)
	var runs24h, failures24h int64
	h.db.Model(&models.ExecutionLog{}).Where("started_at > ?", since).Count(&runs24h)
	h.db.Model(&models.ExecutionLog{}).
		Where("started_at > ? AND status IN ?", since, []string{models.ExecFailure, models.ExecTimeout, models.ExecPartial}).
		Count(&failures24h)

	var recent []models.ExecutionLog
	h.db.Order("started_at DESC").Limit(10).Find(&recent)

	return c.JSON(fiber.Map{
		"total_events":  totalEvents,
		"active_events": activeEvents,
		"total_targets": totalTargets,
		"runs_24h":      runs24h,
		"failures_24h":  failures24h,
		"recent_logs":   recent,
	})
}
