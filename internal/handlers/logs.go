package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cronflow/cronflow/internal/models"
)

type LogHandler struct {
	db  *gorm.DB
	hub *Hub
}

func NewLogHandler(db *gorm.DB, hub *Hub) *LogHandler {
	return &LogHandler{db: db, hub: hub}
}

// ListLogs returns execution records, newest first, optionally filtered by
// event and status.
func (h *LogHandler) ListLogs(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	query := h.db.Model(&models.ExecutionLog{}).Order("started_at DESC")

	if eventID := c.Query("event_id"); eventID != "" {
		id, err := uuid.Parse(eventID)
		if err != nil {
			return badID(c)
		}
		query = query.Where("event_id = ?", id)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	query.Count(&total)

	var logs []models.ExecutionLog
	if err := query.Limit(limit).Offset(offset).Find(&logs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list execution logs",
		})
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
	})
}

func (h *LogHandler) GetLog(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badID(c)
	}
	var log models.ExecutionLog
	if err := h.db.First(&log, "id = ?", id).Error; err != nil {
		return notFound(c, "Execution log not found")
	}
	return c.JSON(log)
}

// DeleteLogs clears the history for one event.
func (h *LogHandler) DeleteLogs(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badID(c)
	}
	if err := h.db.Where("event_id = ?", eventID).Delete(&models.ExecutionLog{}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to delete execution logs",
		})
	}
	return c.JSON(fiber.Map{"message": "Execution logs deleted"})
}
