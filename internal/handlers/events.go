package handlers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/cronflow/cronflow/internal/models"
	"github.com/cronflow/cronflow/internal/scheduler"
	"github.com/cronflow/cronflow/internal/store"
)

var validate = validator.New()

type EventHandler struct {
	db    *gorm.DB
	sched *scheduler.Scheduler
}

func NewEventHandler(db *gorm.DB, sched *scheduler.Scheduler) *EventHandler {
	return &EventHandler{db: db, sched: sched}
}

type eventRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description"`

	ScriptType string `json:"script_type" validate:"required,oneof=shell python node http"`
	Content    string `json:"content"`

	HTTPMethod      string         `json:"http_method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE HEAD"`
	HTTPURL         string         `json:"http_url" validate:"omitempty,url"`
	HTTPHeaders     datatypes.JSON `json:"http_headers"`
	HTTPBody        string         `json:"http_body"`
	HTTPContentType string         `json:"http_content_type" validate:"omitempty,oneof=json form multipart"`

	TriggerType string `json:"trigger_type" validate:"required,oneof=manual scheduled"`

	ScheduleNumber int        `json:"schedule_number" validate:"min=0"`
	ScheduleUnit   string     `json:"schedule_unit" validate:"omitempty,oneof=seconds minutes hours days"`
	CronExpression string     `json:"cron_expression"`
	StartAt        *time.Time `json:"start_at"`

	TimeoutValue int    `json:"timeout_value" validate:"min=0"`
	TimeoutUnit  string `json:"timeout_unit" validate:"omitempty,oneof=seconds minutes"`
	RetryCount   int    `json:"retry_count" validate:"min=0,max=10"`

	RunLocation string      `json:"run_location" validate:"omitempty,oneof=local remote"`
	TargetIDs   []uuid.UUID `json:"target_ids"`

	Input   datatypes.JSON `json:"input"`
	EnvVars datatypes.JSON `json:"env_vars"`

	MaxExecutions int `json:"max_executions" validate:"min=0"`
	MaxFailures   int `json:"max_failures" validate:"min=0"`

	Status string `json:"status" validate:"omitempty,oneof=draft active paused"`
}

func (r *eventRequest) apply(event *models.Event) {
	event.Name = r.Name
	event.Description = r.Description
	event.ScriptType = r.ScriptType
	event.Content = r.Content
	event.HTTPMethod = r.HTTPMethod
	event.HTTPURL = r.HTTPURL
	event.HTTPHeaders = r.HTTPHeaders
	event.HTTPBody = r.HTTPBody
	event.HTTPContentType = r.HTTPContentType
	event.TriggerType = r.TriggerType
	event.ScheduleNumber = r.ScheduleNumber
	event.ScheduleUnit = r.ScheduleUnit
	event.CronExpression = r.CronExpression
	event.StartAt = r.StartAt
	event.TimeoutValue = r.TimeoutValue
	event.TimeoutUnit = r.TimeoutUnit
	event.RetryCount = r.RetryCount
	event.RunLocation = r.RunLocation
	event.Input = r.Input
	event.EnvVars = r.EnvVars
	event.MaxExecutions = r.MaxExecutions
	event.MaxFailures = r.MaxFailures
	if r.Status != "" {
		event.Status = r.Status
	}
}

func (h *EventHandler) parseRequest(c *fiber.Ctx) (*eventRequest, error) {
	var req eventRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}
	if err := validate.Struct(&req); err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Validation failed: " + err.Error(),
		})
	}
	if req.TriggerType == models.TriggerScheduled && req.CronExpression == "" && req.ScheduleNumber < 1 {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Scheduled events need a cron expression or an interval",
		})
	}
	return &req, nil
}

func (h *EventHandler) loadTargets(ids []uuid.UUID) ([]models.Target, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var targets []models.Target
	if err := h.db.Where("id IN ?", ids).Find(&targets).Error; err != nil {
		return nil, err
	}
	return targets, nil
}

func (h *EventHandler) ListEvents(c *fiber.Ctx) error {
	var events []models.Event
	if err := h.db.Preload("Targets").Preload("Actions").Order("created_at DESC").Find(&events).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list events",
		})
	}
	return c.JSON(fiber.Map{"events": events})
}

func (h *EventHandler) GetEvent(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badID(c)
	}

	var event models.Event
	if err := h.db.Preload("Targets").Preload("Actions").First(&event, "id = ?", id).Error; err != nil {
		return notFound(c, "Event not found")
	}
	return c.JSON(event)
}

func (h *EventHandler) CreateEvent(c *fiber.Ctx) error {
	req, err := h.parseRequest(c)
	if err != nil {
		return err
	}

	event := models.Event{Status: models.StatusDraft}
	req.apply(&event)

	targets, err := h.loadTargets(req.TargetIDs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to resolve targets",
		})
	}
	event.Targets = targets

	if err := h.db.Create(&event).Error; err != nil {
		slog.Error("Failed to create event", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to create event",
		})
	}

	if err := h.sched.Schedule(&event); err != nil {
		slog.Error("Failed to schedule new event", "event", event.ID, "error", err)
	}

	slog.Info("Event created", "event", event.ID, "name", event.Name)
	return c.Status(fiber.StatusCreated).JSON(event)
}

func (h *EventHandler) UpdateEvent(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badID(c)
	}

	var event models.Event
	if err := h.db.Preload("Targets").First(&event, "id = ?", id).Error; err != nil {
		return notFound(c, "Event not found")
	}

	req, err := h.parseRequest(c)
	if err != nil {
		return err
	}
	req.apply(&event)

	targets, err := h.loadTargets(req.TargetIDs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to resolve targets",
		})
	}

	if err := h.db.Save(&event).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to update event",
		})
	}
	if err := h.db.Model(&event).Association("Targets").Replace(targets); err != nil {
		slog.Error("Failed to replace event targets", "event", event.ID, "error", err)
	}

	h.sched.Update(event.ID)
	return c.JSON(event)
}

func (h *EventHandler) DeleteEvent(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badID(c)
	}

	h.sched.Delete(id)

	if err := h.db.Delete(&models.Event{}, "id = ?", id).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to delete event",
		})
	}
	return c.JSON(fiber.Map{"message": "Event deleted"})
}

// SetStatus activates or pauses an event and re-arms or cancels its timer.
func (h *EventHandler) SetStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badID(c)
	}

	var req struct {
		Status string `json:"status" validate:"required,oneof=draft active paused"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Validation failed: " + err.Error(),
		})
	}

	var event models.Event
	if err := h.db.First(&event, "id = ?", id).Error; err != nil {
		return notFound(c, "Event not found")
	}

	// Resuming a paused event resets the counters that paused it.
	updates := map[string]any{"status": req.Status}
	if event.Status == models.StatusPaused && req.Status == models.StatusActive {
		updates["failure_count"] = 0
		updates["execution_count"] = 0
	}
	if err := h.db.Model(&event).Updates(updates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to update status",
		})
	}

	h.sched.Update(id)
	slog.Info("Event status changed", "event", id, "status", req.Status)
	return c.JSON(fiber.Map{"message": "Status updated", "status": req.Status})
}

// RunEvent triggers one immediate execution. A concurrent run of the same
// event yields 409.
func (h *EventHandler) RunEvent(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badID(c)
	}

	log, err := h.sched.RunManual(c.Context(), id)
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   true,
			"message": "Event is already executing",
		})
	}
	if errors.Is(err, store.ErrNotFound) {
		return notFound(c, "Event not found")
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to start execution",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message":      "Execution started",
		"execution_id": log.ID,
	})
}

func badID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   true,
		"message": "Invalid ID",
	})
}

func notFound(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":   true,
		"message": msg,
	})
}
