package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cronflow/cronflow/internal/models"
)

type ActionHandler struct {
	db *gorm.DB
}

func NewActionHandler(db *gorm.DB) *ActionHandler {
	return &ActionHandler{db: db}
}

type actionRequest struct {
	TriggerClass string `json:"trigger_class" validate:"required,oneof=on_success on_failure always on_condition"`
	Effect       string `json:"effect" validate:"required,oneof=send_message run_event"`

	ChannelKind  string     `json:"channel_kind" validate:"omitempty,oneof=email slack discord webhook"`
	Recipients   string     `json:"recipients"`
	Subject      string     `json:"subject"`
	Message      string     `json:"message"`
	CredentialID *uuid.UUID `json:"credential_id"`

	TargetEventID *uuid.UUID `json:"target_event_id"`
}

// validateAction enforces the per-effect requirements, in particular that a
// run_event action never points at its own event.
func (h *ActionHandler) validateAction(c *fiber.Ctx, eventID uuid.UUID, req *actionRequest) error {
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Validation failed: " + err.Error(),
		})
	}

	switch req.Effect {
	case models.EffectSendMessage:
		if req.ChannelKind == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   true,
				"message": "send_message actions need a channel_kind",
			})
		}
	case models.EffectRunEvent:
		if req.TargetEventID == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   true,
				"message": "run_event actions need a target_event_id",
			})
		}
		if *req.TargetEventID == eventID {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   true,
				"message": "An event cannot trigger itself",
			})
		}
		var count int64
		h.db.Model(&models.Event{}).Where("id = ?", *req.TargetEventID).Count(&count)
		if count == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   true,
				"message": "Target event does not exist",
			})
		}
	}
	return nil
}

func (h *ActionHandler) ListActions(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badID(c)
	}

	var actions []models.ConditionalAction
	if err := h.db.Where("event_id = ?", eventID).Order("created_at").Find(&actions).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list actions",
		})
	}
	return c.JSON(fiber.Map{"actions": actions})
}

func (h *ActionHandler) CreateAction(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badID(c)
	}

	var event models.Event
	if err := h.db.First(&event, "id = ?", eventID).Error; err != nil {
		return notFound(c, "Event not found")
	}

	var req actionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}
	if err := h.validateAction(c, eventID, &req); err != nil {
		return err
	}

	action := models.ConditionalAction{
		EventID:       eventID,
		TriggerClass:  req.TriggerClass,
		Effect:        req.Effect,
		ChannelKind:   req.ChannelKind,
		Recipients:    req.Recipients,
		Subject:       req.Subject,
		Message:       req.Message,
		CredentialID:  req.CredentialID,
		TargetEventID: req.TargetEventID,
	}
	if err := h.db.Create(&action).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to create action",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(action)
}

func (h *ActionHandler) UpdateAction(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("actionId"))
	if err != nil {
		return badID(c)
	}

	var action models.ConditionalAction
	if err := h.db.First(&action, "id = ?", id).Error; err != nil {
		return notFound(c, "Action not found")
	}

	var req actionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}
	if err := h.validateAction(c, action.EventID, &req); err != nil {
		return err
	}

	action.TriggerClass = req.TriggerClass
	action.Effect = req.Effect
	action.ChannelKind = req.ChannelKind
	action.Recipients = req.Recipients
	action.Subject = req.Subject
	action.Message = req.Message
	action.CredentialID = req.CredentialID
	action.TargetEventID = req.TargetEventID

	if err := h.db.Save(&action).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to update action",
		})
	}
	return c.JSON(action)
}

func (h *ActionHandler) DeleteAction(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("actionId"))
	if err != nil {
		return badID(c)
	}
	if err := h.db.Delete(&models.ConditionalAction{}, "id = ?", id).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to delete action",
		})
	}
	return c.JSON(fiber.Map{"message": "Action deleted"})
}
