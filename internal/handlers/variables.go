package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cronflow/cronflow/internal/models"
)

type VariableHandler struct {
	db *gorm.DB
}

func NewVariableHandler(db *gorm.DB) *VariableHandler {
	return &VariableHandler{db: db}
}

func (h *VariableHandler) ListVariables(c *fiber.Ctx) error {
	var vars []models.Variable
	if err := h.db.Order("key").Find(&vars).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list variables",
		})
	}
	return c.JSON(fiber.Map{"variables": vars})
}

// SetVariable upserts one variable. The value is stored JSON-encoded so
// scripts can round-trip structured values.
func (h *VariableHandler) SetVariable(c *fiber.Ctx) error {
	var req struct {
		Key   string          `json:"key" validate:"required,max=200"`
		Value json.RawMessage `json:"value"`
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

	value := string(req.Value)
	if value == "" {
		value = "null"
	}
	if !json.Valid([]byte(value)) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Value must be valid JSON",
		})
	}

	variable := models.Variable{Key: req.Key, Value: value}
	err := h.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&variable).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to save variable",
		})
	}
	return c.JSON(variable)
}

func (h *VariableHandler) DeleteVariable(c *fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Key is required",
		})
	}
	if err := h.db.Where("key = ?", key).Delete(&models.Variable{}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to delete variable",
		})
	}
	return c.JSON(fiber.Map{"message": "Variable deleted"})
}
