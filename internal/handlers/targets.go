package handlers

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cronflow/cronflow/internal/crypto"
	"github.com/cronflow/cronflow/internal/models"
	"github.com/cronflow/cronflow/internal/services"
)

type TargetHandler struct {
	db        *gorm.DB
	encryptor *crypto.Encryptor
}

func NewTargetHandler(db *gorm.DB, encryptor *crypto.Encryptor) *TargetHandler {
	return &TargetHandler{db: db, encryptor: encryptor}
}

type targetRequest struct {
	Name       string `json:"name" validate:"required,max=200"`
	Host       string `json:"host" validate:"required"`
	Port       int    `json:"port" validate:"min=0,max=65535"`
	Username   string `json:"username" validate:"required"`
	AuthType   string `json:"auth_type" validate:"omitempty,oneof=password key"`
	Password   string `json:"password"`
	PrivateKey string `json:"private_key"`
}

func (h *TargetHandler) ListTargets(c *fiber.Ctx) error {
	var targets []models.Target
	if err := h.db.Order("created_at DESC").Find(&targets).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list targets",
		})
	}
	return c.JSON(fiber.Map{"targets": targets})
}

func (h *TargetHandler) GetTarget(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badID(c)
	}
	var target models.Target
	if err := h.db.First(&target, "id = ?", id).Error; err != nil {
		return notFound(c, "Target not found")
	}
	return c.JSON(target)
}

func (h *TargetHandler) CreateTarget(c *fiber.Ctx) error {
	var req targetRequest
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

	if req.Port == 0 {
		req.Port = 22
	}
	if req.AuthType == "" {
		req.AuthType = "password"
	}

	target := models.Target{
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		AuthType: req.AuthType,
		Status:   "unknown",
	}
	if err := h.applySecrets(c, &target, &req); err != nil {
		return err
	}

	// Probe reachability but create the target either way; targets are
	// often registered before the host is provisioned.
	if ok, _ := services.TestConnection(req.Host, req.Port, req.Username, req.Password, req.PrivateKey, req.AuthType); ok {
		now := time.Now()
		target.Status = "online"
		target.LastConnectedAt = &now
	}

	if err := h.db.Create(&target).Error; err != nil {
		slog.Error("Failed to create target", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to create target",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(target)
}

func (h *TargetHandler) UpdateTarget(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badID(c)
	}

	var target models.Target
	if err := h.db.First(&target, "id = ?", id).Error; err != nil {
		return notFound(c, "Target not found")
	}

	var req targetRequest
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

	target.Name = req.Name
	target.Host = req.Host
	if req.Port != 0 {
		target.Port = req.Port
	}
	target.Username = req.Username
	if req.AuthType != "" {
		target.AuthType = req.AuthType
	}
	// Blank secrets keep the stored ones.
	if err := h.applySecrets(c, &target, &req); err != nil {
		return err
	}

	if err := h.db.Save(&target).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to update target",
		})
	}
	return c.JSON(target)
}

func (h *TargetHandler) DeleteTarget(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badID(c)
	}
	if err := h.db.Delete(&models.Target{}, "id = ?", id).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to delete target",
		})
	}
	return c.JSON(fiber.Map{"message": "Target deleted"})
}

// TestTarget probes the stored credentials and updates the target's status.
func (h *TargetHandler) TestTarget(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badID(c)
	}

	var target models.Target
	if err := h.db.First(&target, "id = ?", id).Error; err != nil {
		return notFound(c, "Target not found")
	}

	password, privateKey, err := h.decryptSecrets(&target)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to decrypt credentials",
		})
	}

	ok, detail := services.TestConnection(target.Host, target.Port, target.Username, password, privateKey, target.AuthType)

	status := "offline"
	updates := map[string]any{"status": status}
	if ok {
		status = "online"
		now := time.Now()
		updates["status"] = status
		updates["last_connected_at"] = now
	}
	if err := h.db.Model(&target).Updates(updates).Error; err != nil {
		slog.Error("Failed to update target status", "target", id, "error", err)
	}

	return c.JSON(fiber.Map{
		"reachable": ok,
		"status":    status,
		"detail":    detail,
	})
}

func (h *TargetHandler) applySecrets(c *fiber.Ctx, target *models.Target, req *targetRequest) error {
	if req.AuthType == "key" && req.PrivateKey != "" {
		encrypted, err := h.encryptor.Encrypt(req.PrivateKey)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   true,
				"message": "Failed to encrypt private key",
			})
		}
		target.EncryptedPrivateKey = encrypted
	} else if req.Password != "" {
		encrypted, err := h.encryptor.Encrypt(req.Password)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   true,
				"message": "Failed to encrypt password",
			})
		}
		target.EncryptedPassword = encrypted
	}
	return nil
}

func (h *TargetHandler) decryptSecrets(target *models.Target) (password, privateKey string, err error) {
	if target.EncryptedPassword != "" {
		if password, err = h.encryptor.Decrypt(target.EncryptedPassword); err != nil {
			return "", "", err
		}
	}
	if target.EncryptedPrivateKey != "" {
		if privateKey, err = h.encryptor.Decrypt(target.EncryptedPrivateKey); err != nil {
			return "", "", err
		}
	}
	return password, privateKey, nil
}
