package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cronflow/cronflow/internal/crypto"
	"github.com/cronflow/cronflow/internal/models"
)

type CredentialHandler struct {
	db        *gorm.DB
	encryptor *crypto.Encryptor
}

func NewCredentialHandler(db *gorm.DB, encryptor *crypto.Encryptor) *CredentialHandler {
	return &CredentialHandler{db: db, encryptor: encryptor}
}

type credentialRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	ChannelKind string `json:"channel_kind" validate:"required,oneof=email slack discord webhook"`

	WebhookURL string `json:"webhook_url" validate:"omitempty,url"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port" validate:"min=0,max=65535"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"smtp_password"`
	FromAddress  string `json:"from_address" validate:"omitempty,email"`
}

func (h *CredentialHandler) ListCredentials(c *fiber.Ctx) error {
	var creds []models.Credential
	if err := h.db.Order("created_at DESC").Find(&creds).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list credentials",
		})
	}
	return c.JSON(fiber.Map{"credentials": creds})
}

func (h *CredentialHandler) CreateCredential(c *fiber.Ctx) error {
	var req credentialRequest
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

	cred := models.Credential{
		Name:         req.Name,
		ChannelKind:  req.ChannelKind,
		SMTPHost:     req.SMTPHost,
		SMTPUsername: req.SMTPUsername,
		FromAddress:  req.FromAddress,
	}
	if req.SMTPPort != 0 {
		cred.SMTPPort = req.SMTPPort
	}
	if err := h.applySecrets(c, &cred, &req); err != nil {
		return err
	}

	if err := h.db.Create(&cred).Error; err != nil {
		slog.Error("Failed to create credential", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to create credential",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(cred)
}

func (h *CredentialHandler) UpdateCredential(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badID(c)
	}

	var cred models.Credential
	if err := h.db.First(&cred, "id = ?", id).Error; err != nil {
		return notFound(c, "Credential not found")
	}

	var req credentialRequest
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

	cred.Name = req.Name
	cred.ChannelKind = req.ChannelKind
	cred.SMTPHost = req.SMTPHost
	cred.SMTPUsername = req.SMTPUsername
	cred.FromAddress = req.FromAddress
	if req.SMTPPort != 0 {
		cred.SMTPPort = req.SMTPPort
	}
	// Blank secrets keep the stored ones.
	if err := h.applySecrets(c, &cred, &req); err != nil {
		return err
	}

	if err := h.db.Save(&cred).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to update credential",
		})
	}
	return c.JSON(cred)
}

func (h *CredentialHandler) DeleteCredential(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badID(c)
	}

	// Actions referencing the credential keep their row; resolution fails
	// at dispatch time and is logged there.
	if err := h.db.Delete(&models.Credential{}, "id = ?", id).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to delete credential",
		})
	}
	return c.JSON(fiber.Map{"message": "Credential deleted"})
}

func (h *CredentialHandler) applySecrets(c *fiber.Ctx, cred *models.Credential, req *credentialRequest) error {
	if req.WebhookURL != "" {
		encrypted, err := h.encryptor.Encrypt(req.WebhookURL)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   true,
				"message": "Failed to encrypt webhook URL",
			})
		}
		cred.EncryptedWebhookURL = encrypted
	}
	if req.SMTPPassword != "" {
		encrypted, err := h.encryptor.Encrypt(req.SMTPPassword)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   true,
				"message": "Failed to encrypt SMTP password",
			})
		}
		cred.EncryptedPassword = encrypted
	}
	return nil
}
