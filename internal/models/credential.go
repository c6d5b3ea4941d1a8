package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Credential holds delivery settings for one notification channel. Secrets
// are AES-GCM encrypted at rest.
type Credential struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	ChannelKind string    `gorm:"not null" json:"channel_kind"` // email, slack, discord, webhook

	// Webhook-style channels.
	EncryptedWebhookURL string `gorm:"type:text" json:"-"`

	// Email channel.
	SMTPHost          string `json:"smtp_host"`
	SMTPPort          int    `gorm:"default:587" json:"smtp_port"`
	SMTPUsername      string `json:"smtp_username"`
	EncryptedPassword string `gorm:"" json:"-"`
	FromAddress       string `json:"from_address"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Variable is a user key/value pair exposed to scripts through the
// variables handoff file.
type Variable struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Key       string    `gorm:"not null;uniqueIndex" json:"key"`
	Value     string    `gorm:"type:text" json:"value"` // JSON-encoded
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
