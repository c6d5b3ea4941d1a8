package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Trigger classes for conditional actions.
const (
	TriggerOnSuccess   = "on_success"
	TriggerOnFailure   = "on_failure"
	TriggerAlways      = "always"
	TriggerOnCondition = "on_condition"
)

// Action effects.
const (
	EffectSendMessage = "send_message"
	EffectRunEvent    = "run_event"
)

// Notification channel kinds.
const (
	ChannelEmail   = "email"
	ChannelSlack   = "slack"
	ChannelDiscord = "discord"
	ChannelWebhook = "webhook"
)

// ConditionalAction is a follow-up effect attached to an event, gated by a
// trigger class. The core only evaluates and executes these; they are
// authored through the API.
type ConditionalAction struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	EventID      uuid.UUID `gorm:"type:uuid;not null;index" json:"event_id"`
	TriggerClass string    `gorm:"not null" json:"trigger_class"` // on_success, on_failure, always, on_condition
	Effect       string    `gorm:"not null" json:"effect"`        // send_message, run_event

	// send_message fields.
	ChannelKind  string     `gorm:"default:''" json:"channel_kind"` // email, slack, discord, webhook
	Recipients   string     `gorm:"type:text" json:"recipients"`    // comma-separated for email
	Subject      string     `json:"subject"`
	Message      string     `gorm:"type:text" json:"message"`
	CredentialID *uuid.UUID `gorm:"type:uuid" json:"credential_id"`

	// run_event field. Must never equal EventID; self-reference is rejected
	// at configuration time.
	TargetEventID *uuid.UUID `gorm:"type:uuid" json:"target_event_id"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
