package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Execution record statuses.
const (
	ExecRunning = "running"
	ExecSuccess = "success"
	ExecFailure = "failure"
	ExecTimeout = "timeout"
	ExecPartial = "partial"
	ExecPaused  = "paused" // notice row written when an event auto-pauses
)

// How an execution was triggered.
const (
	SourceScheduled = "scheduled"
	SourceManual    = "manual"
	SourceChained   = "chained"
)

// ExecutionLog is one durable row per dispatch attempt. It is created with
// status running and updated exactly once when a terminal status is known.
type ExecutionLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	EventID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"event_id"`
	Status     string         `gorm:"not null;default:'running'" json:"status"`
	Source     string         `gorm:"default:'scheduled'" json:"source"`
	StartedAt  time.Time      `gorm:"not null" json:"started_at"`
	EndedAt    *time.Time     `json:"ended_at"`
	DurationMs int64          `json:"duration_ms"`
	Stdout     string         `gorm:"type:text" json:"stdout"`
	Error      string         `gorm:"type:text" json:"error"`
	Output     datatypes.JSON `json:"output"`
	Success    bool           `gorm:"default:false" json:"success"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
