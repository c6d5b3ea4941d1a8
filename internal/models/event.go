package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Script types an event can carry.
const (
	ScriptShell  = "shell"
	ScriptPython = "python"
	ScriptNode   = "node"
	ScriptHTTP   = "http"
)

// Trigger types.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// Schedule units for interval-based schedules.
const (
	UnitSeconds = "seconds"
	UnitMinutes = "minutes"
	UnitHours   = "hours"
	UnitDays    = "days"
)

// Run locations.
const (
	RunLocal  = "local"
	RunRemote = "remote"
)

// Event lifecycle statuses.
const (
	StatusDraft  = "draft"
	StatusActive = "active"
	StatusPaused = "paused"
)

// Event is a user-defined schedulable unit of script or HTTP work.
type Event struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`

	ScriptType string `gorm:"not null;default:'shell'" json:"script_type"` // shell, python, node, http
	Content    string `gorm:"type:text" json:"content"`

	// HTTP request definition, used when ScriptType is http.
	HTTPMethod      string         `gorm:"default:'GET'" json:"http_method"`
	HTTPURL         string         `json:"http_url"`
	HTTPHeaders     datatypes.JSON `json:"http_headers"`
	HTTPBody        string         `gorm:"type:text" json:"http_body"`
	HTTPContentType string         `gorm:"default:'json'" json:"http_content_type"` // json, form, multipart

	TriggerType string `gorm:"not null;default:'manual'" json:"trigger_type"` // manual, scheduled

	// Schedule: either interval number+unit, or a raw cron expression.
	// The cron expression wins when present.
	ScheduleNumber int        `gorm:"default:0" json:"schedule_number"`
	ScheduleUnit   string     `gorm:"default:''" json:"schedule_unit"`
	CronExpression string     `gorm:"default:''" json:"cron_expression"`
	StartAt        *time.Time `json:"start_at"`
	NextRunAt      *time.Time `json:"next_run_at"`

	TimeoutValue int    `gorm:"default:30" json:"timeout_value"`
	TimeoutUnit  string `gorm:"default:'seconds'" json:"timeout_unit"` // seconds, minutes
	RetryCount   int    `gorm:"default:0" json:"retry_count"`

	RunLocation string   `gorm:"not null;default:'local'" json:"run_location"` // local, remote
	Targets     []Target `gorm:"many2many:event_targets" json:"targets"`

	// Input parameters and environment handed to the script.
	Input   datatypes.JSON `json:"input"`
	EnvVars datatypes.JSON `json:"env_vars"`

	MaxExecutions  int `gorm:"default:0" json:"max_executions"` // 0 = unlimited
	ExecutionCount int `gorm:"default:0" json:"execution_count"`
	MaxFailures    int `gorm:"default:0" json:"max_failures"` // 0 = unlimited
	FailureCount   int `gorm:"default:0" json:"failure_count"`

	Status string `gorm:"not null;default:'draft'" json:"status"` // draft, active, paused

	Actions []ConditionalAction `gorm:"foreignKey:EventID" json:"actions"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Timeout returns the event's timeout as a duration. Zero or negative
// values fall back to 30 seconds.
func (e *Event) Timeout() time.Duration {
	v := e.TimeoutValue
	if v <= 0 {
		v = 30
	}
	if e.TimeoutUnit == UnitMinutes {
		return time.Duration(v) * time.Minute
	}
	return time.Duration(v) * time.Second
}

// IsActive reports whether the event should hold a live timer.
func (e *Event) IsActive() bool {
	return e.Status == StatusActive && e.TriggerType == TriggerScheduled
}
