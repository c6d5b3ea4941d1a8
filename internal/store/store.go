package store

import (
	"context"
	"errors"

	"github.com/cronflow/cronflow/internal/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence contract the execution core depends on. The gorm
// implementation below is the production one; tests substitute mocks.
type Store interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	UpdateEvent(ctx context.Context, event *models.Event) error
	UpdateEventFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
	ListActiveEvents(ctx context.Context) ([]models.Event, error)

	CreateLog(ctx context.Context, log *models.ExecutionLog) error
	UpdateLog(ctx context.Context, log *models.ExecutionLog) error

	GetVariables(ctx context.Context) (map[string]string, error)
	SetVariable(ctx context.Context, key, value string) error
	DeleteVariable(ctx context.Context, key string) error

	GetCredential(ctx context.Context, id uuid.UUID) (*models.Credential, error)
}
