package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cronflow/cronflow/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the postgres-backed Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	err := s.db.WithContext(ctx).
		Preload("Targets").
		Preload("Actions").
		First(&event, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return &event, nil
}

func (s *GormStore) UpdateEvent(ctx context.Context, event *models.Event) error {
	if err := s.db.WithContext(ctx).Save(event).Error; err != nil {
		return fmt.Errorf("update event %s: %w", event.ID, err)
	}
	return nil
}

func (s *GormStore) UpdateEventFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", id).
		Updates(fields).Error
	if err != nil {
		return fmt.Errorf("update event %s fields: %w", id, err)
	}
	return nil
}

func (s *GormStore) ListActiveEvents(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := s.db.WithContext(ctx).
		Preload("Targets").
		Where("status = ? AND trigger_type = ?", models.StatusActive, models.TriggerScheduled).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list active events: %w", err)
	}
	return events, nil
}

func (s *GormStore) CreateLog(ctx context.Context, log *models.ExecutionLog) error {
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("create execution log: %w", err)
	}
	return nil
}

func (s *GormStore) UpdateLog(ctx context.Context, log *models.ExecutionLog) error {
	if err := s.db.WithContext(ctx).Save(log).Error; err != nil {
		return fmt.Errorf("update execution log %s: %w", log.ID, err)
	}
	return nil
}

func (s *GormStore) GetVariables(ctx context.Context) (map[string]string, error) {
	var rows []models.Variable
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list variables: %w", err)
	}
	vars := make(map[string]string, len(rows))
	for _, v := range rows {
		vars[v.Key] = v.Value
	}
	return vars, nil
}

func (s *GormStore) SetVariable(ctx context.Context, key, value string) error {
	row := models.Variable{Key: key, Value: value}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("set variable %s: %w", key, err)
	}
	return nil
}

func (s *GormStore) DeleteVariable(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).
		Where("key = ?", key).
		Delete(&models.Variable{}).Error
	if err != nil {
		return fmt.Errorf("delete variable %s: %w", key, err)
	}
	return nil
}

func (s *GormStore) GetCredential(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
	var cred models.Credential
	err := s.db.WithContext(ctx).First(&cred, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", id, err)
	}
	return &cred, nil
}
