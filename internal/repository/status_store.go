package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no status exists for a request.
var ErrNotFound = errors.New("dispatch status not found")

// DispatchStatus is one row per dispatch request.
type DispatchStatus struct {
	RequestID    string `gorm:"primaryKey"`
	Status       string
	Provider     string
	Total        int
	SuccessCount int
	FailureCount int
	Detail       string
	UpdatedAt    time.Time
}

type StatusStore struct {
	db        *gorm.DB
	tableName string
}

// NewStatusStore migrates the status table and returns a store over it.
func NewStatusStore(db *gorm.DB, tableName string) (*StatusStore, error) {
	if tableName == "" {
		tableName = "dispatch_statuses"
	}

	if err := db.Table(tableName).AutoMigrate(&DispatchStatus{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", tableName, err)
	}

	return &StatusStore{
		db:        db,
		tableName: tableName,
	}, nil
}

// UpdateStatus upserts the row for status.RequestID.
func (s *StatusStore) UpdateStatus(ctx context.Context, status DispatchStatus) error {
	status.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Table(s.tableName).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "request_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "provider", "total", "success_count", "failure_count", "detail", "updated_at",
			}),
		}).Create(&status).Error
}

// GetStatus returns the latest status for requestID.
func (s *StatusStore) GetStatus(ctx context.Context, requestID string) (*DispatchStatus, error) {
	var status DispatchStatus
	err := s.db.WithContext(ctx).Table(s.tableName).
		Where("request_id = ?", requestID).
		Take(&status).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}
