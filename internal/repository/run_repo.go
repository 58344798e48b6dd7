package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/vidtalker/internal/domain"
	"gorm.io/gorm"
)

// ErrRunNotFound is returned when a pipeline run does not exist.
var ErrRunNotFound = errors.New("pipeline run not found")

// RunRepository persists pipeline runs.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run.
func (r *RunRepository) Create(ctx context.Context, run *domain.PipelineRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// Update saves every field of run.
func (r *RunRepository) Update(ctx context.Context, run *domain.PipelineRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

// GetByID retrieves a run by ID.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.PipelineRun, error) {
	var run domain.PipelineRun
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns the most recent runs, newest first.
func (r *RunRepository) List(ctx context.Context, limit, offset int) ([]domain.PipelineRun, error) {
	var runs []domain.PipelineRun
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error
	return runs, err
}

// MarkStale fails runs left in running state by a previous process.
func (r *RunRepository) MarkStale(ctx context.Context) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&domain.PipelineRun{}).
		Where("status IN ?", []domain.RunStatus{domain.RunStatusPending, domain.RunStatusRunning}).
		Updates(map[string]interface{}{
			"status":        domain.RunStatusFailed,
			"error_kind":    string(domain.KindInternal),
			"error_message": "interrupted by restart",
			"completed_at":  &now,
		})
	return res.RowsAffected, res.Error
}
