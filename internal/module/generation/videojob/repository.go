package videojob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stylemint/server/internal/model"
	"gorm.io/gorm"
)

// ErrJobNotFound is returned when a job id resolves to nothing.
var ErrJobNotFound = errors.New("video job not found")

// Repository persists video job state transitions.
type Repository interface {
	Create(ctx context.Context, job *model.GenerationJob) error
	Get(ctx context.Context, id uuid.UUID) (*model.GenerationJob, error)
	GetForAccount(ctx context.Context, id, accountID uuid.UUID) (*model.GenerationJob, error)
	SetPolling(ctx context.Context, id uuid.UUID, attempt int) error
	SetSucceeded(ctx context.Context, id uuid.UUID, resultURL string) error
	SetFailed(ctx context.Context, id uuid.UUID, message string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new video job repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, job *model.GenerationJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create video job: %w", err)
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*model.GenerationJob, error) {
	var job model.GenerationJob
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get video job: %w", err)
	}
	return &job, nil
}

func (r *repository) GetForAccount(ctx context.Context, id, accountID uuid.UUID) (*model.GenerationJob, error) {
	var job model.GenerationJob
	err := r.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get video job: %w", err)
	}
	return &job, nil
}

func (r *repository) SetPolling(ctx context.Context, id uuid.UUID, attempt int) error {
	now := time.Now()
	return r.update(ctx, id, map[string]any{
		"state":          model.JobStatePolling,
		"attempt_count":  attempt,
		"last_polled_at": &now,
	})
}

func (r *repository) SetSucceeded(ctx context.Context, id uuid.UUID, resultURL string) error {
	return r.update(ctx, id, map[string]any{
		"state":      model.JobStateSucceeded,
		"result_url": resultURL,
	})
}

func (r *repository) SetFailed(ctx context.Context, id uuid.UUID, message string) error {
	return r.update(ctx, id, map[string]any{
		"state":           model.JobStateFailed,
		"failure_message": message,
	})
}

func (r *repository) update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	fields["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).
		Model(&model.GenerationJob{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update video job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}
