package repos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/celestiaorg/wgvpn/internal/db"
	"github.com/celestiaorg/wgvpn/internal/db/models"
	"github.com/celestiaorg/wgvpn/internal/store"
)

var _ store.Store = (*JobRepository)(nil)

// JobRepository is the gorm-backed job store.
// Updates lock the row on postgres and are serialized per process.
type JobRepository struct {
	db *gorm.DB
	mu sync.Mutex
}

// NewJobRepository creates a new job repository instance
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Insert creates a new job
func (r *JobRepository) Insert(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where(models.JobOperationIDField+" = ?", job.OperationID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check job: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", store.ErrDuplicateID, job.OperationID)
	}

	if err := r.db.WithContext(ctx).Create(job.Clone()).Error; err != nil {
		if db.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", store.ErrDuplicateID, job.OperationID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// Get retrieves a job by its operation id
func (r *JobRepository) Get(ctx context.Context, operationID string) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).
		Where(models.JobOperationIDField+" = ?", operationID).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, operationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// Update applies mutate inside a transaction
func (r *JobRepository) Update(ctx context.Context, operationID string, mutate store.Mutator) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var updated *models.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var current models.Job
		err := q.Where(models.JobOperationIDField+" = ?", operationID).First(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", store.ErrNotFound, operationID)
		}
		if err != nil {
			return fmt.Errorf("failed to load job: %w", err)
		}

		next, err := store.ApplyMutator(&current, mutate)
		if err != nil {
			return err
		}
		if err := tx.Save(next).Error; err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Cleanup deletes terminal jobs last updated before now-maxAge.
// Jobs whose VM has not been torn down are kept.
func (r *JobRepository) Cleanup(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.db.WithContext(ctx).
		Where(models.JobStatusField+" IN ? AND "+models.JobLastUpdatedAtField+" < ?",
			[]models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed}, now.Add(-maxAge)).
		Where(r.db.Where(models.JobVMIDField+" = ?", "").Or(models.JobTornDownAtField+" IS NOT NULL")).
		Delete(&models.Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clean up jobs: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// ListByStatus returns jobs in any of the statuses, oldest first
func (r *JobRepository) ListByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.Job, error) {
	var jobs []*models.Job
	err := r.db.WithContext(ctx).
		Where(models.JobStatusField+" IN ?", statuses).
		Order(models.JobCreatedAtField + " asc").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}
