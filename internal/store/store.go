// Package store provides the job table shared by the HTTP surface and the
// background provisioning workflow.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/celestiaorg/wgvpn/internal/db/models"
)

var (
	// ErrNotFound is returned when no job exists for an operation id
	ErrNotFound = errors.New("job not found")
	// ErrDuplicateID is returned when inserting an operation id that already exists
	ErrDuplicateID = errors.New("duplicate operation id")
	// ErrTerminal is returned when a mutation targets a completed or failed job
	ErrTerminal = models.ErrTerminal
)

// Mutator applies field changes to a job. Returning an error discards the changes.
type Mutator func(job *models.Job) error

// Store is the job table.
//
// Implementations serialize Update calls for the same operation id and
// reject mutations that break the job state machine.
type Store interface {
	// Insert adds a new job. It fails with ErrDuplicateID if the id exists.
	Insert(ctx context.Context, job *models.Job) error
	// Get returns a copy of the job or ErrNotFound.
	Get(ctx context.Context, operationID string) (*models.Job, error)
	// Update applies the mutator atomically and returns the updated copy.
	Update(ctx context.Context, operationID string, mutate Mutator) (*models.Job, error)
	// Cleanup removes terminal jobs last updated before now-maxAge.
	Cleanup(ctx context.Context, maxAge time.Duration, now time.Time) (int, error)
	// ListByStatus returns copies of all jobs in one of the given statuses.
	ListByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.Job, error)
}

// ApplyMutator runs mutate on a copy of current and validates the result.
// Stores call it while holding whatever per-id serialization they provide.
func ApplyMutator(current *models.Job, mutate Mutator) (*models.Job, error) {
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	if err := models.CheckTransition(current, next); err != nil {
		return nil, err
	}
	return next, nil
}

// notFound wraps ErrNotFound with the operation id
func notFound(operationID string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, operationID)
}

// cleanupCutoff returns the time before which terminal jobs are removed
func cleanupCutoff(maxAge time.Duration, now time.Time) time.Time {
	return now.Add(-maxAge)
}

// removable reports whether Cleanup may delete job. A job still holding a VM is kept
// so teardown can be retried from it.
func removable(job *models.Job, cutoff time.Time) bool {
	return job.IsTerminal() && !job.HoldsVM() && job.LastUpdatedAt.Before(cutoff)
}

func statusSet(statuses []models.JobStatus) map[models.JobStatus]bool {
	set := make(map[models.JobStatus]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	return set
}
