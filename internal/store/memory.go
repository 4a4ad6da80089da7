package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/celestiaorg/wgvpn/internal/db/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps jobs in a map guarded by a single mutex
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.Job),
	}
}

// Insert adds a job
func (s *MemoryStore) Insert(_ context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.OperationID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, job.OperationID)
	}
	s.jobs[job.OperationID] = job.Clone()
	return nil
}

// MustInsert adds a job and panics on a duplicate operation id
func (s *MemoryStore) MustInsert(ctx context.Context, job *models.Job) {
	if err := s.Insert(ctx, job); err != nil {
		panic(err)
	}
}

// Get returns a copy of the job
func (s *MemoryStore) Get(_ context.Context, operationID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[operationID]
	if !ok {
		return nil, notFound(operationID)
	}
	return job.Clone(), nil
}

// Update applies mutate under the table lock
func (s *MemoryStore) Update(_ context.Context, operationID string, mutate Mutator) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[operationID]
	if !ok {
		return nil, notFound(operationID)
	}
	next, err := ApplyMutator(current, mutate)
	if err != nil {
		return nil, err
	}
	s.jobs[operationID] = next
	return next.Clone(), nil
}

// Cleanup removes terminal jobs older than maxAge whose machine is gone
func (s *MemoryStore) Cleanup(_ context.Context, maxAge time.Duration, now time.Time) (int, error) {
	cutoff := cleanupCutoff(maxAge, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if removable(job, cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// ListByStatus returns jobs in any of the statuses, oldest first
func (s *MemoryStore) ListByStatus(_ context.Context, statuses ...models.JobStatus) ([]*models.Job, error) {
	want := statusSet(statuses)

	s.mu.Lock()
	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if want[job.Status] {
			jobs = append(jobs, job.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// Len returns the number of stored jobs
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
