package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/celestiaorg/wgvpn/internal/db/models"
	"github.com/celestiaorg/wgvpn/internal/events"
	"github.com/celestiaorg/wgvpn/internal/logger"
	"github.com/celestiaorg/wgvpn/internal/metrics"
	"github.com/celestiaorg/wgvpn/internal/store"
)

// Reconciliation actions, used as metric labels
const (
	ActionOrphaned = "orphaned"
	ActionExpired  = "expired"
	ActionRetried  = "retried_teardown"
	ActionCleaned  = "cleaned"
)

// ReconcilerOptions configures the Reconciler
type ReconcilerOptions struct {
	Interval     time.Duration
	OrphanMaxAge time.Duration
	Retention    time.Duration
	Clock        clock.Clock
}

// Report summarises one reconciliation pass
type Report struct {
	Orphaned int
	Expired  int
	Retried  int
	Cleaned  int
}

// Reconciler repairs state the in-process workflows could not: jobs stranded by a restart,
// sessions whose teardown timer was lost, and old terminal jobs
type Reconciler struct {
	store        store.Store
	orchestrator *Orchestrator
	opts         ReconcilerOptions
}

// NewReconciler creates a reconciler over s, tearing down through orchestrator
func NewReconciler(s store.Store, orchestrator *Orchestrator, opts ReconcilerOptions) *Reconciler {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	return &Reconciler{store: s, orchestrator: orchestrator, opts: opts}
}

// LaunchReconciler runs reconciliation passes every interval until ctx is done
func LaunchReconciler(ctx context.Context, wg *sync.WaitGroup, r *Reconciler) {
	defer wg.Done()
	logger.Info("Reconciler started")

	for {
		report, err := r.RunOnce(ctx)
		if err != nil {
			logger.Errorf("Reconciler pass failed: %v", err)
		} else if report != (Report{}) {
			logger.Infof("Reconciler pass: %d orphaned, %d expired, %d teardowns retried, %d cleaned",
				report.Orphaned, report.Expired, report.Retried, report.Cleaned)
		}

		select {
		case <-ctx.Done():
			logger.Info("Reconciler received shutdown signal, stopping...")
			return
		case <-r.opts.Clock.After(r.opts.Interval):
		}
	}
}

// RunOnce performs a single reconciliation pass
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	var errs []error
	now := r.opts.Clock.Now().UTC()

	n, err := r.failOrphans(ctx, now)
	report.Orphaned = n
	errs = append(errs, err)

	n, err = r.expireSessions(ctx, now)
	report.Expired = n
	errs = append(errs, err)

	n, err = r.retryCompensation(ctx)
	report.Retried = n
	errs = append(errs, err)

	n, err = r.store.Cleanup(ctx, r.opts.Retention, now)
	report.Cleaned = n
	if err != nil {
		errs = append(errs, fmt.Errorf("cleanup: %w", err))
	}

	metrics.AddReconciled(ActionOrphaned, report.Orphaned)
	metrics.AddReconciled(ActionExpired, report.Expired)
	metrics.AddReconciled(ActionRetried, report.Retried)
	metrics.AddReconciled(ActionCleaned, report.Cleaned)
	return report, errors.Join(errs...)
}

// failOrphans fails pending and running jobs no workflow in this process is driving
func (r *Reconciler) failOrphans(ctx context.Context, now time.Time) (int, error) {
	jobs, err := r.store.ListByStatus(ctx, models.JobStatusPending, models.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list active jobs: %w", err)
	}

	count := 0
	reason := fmt.Sprintf("orphaned: no progress within %s", r.opts.OrphanMaxAge)
	for _, job := range jobs {
		if now.Sub(job.CreatedAt) < r.opts.OrphanMaxAge || r.orchestrator.IsInFlight(job.OperationID) {
			continue
		}
		_, err := r.store.Update(ctx, job.OperationID, func(j *models.Job) error {
			return j.Fail(reason, now)
		})
		if errors.Is(err, store.ErrTerminal) || errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			logger.ErrorWithFields("failed to mark orphaned job", logger.JobFields(job.OperationID, map[string]interface{}{"error": err.Error()}))
			continue
		}
		count++
		logger.WarnWithFields("job transition", logger.JobFields(job.OperationID, map[string]interface{}{
			"status": models.JobStatusFailed,
			"error":  reason,
		}))
		r.orchestrator.opts.Events.Publish(events.Event{
			Type:        events.EventJobFailed,
			OperationID: job.OperationID,
			Backend:     r.orchestrator.backend.Name(),
			VMName:      job.VMID,
			Error:       reason,
			Duration:    now.Sub(job.CreatedAt),
		})
		_ = r.orchestrator.Teardown(ctx, job.OperationID, TeardownOrphaned)
	}
	return count, nil
}

// expireSessions tears down completed sessions whose lifetime is over
func (r *Reconciler) expireSessions(ctx context.Context, now time.Time) (int, error) {
	jobs, err := r.store.ListByStatus(ctx, models.JobStatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("list completed jobs: %w", err)
	}

	count := 0
	for _, job := range jobs {
		if job.TornDownAt != nil || job.ExpiresAt == nil || now.Before(*job.ExpiresAt) {
			continue
		}
		if err := r.orchestrator.Teardown(ctx, job.OperationID, TeardownExpired); err == nil {
			count++
		}
	}
	return count, nil
}

// retryCompensation repeats teardowns that failed when a job failed
func (r *Reconciler) retryCompensation(ctx context.Context) (int, error) {
	jobs, err := r.store.ListByStatus(ctx, models.JobStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("list failed jobs: %w", err)
	}

	count := 0
	for _, job := range jobs {
		if job.VMID == "" || job.TornDownAt != nil || r.orchestrator.IsInFlight(job.OperationID) {
			continue
		}
		if err := r.orchestrator.Teardown(ctx, job.OperationID, TeardownCompensation); err == nil {
			count++
		}
	}
	return count, nil
}
