// Package storetest holds the behavioural checks every store.Store must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/wgvpn/internal/db/models"
	"github.com/celestiaorg/wgvpn/internal/store"
)

// Factory returns a fresh, empty store for one subtest
type Factory func(t *testing.T) store.Store

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// Run executes the store conformance checks
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertThenGet", func(t *testing.T) { testInsertThenGet(t, newStore(t)) })
	t.Run("DuplicateInsert", func(t *testing.T) { testDuplicateInsert(t, newStore(t)) })
	t.Run("GetUnknown", func(t *testing.T) { testGetUnknown(t, newStore(t)) })
	t.Run("UpdateLifecycle", func(t *testing.T) { testUpdateLifecycle(t, newStore(t)) })
	t.Run("TerminalIsFinal", func(t *testing.T) { testTerminalIsFinal(t, newStore(t)) })
	t.Run("MutatorErrorDiscards", func(t *testing.T) { testMutatorErrorDiscards(t, newStore(t)) })
	t.Run("ConcurrentUpdates", func(t *testing.T) { testConcurrentUpdates(t, newStore(t)) })
	t.Run("Cleanup", func(t *testing.T) { testCleanup(t, newStore(t)) })
	t.Run("ListByStatus", func(t *testing.T) { testListByStatus(t, newStore(t)) })
}

func testInsertThenGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := models.NewJob("op-visible", base)
	job.RequestedBy = "user@example.com"
	require.NoError(t, s.Insert(ctx, job))

	got, err := s.Get(ctx, "op-visible")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, models.ProgressAccepted, got.Progress)
	assert.Equal(t, "user@example.com", got.RequestedBy)
	assert.True(t, base.Equal(got.CreatedAt))
	assert.Nil(t, got.Result)
	assert.Empty(t, got.Error)

	got.Progress = "mutated outside the store"
	again, err := s.Get(ctx, "op-visible")
	require.NoError(t, err)
	assert.Equal(t, models.ProgressAccepted, again.Progress)
}

func testDuplicateInsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, models.NewJob("op-dup", base)))
	err := s.Insert(ctx, models.NewJob("op-dup", base.Add(time.Second)))
	require.ErrorIs(t, err, store.ErrDuplicateID)

	got, err := s.Get(ctx, "op-dup")
	require.NoError(t, err)
	assert.True(t, base.Equal(got.CreatedAt), "original record must survive a duplicate insert")
}

func testGetUnknown(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), "never-issued")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Update(context.Background(), "never-issued", func(j *models.Job) error { return nil })
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testUpdateLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, models.NewJob("op-life", base)))

	job, err := s.Update(ctx, "op-life", func(j *models.Job) error {
		return j.Start("Creating VM", base.Add(time.Second))
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)

	job, err = s.Update(ctx, "op-life", func(j *models.Job) error {
		return j.Complete(models.JobResult{PublicIP: "203.0.113.7", ConfText: "[Interface]", VMID: "wg-vm"}, base.Add(2*time.Second))
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)

	got, err := s.Get(ctx, "op-life")
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, "203.0.113.7", got.Result.PublicIP)
	assert.Equal(t, "wg-vm", got.VMID)
	assert.True(t, base.Add(2*time.Second).Equal(got.LastUpdatedAt))
	assert.True(t, base.Equal(got.CreatedAt))
}

func testTerminalIsFinal(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, models.NewJob("op-final", base)))
	_, err := s.Update(ctx, "op-final", func(j *models.Job) error { return j.Fail("quota exceeded", base) })
	require.NoError(t, err)

	_, err = s.Update(ctx, "op-final", func(j *models.Job) error {
		j.Status = models.JobStatusCompleted
		j.Error = ""
		j.Result = &models.JobResult{VMID: "x"}
		return nil
	})
	require.ErrorIs(t, err, store.ErrTerminal)

	_, err = s.Update(ctx, "op-final", func(j *models.Job) error {
		return j.Complete(models.JobResult{VMID: "x"}, base)
	})
	require.ErrorIs(t, err, store.ErrTerminal)

	got, err := s.Get(ctx, "op-final")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "quota exceeded", got.Error)
	assert.Nil(t, got.Result)
}

func testMutatorErrorDiscards(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, models.NewJob("op-discard", base)))

	_, err := s.Update(ctx, "op-discard", func(j *models.Job) error {
		j.Progress = "half applied"
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	got, err := s.Get(ctx, "op-discard")
	require.NoError(t, err)
	assert.Equal(t, models.ProgressAccepted, got.Progress)
}

func testConcurrentUpdates(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, models.NewJob("op-concurrent", base)))
	_, err := s.Update(ctx, "op-concurrent", func(j *models.Job) error { return j.Start("0", base) })
	require.NoError(t, err)

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "op-concurrent", func(j *models.Job) error {
				var n int
				_, _ = fmt.Sscanf(j.Progress, "%d", &n)
				return j.SetProgress(fmt.Sprintf("%d", n+1), base)
			})
			errs <- err
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Get(ctx, "op-concurrent")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.Get(ctx, "op-concurrent")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d", writers), got.Progress, "no update may be lost")
}

func testCleanup(t *testing.T, s store.Store) {
	ctx := context.Background()
	old := base.Add(-48 * time.Hour)

	require.NoError(t, s.Insert(ctx, models.NewJob("old-completed", old)))
	_, err := s.Update(ctx, "old-completed", func(j *models.Job) error { return j.Start("x", old) })
	require.NoError(t, err)
	_, err = s.Update(ctx, "old-completed", func(j *models.Job) error {
		if err := j.Complete(models.JobResult{VMID: "a"}, old); err != nil {
			return err
		}
		j.TornDownAt = &old
		return nil
	})
	require.NoError(t, err)

	// completed long ago but its VM was never torn down
	require.NoError(t, s.Insert(ctx, models.NewJob("old-holding-vm", old)))
	_, err = s.Update(ctx, "old-holding-vm", func(j *models.Job) error { return j.Start("x", old) })
	require.NoError(t, err)
	_, err = s.Update(ctx, "old-holding-vm", func(j *models.Job) error {
		return j.Complete(models.JobResult{VMID: "b"}, old)
	})
	require.NoError(t, err)

	require.NoError(t, s.Insert(ctx, models.NewJob("old-failed-holding-vm", old)))
	_, err = s.Update(ctx, "old-failed-holding-vm", func(j *models.Job) error {
		j.VMID = "c"
		return j.Fail("x", old)
	})
	require.NoError(t, err)

	require.NoError(t, s.Insert(ctx, models.NewJob("old-failed", old)))
	_, err = s.Update(ctx, "old-failed", func(j *models.Job) error { return j.Fail("x", old) })
	require.NoError(t, err)

	require.NoError(t, s.Insert(ctx, models.NewJob("old-running", old)))
	_, err = s.Update(ctx, "old-running", func(j *models.Job) error { return j.Start("x", old) })
	require.NoError(t, err)

	require.NoError(t, s.Insert(ctx, models.NewJob("old-pending", old)))

	require.NoError(t, s.Insert(ctx, models.NewJob("recent-failed", base)))
	_, err = s.Update(ctx, "recent-failed", func(j *models.Job) error { return j.Fail("x", base) })
	require.NoError(t, err)

	removed, err := s.Cleanup(ctx, 24*time.Hour, base)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	for _, id := range []string{"old-completed", "old-failed"} {
		_, err := s.Get(ctx, id)
		assert.ErrorIs(t, err, store.ErrNotFound, id)
	}
	for _, id := range []string{"old-running", "old-pending", "recent-failed", "old-holding-vm", "old-failed-holding-vm"} {
		_, err := s.Get(ctx, id)
		assert.NoError(t, err, id)
	}
}

func testListByStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, models.NewJob("b-running", base.Add(time.Minute))))
	_, err := s.Update(ctx, "b-running", func(j *models.Job) error { return j.Start("x", base) })
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, models.NewJob("a-pending", base)))
	require.NoError(t, s.Insert(ctx, models.NewJob("c-failed", base)))
	_, err = s.Update(ctx, "c-failed", func(j *models.Job) error { return j.Fail("x", base) })
	require.NoError(t, err)

	jobs, err := s.ListByStatus(ctx, models.JobStatusPending, models.JobStatusRunning)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "a-pending", jobs[0].OperationID)
	assert.Equal(t, "b-running", jobs[1].OperationID)

	jobs, err = s.ListByStatus(ctx, models.JobStatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
