package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/celestiaorg/wgvpn/internal/compute"
	"github.com/celestiaorg/wgvpn/internal/db/models"
	"github.com/celestiaorg/wgvpn/internal/events"
	"github.com/celestiaorg/wgvpn/internal/logger"
	"github.com/celestiaorg/wgvpn/internal/store"
)

// Progress messages set by the orchestrator itself
const (
	ProgressStarting = "Provisioning started"
)

// Teardown reasons
const (
	TeardownExpired      = "expired"
	TeardownCompensation = "compensation"
	TeardownOrphaned     = "orphaned"
)

// ErrShuttingDown is returned by Start once Shutdown has been called
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// StartRequest holds the caller supplied parameters of a new session
type StartRequest struct {
	Location    string
	RequestedBy string
}

// DefaultShutdownTeardownTimeout bounds compensating teardowns once Shutdown cancels the workflows
const DefaultShutdownTeardownTimeout = 5 * time.Second

// OrchestratorOptions configures the Orchestrator
type OrchestratorOptions struct {
	// WorkflowTimeout bounds one provisioning workflow
	WorkflowTimeout time.Duration
	// SessionLifetime is how long a provisioned VM lives before it is torn down
	SessionLifetime time.Duration
	// TeardownTimeout bounds one teardown call; defaults to WorkflowTimeout
	TeardownTimeout time.Duration
	// ShutdownTeardownTimeout bounds the compensating teardown of workflows cancelled by Shutdown.
	// Teardowns cut short leave the job holding its VM for the reconciler to retry.
	ShutdownTeardownTimeout time.Duration
	DefaultLocation string
	Clock           clock.Clock
	Events          *events.Bus
	// NewID generates operation ids; defaults to random UUIDs
	NewID func() string
}

// Orchestrator accepts provisioning requests and drives them to a terminal state in the background
type Orchestrator struct {
	store   store.Store
	backend compute.Backend
	opts    OrchestratorOptions

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	inFlight  map[string]bool
	tearing   map[string]bool
	timers    map[string]clock.Timer
	isStopped bool
}

// NewOrchestrator creates an orchestrator writing to s and provisioning through backend
func NewOrchestrator(s store.Store, backend compute.Backend, opts OrchestratorOptions) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = opts.WorkflowTimeout
	}
	if opts.ShutdownTeardownTimeout <= 0 {
		opts.ShutdownTeardownTimeout = DefaultShutdownTeardownTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:    s,
		backend:  backend,
		opts:     opts,
		baseCtx:  ctx,
		cancel:   cancel,
		inFlight: make(map[string]bool),
		tearing:  make(map[string]bool),
		timers:   make(map[string]clock.Timer),
	}
}

// Start creates a pending job and launches its provisioning workflow without waiting for it.
// The returned job is already visible through Get.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*models.Job, error) {
	o.mu.Lock()
	if o.isStopped {
		o.mu.Unlock()
		return nil, ErrShuttingDown
	}
	o.wg.Add(1)
	o.mu.Unlock()
	launched := false
	defer func() {
		if !launched {
			o.wg.Done()
		}
	}()

	id := o.opts.NewID()
	location := req.Location
	if location == "" {
		location = o.opts.DefaultLocation
	}

	job := models.NewJob(id, o.opts.Clock.Now().UTC())
	job.RequestedBy = req.RequestedBy
	job.Location = location
	if err := o.store.Insert(ctx, job); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			logger.ErrorWithFields("operation id collision", logger.JobFields(id, nil))
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	session := compute.Session{
		OperationID: id,
		VMName:      o.backend.VMName(id),
		Location:    location,
		RequestedBy: req.RequestedBy,
	}

	logger.InfoWithFields("job accepted", logger.JobFields(id, map[string]interface{}{
		"status":       job.Status,
		"requested_by": req.RequestedBy,
		"location":     location,
		"vm_name":      session.VMName,
	}))
	o.opts.Events.Publish(events.Event{
		Type:        events.EventJobStarted,
		OperationID: id,
		Backend:     o.backend.Name(),
		VMName:      session.VMName,
	})

	o.mu.Lock()
	o.inFlight[id] = true
	o.mu.Unlock()
	launched = true
	go o.run(session, job.CreatedAt)

	return job.Clone(), nil
}

// Get returns the current snapshot of a job
func (o *Orchestrator) Get(ctx context.Context, operationID string) (*models.Job, error) {
	return o.store.Get(ctx, operationID)
}

// IsInFlight reports whether this process is still running the workflow of a job
func (o *Orchestrator) IsInFlight(operationID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight[operationID]
}

// run drives one job from pending to a terminal state
func (o *Orchestrator) run(session compute.Session, createdAt time.Time) {
	id := session.OperationID
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.inFlight, id)
		o.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorWithFields("provisioning workflow panicked", logger.JobFields(id, map[string]interface{}{"panic": r}))
			o.fail(session, createdAt, fmt.Errorf("internal error: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(o.baseCtx, o.opts.WorkflowTimeout)
	defer cancel()

	if _, err := o.update(id, func(j *models.Job) error {
		j.VMID = session.VMName
		return j.Start(ProgressStarting, o.now())
	}); err != nil {
		logger.ErrorWithFields("failed to start job", logger.JobFields(id, map[string]interface{}{"error": err.Error()}))
		return
	}
	logger.InfoWithFields("job transition", logger.JobFields(id, map[string]interface{}{
		"status":   models.JobStatusRunning,
		"progress": ProgressStarting,
	}))

	progress := func(msg string) {
		if _, err := o.update(id, func(j *models.Job) error {
			return j.SetProgress(msg, o.now())
		}); err != nil {
			logger.WarnWithFields("failed to record progress", logger.JobFields(id, map[string]interface{}{"error": err.Error()}))
			return
		}
		logger.InfoWithFields("job progress", logger.JobFields(id, map[string]interface{}{
			"status":   models.JobStatusRunning,
			"progress": msg,
		}))
	}

	res, err := o.backend.Provision(ctx, session, progress)
	if err == nil {
		err = checkResult(res)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("provisioning timed out after %s: %w", o.opts.WorkflowTimeout, err)
		}
		o.fail(session, createdAt, err)
		return
	}
	o.complete(session, createdAt, res)
}

func checkResult(res *compute.Result) error {
	if res == nil {
		return errors.New("backend returned no result")
	}
	if res.PublicIP == "" {
		return errors.New("backend returned no public ip")
	}
	return compute.ValidateConf(res.ConfText)
}

func (o *Orchestrator) complete(session compute.Session, createdAt time.Time, res *compute.Result) {
	id := session.OperationID
	now := o.now()
	expires := now.Add(o.opts.SessionLifetime)
	if _, err := o.update(id, func(j *models.Job) error {
		if err := j.Complete(models.JobResult{
			PublicIP: res.PublicIP,
			ConfText: res.ConfText,
			VMID:     res.VMID,
		}, now); err != nil {
			return err
		}
		j.ExpiresAt = &expires
		return nil
	}); err != nil {
		logger.ErrorWithFields("failed to complete job", logger.JobFields(id, map[string]interface{}{"error": err.Error()}))
		o.teardown(id, session.VMName, TeardownCompensation)
		return
	}

	logger.InfoWithFields("job transition", logger.JobFields(id, map[string]interface{}{
		"status":     models.JobStatusCompleted,
		"public_ip":  res.PublicIP,
		"vm_id":      res.VMID,
		"expires_at": expires,
	}))
	o.opts.Events.Publish(events.Event{
		Type:        events.EventJobCompleted,
		OperationID: id,
		Backend:     o.backend.Name(),
		VMName:      session.VMName,
		Duration:    now.Sub(createdAt),
	})
	o.scheduleTeardown(id, session.VMName)
}

// fail records err on the job and removes whatever the backend created
func (o *Orchestrator) fail(session compute.Session, createdAt time.Time, cause error) {
	id := session.OperationID
	now := o.now()
	if _, err := o.update(id, func(j *models.Job) error {
		return j.Fail(cause.Error(), now)
	}); err != nil {
		logger.ErrorWithFields("failed to record job failure", logger.JobFields(id, map[string]interface{}{
			"error": err.Error(),
			"cause": cause.Error(),
		}))
	} else {
		logger.WarnWithFields("job transition", logger.JobFields(id, map[string]interface{}{
			"status": models.JobStatusFailed,
			"error":  cause.Error(),
		}))
		o.opts.Events.Publish(events.Event{
			Type:        events.EventJobFailed,
			OperationID: id,
			Backend:     o.backend.Name(),
			VMName:      session.VMName,
			Error:       cause.Error(),
			Duration:    now.Sub(createdAt),
		})
	}
	o.teardown(id, session.VMName, TeardownCompensation)
}

func (o *Orchestrator) scheduleTeardown(id, vmName string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.isStopped {
		return
	}
	o.timers[id] = o.opts.Clock.AfterFunc(o.opts.SessionLifetime, func() {
		o.mu.Lock()
		delete(o.timers, id)
		o.mu.Unlock()
		o.teardown(id, vmName, TeardownExpired)
	})
}

// Teardown removes the VM of a job now. It is a no-op when the job has no VM or it is already gone.
func (o *Orchestrator) Teardown(ctx context.Context, operationID, reason string) error {
	job, err := o.store.Get(ctx, operationID)
	if err != nil {
		return err
	}
	if job.VMID == "" || job.TornDownAt != nil {
		return nil
	}
	o.mu.Lock()
	if timer, ok := o.timers[operationID]; ok {
		timer.Stop()
		delete(o.timers, operationID)
	}
	o.mu.Unlock()
	return o.teardown(operationID, job.VMID, reason)
}

// teardown deletes vmName, records the outcome, and never lets two teardowns of one job overlap.
// Errors are logged and returned but never change the job status.
func (o *Orchestrator) teardown(id, vmName, reason string) error {
	o.mu.Lock()
	if o.tearing[id] {
		o.mu.Unlock()
		return nil
	}
	o.tearing[id] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.tearing, id)
		o.mu.Unlock()
	}()

	if job, err := o.store.Get(context.Background(), id); err == nil && job.TornDownAt != nil {
		return nil
	}

	timeout := o.opts.TeardownTimeout
	if o.baseCtx.Err() != nil && o.opts.ShutdownTeardownTimeout < timeout {
		timeout = o.opts.ShutdownTeardownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := o.backend.Teardown(ctx, vmName)
	fields := logger.JobFields(id, map[string]interface{}{"vm_id": vmName, "reason": reason})
	if err != nil {
		fields["error"] = err.Error()
		logger.ErrorWithFields("teardown failed", fields)
	} else {
		now := o.now()
		if _, uerr := o.update(id, func(j *models.Job) error {
			j.TornDownAt = &now
			j.LastUpdatedAt = now
			return nil
		}); uerr != nil && !errors.Is(uerr, store.ErrNotFound) {
			logger.WarnWithFields("failed to record teardown", logger.JobFields(id, map[string]interface{}{"error": uerr.Error()}))
		}
		logger.InfoWithFields("session torn down", fields)
	}

	o.opts.Events.Publish(events.Event{
		Type:        events.EventSessionExpired,
		OperationID: id,
		Backend:     o.backend.Name(),
		VMName:      vmName,
		Reason:      reason,
		Success:     err == nil,
	})
	return err
}

// Shutdown stops accepting jobs, cancels pending teardown timers, and waits for in-flight workflows.
// When ctx ends first, the remaining workflows are cancelled so they record a failure before returning.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.isStopped = true
	for id, timer := range o.timers {
		timer.Stop()
		delete(o.timers, id)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		logger.Warn("Timed out waiting for provisioning workflows, cancelling them")
		o.cancel()
		<-done
		return ctx.Err()
	}
}

// Wait blocks until every workflow started so far has finished
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// update writes through the store without the caller's deadline so terminal states are always recorded
func (o *Orchestrator) update(id string, mutate store.Mutator) (*models.Job, error) {
	return o.store.Update(context.Background(), id, mutate)
}

func (o *Orchestrator) now() time.Time {
	return o.opts.Clock.Now().UTC()
}
