package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Field names for the job model
const (
	// JobOperationIDField is the database field name for the operation identifier
	JobOperationIDField = "operation_id"
	// JobStatusField is the database field name for the job status
	JobStatusField = "status"
	// JobCreatedAtField is the database field name for the job creation timestamp
	JobCreatedAtField = "created_at"
	// JobLastUpdatedAtField is the database field name for the last mutation timestamp
	JobLastUpdatedAtField = "last_updated_at"
	// JobExpiresAtField is the database field name for the session expiry timestamp
	JobExpiresAtField = "expires_at"
	// JobVMIDField is the database field name for the machine name
	JobVMIDField = "vm_id"
	// JobTornDownAtField is the database field name for the teardown timestamp
	JobTornDownAtField = "torn_down_at"
)

// Progress strings shared by the orchestrator and the stores
const (
	ProgressAccepted  = "accepted"
	ProgressCompleted = "Completed successfully"
	ProgressFailed    = "Failed"
)

// JobStatus represents the current state of a provisioning job
type JobStatus string

// Job status constants
const (
	// JobStatusUnknown represents an unknown or invalid job status
	JobStatusUnknown JobStatus = "unknown"
	// JobStatusPending indicates the job was accepted but the workflow has not started
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the provisioning workflow is in progress
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the VPN server is ready and the result is set
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the workflow failed and the error is set
	JobStatusFailed JobStatus = "failed"
)

var (
	// ErrTerminal is returned when a mutation would change a completed or failed job
	ErrTerminal = errors.New("job is in a terminal state")
	// ErrInvalidTransition is returned for a status change the state machine does not allow
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// String returns the string representation of the job status
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status can never change again
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ParseJobStatus converts a string to a JobStatus type
func ParseJobStatus(str string) (JobStatus, error) {
	switch str {
	case string(JobStatusPending):
		return JobStatusPending, nil
	case string(JobStatusRunning):
		return JobStatusRunning, nil
	case string(JobStatusCompleted):
		return JobStatusCompleted, nil
	case string(JobStatusFailed):
		return JobStatusFailed, nil
	default:
		return JobStatusUnknown, fmt.Errorf("invalid job status: %s", str)
	}
}

// UnmarshalJSON implements json.Unmarshaler for JobStatus
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status, err := ParseJobStatus(str)
	if err != nil {
		return err
	}

	*s = status
	return nil
}

// JobResult is the payload of a completed job
type JobResult struct {
	PublicIP string `json:"publicIp"`
	ConfText string `json:"confText"`
	VMID     string `json:"vmId"`
}

// Job is the tracked record of one provisioning request
type Job struct {
	OperationID   string     `json:"operationId" gorm:"primaryKey;size:64"`
	Status        JobStatus  `json:"status" gorm:"not null;index"`
	Progress      string     `json:"progress" gorm:"type:text"`
	Result        *JobResult `json:"result,omitempty" gorm:"serializer:json;type:jsonb"`
	Error         string     `json:"error,omitempty" gorm:"type:text"`
	RequestedBy   string     `json:"requestedBy,omitempty" gorm:"index"`
	Location      string     `json:"location,omitempty"`
	VMID          string     `json:"vmId,omitempty" gorm:"column:vm_id"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty" gorm:"index"`
	TornDownAt    *time.Time `json:"tornDownAt,omitempty" gorm:"column:torn_down_at"`
	CreatedAt     time.Time  `json:"createdAt" gorm:"not null;index"`
	LastUpdatedAt time.Time  `json:"lastUpdatedAt" gorm:"not null"`
}

// NewJob returns a pending job created at now
func NewJob(operationID string, now time.Time) *Job {
	return &Job{
		OperationID:   operationID,
		Status:        JobStatusPending,
		Progress:      ProgressAccepted,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
}

// IsTerminal reports whether the job reached completed or failed
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Clone returns a deep copy so callers never share mutable state with a store
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	if j.ExpiresAt != nil {
		t := *j.ExpiresAt
		c.ExpiresAt = &t
	}
	if j.TornDownAt != nil {
		t := *j.TornDownAt
		c.TornDownAt = &t
	}
	return &c
}

// Validate checks the result/error exclusivity for the current status
func (j *Job) Validate() error {
	if j.OperationID == "" {
		return fmt.Errorf("operation id cannot be empty")
	}
	switch j.Status {
	case JobStatusPending, JobStatusRunning:
		if j.Result != nil || j.Error != "" {
			return fmt.Errorf("non-terminal job %s must not carry a result or error", j.OperationID)
		}
	case JobStatusCompleted:
		if j.Result == nil || j.Error != "" {
			return fmt.Errorf("completed job %s must carry a result and no error", j.OperationID)
		}
	case JobStatusFailed:
		if j.Result != nil || j.Error == "" {
			return fmt.Errorf("failed job %s must carry an error and no result", j.OperationID)
		}
	default:
		return fmt.Errorf("job %s has invalid status %q", j.OperationID, j.Status)
	}
	return nil
}

// CheckTransition verifies that next is a legal successor of prev
func CheckTransition(prev, next *Job) error {
	if next.OperationID != prev.OperationID || !next.CreatedAt.Equal(prev.CreatedAt) {
		return fmt.Errorf("%w: operation id and creation time are immutable", ErrInvalidTransition)
	}
	if prev.IsTerminal() {
		if next.Status != prev.Status || next.Error != prev.Error || !sameResult(prev.Result, next.Result) ||
			next.Progress != prev.Progress {
			return fmt.Errorf("%w: %s is %s", ErrTerminal, prev.OperationID, prev.Status)
		}
		return next.Validate()
	}
	if !allowedTransition(prev.Status, next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Status, next.Status)
	}
	return next.Validate()
}

func allowedTransition(from, to JobStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case JobStatusPending:
		return to == JobStatusRunning || to == JobStatusFailed
	case JobStatusRunning:
		return to == JobStatusCompleted || to == JobStatusFailed
	}
	return false
}

func sameResult(a, b *JobResult) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Start moves a pending job to running
func (j *Job) Start(progress string, now time.Time) error {
	if j.IsTerminal() {
		return ErrTerminal
	}
	j.Status = JobStatusRunning
	j.Progress = progress
	j.LastUpdatedAt = now
	return nil
}

// SetProgress records a progress message without changing the status
func (j *Job) SetProgress(progress string, now time.Time) error {
	if j.IsTerminal() {
		return ErrTerminal
	}
	j.Progress = progress
	j.LastUpdatedAt = now
	return nil
}

// Complete sets the result and moves the job to completed.
// VMID keeps the machine name recorded at start, falling back to the result's identifier.
func (j *Job) Complete(result JobResult, now time.Time) error {
	if j.IsTerminal() {
		return ErrTerminal
	}
	j.Status = JobStatusCompleted
	j.Progress = ProgressCompleted
	j.Result = &result
	if j.VMID == "" {
		j.VMID = result.VMID
	}
	j.LastUpdatedAt = now
	return nil
}

// HoldsVM reports whether the job recorded a machine that has not been torn down yet
func (j *Job) HoldsVM() bool {
	return j.VMID != "" && j.TornDownAt == nil
}

// Fail sets the error message and moves the job to failed
func (j *Job) Fail(reason string, now time.Time) error {
	if j.IsTerminal() {
		return ErrTerminal
	}
	if reason == "" {
		reason = "unknown error"
	}
	j.Status = JobStatusFailed
	j.Progress = ProgressFailed
	j.Error = reason
	j.LastUpdatedAt = now
	return nil
}
