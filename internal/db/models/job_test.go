package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus(t *testing.T) {
	tests := []struct {
		name          string
		status        JobStatus
		stringValue   string
		jsonValue     string
		terminal      bool
		validForParse bool
	}{
		{
			name:          "Pending status",
			status:        JobStatusPending,
			stringValue:   "pending",
			jsonValue:     `"pending"`,
			validForParse: true,
		},
		{
			name:          "Running status",
			status:        JobStatusRunning,
			stringValue:   "running",
			jsonValue:     `"running"`,
			validForParse: true,
		},
		{
			name:          "Completed status",
			status:        JobStatusCompleted,
			stringValue:   "completed",
			jsonValue:     `"completed"`,
			terminal:      true,
			validForParse: true,
		},
		{
			name:          "Failed status",
			status:        JobStatusFailed,
			stringValue:   "failed",
			jsonValue:     `"failed"`,
			terminal:      true,
			validForParse: true,
		},
		{
			name:        "Unknown status",
			status:      JobStatusUnknown,
			stringValue: "unknown",
			jsonValue:   `"unknown"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.stringValue, tt.status.String())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())

			parsed, err := ParseJobStatus(tt.stringValue)
			if tt.validForParse {
				require.NoError(t, err)
				assert.Equal(t, tt.status, parsed)
			} else {
				assert.Error(t, err)
			}

			var fromJSON JobStatus
			err = json.Unmarshal([]byte(tt.jsonValue), &fromJSON)
			if tt.validForParse {
				require.NoError(t, err)
				assert.Equal(t, tt.status, fromJSON)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestJobLifecycle(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	job := NewJob("op-1", now)
	require.NoError(t, job.Validate())
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, ProgressAccepted, job.Progress)

	prev := job.Clone()
	require.NoError(t, job.Start("Creating VM", now.Add(time.Second)))
	require.NoError(t, CheckTransition(prev, job))

	prev = job.Clone()
	require.NoError(t, job.SetProgress("Installing WireGuard", now.Add(2*time.Second)))
	require.NoError(t, CheckTransition(prev, job))
	assert.Equal(t, JobStatusRunning, job.Status)

	prev = job.Clone()
	require.NoError(t, job.Complete(JobResult{PublicIP: "203.0.113.10", ConfText: "[Interface]", VMID: "vm"}, now.Add(3*time.Second)))
	require.NoError(t, CheckTransition(prev, job))
	assert.Equal(t, "vm", job.VMID)
	assert.Equal(t, now, job.CreatedAt)
	assert.Equal(t, now.Add(3*time.Second), job.LastUpdatedAt)

	assert.ErrorIs(t, job.Fail("late failure", now), ErrTerminal)
	assert.ErrorIs(t, job.SetProgress("late progress", now), ErrTerminal)
	assert.Empty(t, job.Error)
}

func TestCheckTransition(t *testing.T) {
	now := time.Now()
	completed := NewJob("op", now)
	require.NoError(t, completed.Complete(JobResult{VMID: "vm"}, now))

	tests := []struct {
		name    string
		prev    *Job
		mutate  func(j *Job)
		wantErr error
		invalid bool
	}{
		{
			name:    "pending to completed is skipped",
			prev:    NewJob("op", now),
			mutate:  func(j *Job) { _ = j.Complete(JobResult{}, now) },
			wantErr: ErrInvalidTransition,
		},
		{
			name:   "pending to failed",
			prev:   NewJob("op", now),
			mutate: func(j *Job) { _ = j.Fail("boom", now) },
		},
		{
			name:    "terminal status overwrite",
			prev:    completed,
			mutate:  func(j *Job) { j.Status = JobStatusFailed; j.Result = nil; j.Error = "x" },
			wantErr: ErrTerminal,
		},
		{
			name:    "terminal result overwrite",
			prev:    completed,
			mutate:  func(j *Job) { j.Result = &JobResult{VMID: "other"} },
			wantErr: ErrTerminal,
		},
		{
			name: "terminal teardown bookkeeping",
			prev: completed,
			mutate: func(j *Job) {
				ts := now.Add(time.Minute)
				j.TornDownAt = &ts
			},
		},
		{
			name:    "created at is immutable",
			prev:    NewJob("op", now),
			mutate:  func(j *Job) { j.CreatedAt = now.Add(time.Hour) },
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "result while running",
			prev:    NewJob("op", now),
			mutate:  func(j *Job) { _ = j.Start("x", now); j.Result = &JobResult{} },
			invalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := tt.prev.Clone()
			tt.mutate(next)
			err := CheckTransition(tt.prev, next)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.invalid:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestJobCloneIsDeep(t *testing.T) {
	now := time.Now()
	job := NewJob("op", now)
	require.NoError(t, job.Start("x", now))
	require.NoError(t, job.Complete(JobResult{PublicIP: "1.2.3.4"}, now))
	job.ExpiresAt = &now

	c := job.Clone()
	c.Result.PublicIP = "changed"
	*c.ExpiresAt = now.Add(time.Hour)

	assert.Equal(t, "1.2.3.4", job.Result.PublicIP)
	assert.Equal(t, now, *job.ExpiresAt)
}

func TestJobJSONShape(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	job := NewJob("op", now)

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "op", raw["operationId"])
	assert.Equal(t, "pending", raw["status"])
	assert.Contains(t, raw, "createdAt")
	assert.Contains(t, raw, "lastUpdatedAt")
	assert.NotContains(t, raw, "result")
	assert.NotContains(t, raw, "error")
}
