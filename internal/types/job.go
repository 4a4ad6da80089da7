package types

import (
	"time"

	"github.com/celestiaorg/wgvpn/internal/db/models"
)

// StatusAccepted is the status reported when a start request is acknowledged
const StatusAccepted = "accepted"

// StartJobRequest is the optional body of a start request
// swagger:model
// Example: {"location":"westeurope"}
type StartJobRequest struct {
	// Cloud region for the VPN server; the server default is used when empty
	Location string `json:"location,omitempty"`
}

// StartJobResponse acknowledges a provisioning request that now runs in the background
// swagger:model
// Example: {"operationId":"9b1f...","status":"accepted","pollLocator":"/api/v1/jobs/status?id=9b1f...","statusQueryUrl":"/api/v1/jobs/status?id=9b1f..."}
type StartJobResponse struct {
	// Identifier to poll with
	OperationID string `json:"operationId"`

	// Always "accepted"
	Status string `json:"status"`

	// Relative URL of the poll endpoint for this job
	PollLocator string `json:"pollLocator"`

	// Same value as PollLocator, kept for older frontends
	StatusQueryURL string `json:"statusQueryUrl"`
}

// JobResult is the payload of a completed job
// swagger:model
type JobResult struct {
	PublicIP string `json:"publicIp"`
	ConfText string `json:"confText"`
	VMID     string `json:"vmId,omitempty"`
}

// JobStatusResponse is the snapshot returned by a poll
// swagger:model
// Example: {"operationId":"9b1f...","status":"running","progress":"Creating VM","createdAt":"2024-05-01T12:00:00Z","lastUpdatedAt":"2024-05-01T12:00:04Z"}
type JobStatusResponse struct {
	OperationID   string           `json:"operationId"`
	Status        models.JobStatus `json:"status"`
	Progress      string           `json:"progress"`
	CreatedAt     time.Time        `json:"createdAt"`
	LastUpdatedAt time.Time        `json:"lastUpdatedAt"`

	// Set only when status is completed
	Result *JobResult `json:"result,omitempty"`

	// Set only when status is failed
	Error string `json:"error,omitempty"`

	RequestedBy string     `json:"requestedBy,omitempty"`
	Location    string     `json:"location,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	TornDownAt  *time.Time `json:"tornDownAt,omitempty"`
}

// NewJobStatusResponse builds the poll snapshot of a job
func NewJobStatusResponse(job *models.Job) JobStatusResponse {
	resp := JobStatusResponse{
		OperationID:   job.OperationID,
		Status:        job.Status,
		Progress:      job.Progress,
		CreatedAt:     job.CreatedAt,
		LastUpdatedAt: job.LastUpdatedAt,
		Error:         job.Error,
		RequestedBy:   job.RequestedBy,
		Location:      job.Location,
		ExpiresAt:     job.ExpiresAt,
		TornDownAt:    job.TornDownAt,
	}
	if job.Result != nil {
		resp.Result = &JobResult{
			PublicIP: job.Result.PublicIP,
			ConfText: job.Result.ConfText,
			VMID:     job.Result.VMID,
		}
	}
	return resp
}

// IsTerminal reports whether the snapshot is completed or failed
func (r JobStatusResponse) IsTerminal() bool {
	return r.Status.IsTerminal()
}
