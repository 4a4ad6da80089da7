package test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/wgvpn/internal/auth"
	"github.com/celestiaorg/wgvpn/internal/compute"
	"github.com/celestiaorg/wgvpn/internal/db/models"
	"github.com/celestiaorg/wgvpn/internal/types"
	"github.com/celestiaorg/wgvpn/pkg/api/v1/client"
)

const pollInterval = 5 * time.Millisecond

var statusRank = map[models.JobStatus]int{
	models.JobStatusPending:   0,
	models.JobStatusRunning:   1,
	models.JobStatusCompleted: 2,
	models.JobStatusFailed:    2,
}

// followJob polls a job to completion and records every status it saw
func followJob(t *testing.T, s *Suite, id string) (types.JobStatusResponse, []models.JobStatus) {
	t.Helper()
	var seen []models.JobStatus
	var last types.JobStatusResponse
	require.Eventually(t, func() bool {
		status, err := s.APIClient.GetJobStatus(s.Context(), id)
		require.NoError(t, err)
		seen = append(seen, status.Status)
		last = status
		return status.IsTerminal()
	}, 10*time.Second, pollInterval, "job %s never finished", id)
	return last, seen
}

func TestStartAndPoll(t *testing.T) {
	s := NewSuite(t)
	defer s.Cleanup()

	started, err := s.APIClient.StartJob(s.Context(), types.StartJobRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, started.OperationID)
	assert.Equal(t, types.StatusAccepted, started.Status)
	assert.Contains(t, started.PollLocator, started.OperationID)

	final, seen := followJob(t, s, started.OperationID)
	require.Equal(t, models.JobStatusCompleted, final.Status, "error: %s", final.Error)
	require.NotNil(t, final.Result)
	assert.Contains(t, final.Result.ConfText, "[Interface]")
	assert.Contains(t, final.Result.ConfText, "[Peer]")
	assert.Equal(t, compute.SimulatedIP(final.Result.VMID), final.Result.PublicIP)
	assert.Empty(t, final.Error)
	assert.Equal(t, "anonymous", final.RequestedBy)
	assert.NotNil(t, final.ExpiresAt)

	for i := 1; i < len(seen); i++ {
		assert.LessOrEqual(t, statusRank[seen[i-1]], statusRank[seen[i]], "status went backwards: %v", seen)
	}

	_, err = s.APIClient.GetJobStatus(s.Context(), "nonexistent-id")
	require.Error(t, err)
	assert.True(t, client.IsNotFound(err), "expected 404, got %v", err)
}

func TestWaitForJob(t *testing.T) {
	s := NewSuite(t)
	defer s.Cleanup()

	started, err := s.APIClient.StartJob(s.Context(), types.StartJobRequest{Location: "westeurope"})
	require.NoError(t, err)

	final, err := s.APIClient.WaitForJob(s.Context(), started.OperationID, pollInterval)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, "westeurope", final.Location)
}

func TestConcurrentStarts(t *testing.T) {
	s := NewSuite(t)
	defer s.Cleanup()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := s.APIClient.StartJob(s.Context(), types.StartJobRequest{})
			assert.NoError(t, err)
			ids[i] = resp.OperationID
		}(i)
	}
	wg.Wait()

	unique := make(map[string]bool)
	for _, id := range ids {
		require.NotEmpty(t, id)
		unique[id] = true
	}
	assert.Len(t, unique, n)

	ips := make(map[string]bool)
	for _, id := range ids {
		final, err := s.APIClient.WaitForJob(s.Context(), id, pollInterval)
		require.NoError(t, err)
		require.Equal(t, models.JobStatusCompleted, final.Status)
		ips[final.Result.PublicIP] = true
	}
	assert.Len(t, ips, n, "every session gets its own VM")
	assert.Equal(t, n, s.Backend.Active())
}

func TestStartRequiresAuthorization(t *testing.T) {
	policy := auth.Policy{AllowedEmails: []string{"alice@example.com"}, RequiredRole: "invited"}

	tests := []struct {
		name    string
		email   string
		roles   []string
		allowed bool
	}{
		{name: "no principal", allowed: false},
		{name: "missing role", email: "alice@example.com", roles: []string{"authenticated"}},
		{name: "not on allow list", email: "bob@example.com", roles: []string{"invited"}},
		{name: "allowed", email: "Alice@Example.com", roles: []string{"authenticated", "invited"}, allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSuite(t,
				WithAuthorizer(auth.NewPrincipalAuthorizer(policy)),
				WithClientOptions(func(o *client.Options) {
					o.PrincipalEmail = tt.email
					o.PrincipalRoles = tt.roles
				}),
			)
			defer s.Cleanup()

			resp, err := s.APIClient.StartJob(s.Context(), types.StartJobRequest{})
			if !tt.allowed {
				require.Error(t, err)
				assert.Empty(t, resp.OperationID)
				jobs, listErr := s.Store.ListByStatus(s.Context(), models.JobStatusPending, models.JobStatusRunning, models.JobStatusCompleted, models.JobStatusFailed)
				require.NoError(t, listErr)
				assert.Empty(t, jobs, "a denied request must not create a job")
				return
			}
			require.NoError(t, err)
			final, err := s.APIClient.WaitForJob(s.Context(), resp.OperationID, pollInterval)
			require.NoError(t, err)
			assert.Equal(t, tt.email, final.RequestedBy)

			// polling stays open to anyone holding the id
			anon, err := client.NewClient(&client.Options{BaseURL: s.Server.URL})
			require.NoError(t, err)
			_, err = anon.GetJobStatus(s.Context(), resp.OperationID)
			assert.NoError(t, err)
		})
	}
}

func TestStores(t *testing.T) {
	for _, kind := range []string{StoreMemory, StoreSQLite, StoreRedis} {
		t.Run(kind, func(t *testing.T) {
			s := NewSuite(t, WithStore(kind))
			defer s.Cleanup()

			health, err := s.APIClient.HealthCheck(s.Context())
			require.NoError(t, err)
			assert.Equal(t, kind, health.Store)
			assert.Equal(t, compute.BackendSimulate, health.Backend)

			started, err := s.APIClient.StartJob(s.Context(), types.StartJobRequest{})
			require.NoError(t, err)

			final, err := s.APIClient.WaitForJob(s.Context(), started.OperationID, pollInterval)
			require.NoError(t, err)
			require.Equal(t, models.JobStatusCompleted, final.Status, "error: %s", final.Error)
			assert.Contains(t, final.Result.ConfText, "[Interface]")

			stored, err := s.Store.Get(s.Context(), started.OperationID)
			require.NoError(t, err)
			assert.Equal(t, final.Result.VMID, stored.VMID)
		})
	}
}

func TestSessionExpires(t *testing.T) {
	s := NewSuite(t, WithSessionLifetime(50*time.Millisecond))
	defer s.Cleanup()

	started, err := s.APIClient.StartJob(s.Context(), types.StartJobRequest{})
	require.NoError(t, err)
	final, err := s.APIClient.WaitForJob(s.Context(), started.OperationID, pollInterval)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, final.Status)

	require.Eventually(t, func() bool {
		status, err := s.APIClient.GetJobStatus(s.Context(), started.OperationID)
		return err == nil && status.TornDownAt != nil
	}, 5*time.Second, pollInterval)

	status, err := s.APIClient.GetJobStatus(s.Context(), started.OperationID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, status.Status, "teardown does not change the job status")
	assert.Equal(t, 0, s.Backend.Active())
	assert.Equal(t, []string{final.Result.VMID}, s.Backend.TornDown())
}

func TestProvisioningFailure(t *testing.T) {
	s := NewSuite(t)
	defer s.Cleanup()
	s.Backend.FailAt = compute.StepWireGuard

	started, err := s.APIClient.StartJob(s.Context(), types.StartJobRequest{})
	require.NoError(t, err)

	final, err := s.APIClient.WaitForJob(s.Context(), started.OperationID, pollInterval)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Nil(t, final.Result)
	assert.True(t, strings.Contains(final.Error, compute.ErrSimulatedFailure.Error()), final.Error)

	// the partially built VM is removed
	require.Eventually(t, func() bool {
		return len(s.Backend.TornDown()) == 1
	}, 5*time.Second, pollInterval)
}

func TestShutdownRejectsNewJobs(t *testing.T) {
	s := NewSuite(t)
	defer s.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Orchestrator.Shutdown(ctx))

	_, err := s.APIClient.StartJob(s.Context(), types.StartJobRequest{})
	require.Error(t, err)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.StatusCode)
}
