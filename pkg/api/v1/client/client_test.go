// Package client provides unit tests for the VPN API client.
//
// The tests use httptest to create a server that simulates the API,
// allowing the client to be tested without requiring an actual API server.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/wgvpn/internal/auth"
	"github.com/celestiaorg/wgvpn/internal/constants"
	"github.com/celestiaorg/wgvpn/internal/db/models"
	"github.com/celestiaorg/wgvpn/internal/types"
)

// fakeAPI serves a scripted sequence of job snapshots
type fakeAPI struct {
	mu        sync.Mutex
	statuses  []models.JobStatus
	polls     int
	lastReq   *http.Request
	lastStart types.StartJobRequest
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = r.Clone(context.Background())
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/health":
		_ = json.NewEncoder(w).Encode(types.HealthResponse{Status: "healthy", Backend: "simulate"})

	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/jobs":
		if r.Header.Get(constants.ClientPrincipalHeader) == "" && r.Header.Get(fiber.HeaderAuthorization) == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: "Authentication required", Details: "missing_credentials"})
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&f.lastStart)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(types.StartJobResponse{
			OperationID:    "op-1",
			Status:         types.StatusAccepted,
			PollLocator:    "/api/v1/jobs/status?id=op-1",
			StatusQueryURL: "/api/v1/jobs/status?id=op-1",
		})

	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/jobs/status":
		if r.URL.Query().Get("id") != "op-1" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: "Job not found"})
			return
		}
		idx := f.polls
		if idx >= len(f.statuses) {
			idx = len(f.statuses) - 1
		}
		f.polls++
		resp := types.JobStatusResponse{OperationID: "op-1", Status: f.statuses[idx]}
		switch resp.Status {
		case models.JobStatusCompleted:
			resp.Result = &types.JobResult{PublicIP: "203.0.113.2", ConfText: "[Interface]\n"}
		case models.JobStatusFailed:
			resp.Error = "quota exceeded"
		}
		_ = json.NewEncoder(w).Encode(resp)

	default:
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("not json"))
	}
}

func setupTestServer(t *testing.T, statuses ...models.JobStatus) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{statuses: statuses}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	return api, server
}

func newTestClient(t *testing.T, opts *Options) *APIClient {
	t.Helper()
	c, err := NewClient(opts)
	require.NoError(t, err)
	return c.(*APIClient)
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		opts    *Options
		wantErr bool
		check   func(t *testing.T, c *APIClient)
	}{
		{
			name: "nil options",
			check: func(t *testing.T, c *APIClient) {
				assert.Equal(t, DefaultOptions().BaseURL, c.baseURL)
				assert.Equal(t, DefaultTimeout, c.timeout)
				assert.Empty(t, c.headers)
			},
		},
		{
			name: "zero timeout uses default",
			opts: &Options{BaseURL: "http://example.com"},
			check: func(t *testing.T, c *APIClient) {
				assert.Equal(t, DefaultTimeout, c.timeout)
			},
		},
		{
			name: "bearer token",
			opts: &Options{BaseURL: "http://example.com", Token: "abc"},
			check: func(t *testing.T, c *APIClient) {
				assert.Equal(t, "Bearer abc", c.headers[fiber.HeaderAuthorization])
			},
		},
		{
			name: "client principal",
			opts: &Options{BaseURL: "http://example.com", PrincipalEmail: "alice@example.com", PrincipalRoles: []string{"invited"}},
			check: func(t *testing.T, c *APIClient) {
				raw, err := base64.StdEncoding.DecodeString(c.headers[constants.ClientPrincipalHeader])
				require.NoError(t, err)
				var p auth.ClientPrincipal
				require.NoError(t, json.Unmarshal(raw, &p))
				assert.Equal(t, "alice@example.com", p.UserDetails)
				assert.Equal(t, []string{"invited"}, p.UserRoles)
			},
		},
		{
			name:    "invalid base URL",
			opts:    &Options{BaseURL: "://bad"},
			wantErr: true,
		},
		{
			name:    "missing scheme",
			opts:    &Options{BaseURL: "localhost:8080"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, c.(*APIClient))
		})
	}
}

func TestHealthCheck(t *testing.T) {
	_, server := setupTestServer(t, models.JobStatusPending)
	c := newTestClient(t, &Options{BaseURL: server.URL})

	health, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "simulate", health.Backend)
}

func TestStartJob(t *testing.T) {
	api, server := setupTestServer(t, models.JobStatusPending)

	c := newTestClient(t, &Options{BaseURL: server.URL})
	_, err := c.StartJob(context.Background(), types.StartJobRequest{})
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Authentication required", apiErr.Message)
	assert.Equal(t, "missing_credentials", apiErr.Details)

	c = newTestClient(t, &Options{BaseURL: server.URL, PrincipalEmail: "alice@example.com"})
	resp, err := c.StartJob(context.Background(), types.StartJobRequest{Location: "westeurope"})
	require.NoError(t, err)
	assert.Equal(t, "op-1", resp.OperationID)
	assert.Equal(t, types.StatusAccepted, resp.Status)
	assert.Equal(t, "westeurope", api.lastStart.Location)
	assert.Equal(t, fiber.MIMEApplicationJSON, api.lastReq.Header.Get(fiber.HeaderContentType))
}

func TestGetJobStatus(t *testing.T) {
	_, server := setupTestServer(t, models.JobStatusRunning)
	c := newTestClient(t, &Options{BaseURL: server.URL})

	status, err := c.GetJobStatus(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, status.Status)

	_, err = c.GetJobStatus(context.Background(), "nonexistent-id")
	assert.True(t, IsNotFound(err))

	_, err = c.GetJobStatus(context.Background(), "")
	assert.Error(t, err)
}

func TestWaitForJob(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []models.JobStatus
		wantStatus models.JobStatus
		wantPolls  int
	}{
		{
			name:       "completes",
			statuses:   []models.JobStatus{models.JobStatusPending, models.JobStatusRunning, models.JobStatusRunning, models.JobStatusCompleted},
			wantStatus: models.JobStatusCompleted,
			wantPolls:  4,
		},
		{
			name:       "fails",
			statuses:   []models.JobStatus{models.JobStatusRunning, models.JobStatusFailed},
			wantStatus: models.JobStatusFailed,
			wantPolls:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, server := setupTestServer(t, tt.statuses...)
			var seen []models.JobStatus
			c := newTestClient(t, &Options{
				BaseURL: server.URL,
				OnPoll:  func(s types.JobStatusResponse) { seen = append(seen, s.Status) },
			})

			final, err := c.WaitForJob(context.Background(), "op-1", 5*time.Millisecond)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, final.Status)
			assert.Equal(t, tt.statuses, seen)
			assert.Len(t, seen, tt.wantPolls)
		})
	}
}

func TestWaitForJobStopsOnContext(t *testing.T) {
	_, server := setupTestServer(t, models.JobStatusRunning)
	c := newTestClient(t, &Options{BaseURL: server.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	status, err := c.WaitForJob(ctx, "op-1", 10*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.JobStatusRunning, status.Status)
}

func TestDoRequestNonJSONError(t *testing.T) {
	_, server := setupTestServer(t, models.JobStatusRunning)
	c := newTestClient(t, &Options{BaseURL: server.URL})

	err := c.executeRequest(context.Background(), http.MethodGet, "/nowhere", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTeapot, apiErr.StatusCode)
	assert.Equal(t, "not json", apiErr.Message)

	err = c.executeRequest(context.Background(), http.MethodDelete, "/nowhere", nil, nil)
	assert.ErrorContains(t, err, "unsupported HTTP method")
}
