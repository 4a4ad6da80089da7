// Package client provides the API client for interacting with the VPN API
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/juju/clock"

	"github.com/celestiaorg/wgvpn/internal/auth"
	"github.com/celestiaorg/wgvpn/internal/constants"
	"github.com/celestiaorg/wgvpn/internal/types"
	"github.com/celestiaorg/wgvpn/pkg/api/v1/routes"
)

// DefaultTimeout is the default timeout for API requests
const DefaultTimeout = 30 * time.Second

// DefaultPollInterval is how often WaitForJob polls when no interval is given
const DefaultPollInterval = time.Second

// Client is the interface for API client
type Client interface {
	// Health Check
	HealthCheck(ctx context.Context) (types.HealthResponse, error)

	// Job Endpoints
	StartJob(ctx context.Context, req types.StartJobRequest) (types.StartJobResponse, error)
	GetJobStatus(ctx context.Context, operationID string) (types.JobStatusResponse, error)
	WaitForJob(ctx context.Context, operationID string, interval time.Duration) (types.JobStatusResponse, error)
}

var _ Client = &APIClient{}

// Options contains configuration options for the API client
type Options struct {
	// BaseURL is the base URL of the API
	BaseURL string

	// Timeout is the request timeout
	Timeout time.Duration

	// Token is sent as a bearer token when set
	Token string

	// PrincipalEmail and PrincipalRoles build a client principal header when set.
	// This mimics the hosting platform and is meant for local servers.
	PrincipalEmail string
	PrincipalRoles []string

	// Clock drives WaitForJob; defaults to the wall clock
	Clock clock.Clock

	// OnPoll is called with every snapshot WaitForJob reads
	OnPoll func(types.JobStatusResponse)
}

// DefaultOptions returns the default client options
func DefaultOptions() *Options {
	return &Options{
		BaseURL: routes.DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// APIClient implements the Client interface
type APIClient struct {
	baseURL string
	timeout time.Duration
	headers map[string]string
	clock   clock.Clock
	onPoll  func(types.JobStatusResponse)
}

// NewClient creates a new API client with the given options
func NewClient(opts *Options) (Client, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	// Validate the base URL
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", opts.BaseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	headers := make(map[string]string)
	if opts.Token != "" {
		headers[fiber.HeaderAuthorization] = "Bearer " + opts.Token
	}
	if opts.PrincipalEmail != "" {
		headers[constants.ClientPrincipalHeader] = auth.ClientPrincipal{
			IdentityProvider: "local",
			UserID:           opts.PrincipalEmail,
			UserDetails:      opts.PrincipalEmail,
			UserRoles:        opts.PrincipalRoles,
		}.Encode()
	}

	return &APIClient{
		baseURL: opts.BaseURL,
		timeout: timeout,
		headers: headers,
		clock:   clk,
		onPoll:  opts.OnPoll,
	}, nil
}

// APIError is returned for non-2xx responses
type APIError struct {
	StatusCode int
	Message    string
	Details    interface{}
}

func (e *APIError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("api error (%d): %s: %v", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsUnauthorized reports whether err is a 401 or 403 from the API
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized) || hasStatus(err, http.StatusForbidden)
}

func hasStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// createAgent creates a new Fiber Agent for the given method and endpoint
func (c *APIClient) createAgent(ctx context.Context, method, endpoint string, body interface{}) (*fiber.Agent, error) {
	// Resolve the endpoint URL
	fullURL := c.baseURL + endpoint

	// Create a new agent based on the HTTP method
	var agent *fiber.Agent
	switch method {
	case http.MethodGet:
		agent = fiber.Get(fullURL)
	case http.MethodPost:
		agent = fiber.Post(fullURL)
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	// Set timeout from context or client default
	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(c.timeout)
	}

	// Set common headers
	agent.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	for k, v := range c.headers {
		agent.Set(k, v)
	}

	// Add body if provided
	if body != nil {
		agent.JSON(body)
	}

	return agent, nil
}

// doRequest sends the HTTP request and processes the response
func (c *APIClient) doRequest(agent *fiber.Agent, v interface{}) error {
	// Execute the request
	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("error sending request: %w", errs[0])
	}

	// Check for non-success status codes
	if statusCode < 200 || statusCode >= 300 {
		apiErr := &APIError{StatusCode: statusCode, Message: string(body)}
		var errResp types.ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Details = errResp.Details
		}
		return apiErr
	}

	// Decode the response body if a target is provided
	if v != nil && len(body) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			return fmt.Errorf("error decoding response: %w", err)
		}
	}

	return nil
}

// executeRequest creates an agent, sends the request, and processes the response
func (c *APIClient) executeRequest(ctx context.Context, method, endpoint string, body, response interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	agent, err := c.createAgent(ctx, method, endpoint, body)
	if err != nil {
		return err
	}

	return c.doRequest(agent, response)
}

// HealthCheck checks the health of the API
func (c *APIClient) HealthCheck(ctx context.Context) (types.HealthResponse, error) {
	var resp types.HealthResponse
	err := c.executeRequest(ctx, http.MethodGet, routes.HealthCheckURL(), nil, &resp)
	return resp, err
}

// StartJob asks the server to provision a VPN server and returns the poll locator
func (c *APIClient) StartJob(ctx context.Context, req types.StartJobRequest) (types.StartJobResponse, error) {
	var resp types.StartJobResponse
	err := c.executeRequest(ctx, http.MethodPost, routes.StartJobURL(), req, &resp)
	return resp, err
}

// GetJobStatus returns the current snapshot of a job
func (c *APIClient) GetJobStatus(ctx context.Context, operationID string) (types.JobStatusResponse, error) {
	if operationID == "" {
		return types.JobStatusResponse{}, errors.New("operation id is required")
	}
	var resp types.JobStatusResponse
	err := c.executeRequest(ctx, http.MethodGet, routes.JobStatusURL(operationID), nil, &resp)
	return resp, err
}

// WaitForJob polls a job every interval until it is completed or failed or ctx ends.
// A failed job is returned without error; the caller inspects Status and Error.
func (c *APIClient) WaitForJob(ctx context.Context, operationID string, interval time.Duration) (types.JobStatusResponse, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	var last types.JobStatusResponse
	for {
		status, err := c.GetJobStatus(ctx, operationID)
		if err != nil {
			return last, err
		}
		last = status
		if c.onPoll != nil {
			c.onPoll(status)
		}
		if status.IsTerminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, fmt.Errorf("waiting for job %s: %w", operationID, ctx.Err())
		case <-c.clock.After(interval):
		}
	}
}
