package types

// ErrorResponse represents an error response
// swagger:model
// Example: {"error":"Job not found","details":"no job with operation id 123"}
type ErrorResponse struct {
	// Error message describing what went wrong
	Error string `json:"error"`

	// Optional additional details about the error
	Details interface{} `json:"details,omitempty"`
}

// HealthResponse is returned by the health endpoint
// swagger:model
// Example: {"status":"healthy","backend":"simulate","store":"memory"}
type HealthResponse struct {
	// Always "healthy" when the server answers
	Status string `json:"status"`

	// Provisioning backend in use (simulate or azure)
	Backend string `json:"backend,omitempty"`

	// Job store driver in use (memory, postgres or redis)
	Store string `json:"store,omitempty"`
}

// HealthStatusHealthy is the status reported by a running server
const HealthStatusHealthy = "healthy"
