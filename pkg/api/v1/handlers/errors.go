// Package handlers provides HTTP request handling
package handlers

// Common error messages
const (
	ErrMsgInvalidReqBody = "Invalid request body"
	ErrMsgInternal       = "Internal server error"
)

// Authorization error messages
const (
	ErrMsgUnauthenticated = "Authentication required"
	ErrMsgForbidden       = "Access denied"
)

// Job error messages
const (
	ErrMsgJobIDRequired    = "Job id is required"
	ErrMsgJobNotFound      = "Job not found"
	ErrMsgJobStartFailed   = "Failed to start job"
	ErrMsgServiceStopping  = "Service is shutting down"
	ErrMsgStoreUnavailable = "Job store unavailable"
)
