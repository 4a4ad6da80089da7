package handlers

import (
	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/celestiaorg/wgvpn/internal/types"
)

// HealthHandler reports liveness and the configured collaborators
type HealthHandler struct {
	backend string
	store   string
}

// NewHealthHandler creates a health handler
func NewHealthHandler(backend, store string) *HealthHandler {
	return &HealthHandler{backend: backend, store: store}
}

// Health handles the health check
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(types.HealthResponse{
		Status:  types.HealthStatusHealthy,
		Backend: h.backend,
		Store:   h.store,
	})
}

// Metrics serves the default Prometheus registry
func Metrics() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// ErrorHandler converts errors that escape a handler into a JSON error body
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := ErrMsgInternal
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		msg = e.Message
	}

	return c.Status(code).JSON(types.ErrorResponse{
		Error: msg,
	})
}
