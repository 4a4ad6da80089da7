package handlers

import (
	"bytes"
	"errors"
	"strings"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/celestiaorg/wgvpn/internal/auth"
	"github.com/celestiaorg/wgvpn/internal/logger"
	"github.com/celestiaorg/wgvpn/internal/metrics"
	"github.com/celestiaorg/wgvpn/internal/services"
	"github.com/celestiaorg/wgvpn/internal/store"
	"github.com/celestiaorg/wgvpn/internal/types"
)

// identityLocal is the fiber locals key holding the authorized *auth.Identity
const identityLocal = "identity"

// JobHandler handles HTTP requests for VPN provisioning jobs
type JobHandler struct {
	orchestrator *services.Orchestrator
	authorizer   auth.Authorizer
	pollURL      func(operationID string) string
}

// NewJobHandler creates a new job handler. pollURL builds the poll locator returned by StartJob.
func NewJobHandler(orchestrator *services.Orchestrator, authorizer auth.Authorizer, pollURL func(string) string) *JobHandler {
	return &JobHandler{
		orchestrator: orchestrator,
		authorizer:   authorizer,
		pollURL:      pollURL,
	}
}

// Authorize rejects requests without an allowed identity before any job exists
func (h *JobHandler) Authorize(c *fiber.Ctx) error {
	identity, err := h.authorizer.Authorize(func(key string) string { return c.Get(key) })
	if err != nil {
		reason := auth.Reason(err)
		metrics.IncAuthDenied(reason)
		logger.WarnWithFields("request denied", map[string]interface{}{
			"reason": reason,
			"path":   c.Path(),
			"ip":     c.IP(),
		})

		if errors.Is(err, auth.ErrForbidden) {
			return c.Status(fiber.StatusForbidden).
				JSON(types.ErrorResponse{Error: ErrMsgForbidden, Details: reason})
		}
		return c.Status(fiber.StatusUnauthorized).
			JSON(types.ErrorResponse{Error: ErrMsgUnauthenticated, Details: reason})
	}

	c.Locals(identityLocal, identity)
	return c.Next()
}

// StartJob accepts a provisioning request and returns 202 with the poll locator.
// The body is optional; when present it must be a JSON object.
func (h *JobHandler) StartJob(c *fiber.Ctx) error {
	var req types.StartJobRequest
	if body := bytes.TrimSpace(c.Body()); len(body) > 0 {
		if err := c.App().Config().JSONDecoder(body, &req); err != nil {
			return c.Status(fiber.StatusBadRequest).
				JSON(types.ErrorResponse{Error: ErrMsgInvalidReqBody, Details: err.Error()})
		}
	}

	var requestedBy string
	if identity, ok := c.Locals(identityLocal).(*auth.Identity); ok && identity != nil {
		requestedBy = identity.Email
	}

	job, err := h.orchestrator.Start(c.UserContext(), services.StartRequest{
		Location:    strings.TrimSpace(req.Location),
		RequestedBy: requestedBy,
	})
	if errors.Is(err, services.ErrShuttingDown) {
		return c.Status(fiber.StatusServiceUnavailable).
			JSON(types.ErrorResponse{Error: ErrMsgServiceStopping})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrorResponse{Error: ErrMsgJobStartFailed, Details: err.Error()})
	}

	locator := h.pollURL(job.OperationID)
	c.Location(locator)
	return c.Status(fiber.StatusAccepted).JSON(types.StartJobResponse{
		OperationID:    job.OperationID,
		Status:         types.StatusAccepted,
		PollLocator:    locator,
		StatusQueryURL: locator,
	})
}

// GetJobStatus returns the snapshot of the job named by the id query parameter
func (h *JobHandler) GetJobStatus(c *fiber.Ctx) error {
	return h.poll(c, c.Query("id"))
}

// GetJob returns the snapshot of the job named by the path
func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	return h.poll(c, c.Params("id"))
}

func (h *JobHandler) poll(c *fiber.Ctx, operationID string) error {
	c.Set(fiber.HeaderCacheControl, "no-cache, no-store")

	operationID = strings.TrimSpace(operationID)
	if operationID == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(types.ErrorResponse{Error: ErrMsgJobIDRequired})
	}

	job, err := h.orchestrator.Get(c.UserContext(), operationID)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).
			JSON(types.ErrorResponse{Error: ErrMsgJobNotFound, Details: operationID})
	}
	if err != nil {
		logger.ErrorWithFields("failed to read job", logger.JobFields(operationID, map[string]interface{}{"error": err.Error()}))
		return c.Status(fiber.StatusServiceUnavailable).
			JSON(types.ErrorResponse{Error: ErrMsgStoreUnavailable})
	}

	return c.JSON(types.NewJobStatusResponse(job))
}
