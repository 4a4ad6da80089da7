// Package middleware holds fiber middleware shared by the API server
package middleware

import (
	"time"

	fiber "github.com/gofiber/fiber/v2"

	log "github.com/celestiaorg/wgvpn/internal/logger"
)

// Logger returns a middleware that logs HTTP requests.
// Server errors are logged at error level, client errors at warn level.
func Logger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Continue chain
		err := c.Next()
		if err != nil {
			// let the app error handler write the response before we read the status
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		fields := map[string]interface{}{
			"status":  status,
			"latency": time.Since(start).String(),
			"ip":      c.IP(),
			"method":  c.Method(),
			"path":    c.Path(),
			"handler": c.Route().Name,
		}
		if err != nil {
			fields["error"] = err.Error()
		}

		switch {
		case status >= fiber.StatusInternalServerError:
			log.ErrorWithFields("Request", fields)
		case status >= fiber.StatusBadRequest:
			log.WarnWithFields("Request", fields)
		default:
			log.InfoWithFields("Request", fields)
		}

		return nil
	}
}
