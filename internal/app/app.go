// Package app assembles the fiber application serving the VPN API
package app

import (
	"strings"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/celestiaorg/wgvpn/internal/api/v1/middleware"
	"github.com/celestiaorg/wgvpn/internal/auth"
	"github.com/celestiaorg/wgvpn/internal/constants"
	"github.com/celestiaorg/wgvpn/internal/services"
	"github.com/celestiaorg/wgvpn/pkg/api/v1/handlers"
	"github.com/celestiaorg/wgvpn/pkg/api/v1/routes"
)

// Options holds the collaborators of the API
type Options struct {
	Orchestrator *services.Orchestrator
	Authorizer   auth.Authorizer
	// BackendName and StoreDriver are reported by the health endpoint
	BackendName string
	StoreDriver string
	// CORSAllowOrigins is a comma separated origin list, "*" when empty
	CORSAllowOrigins string
}

// New creates the fiber app with middleware and all routes registered
func New(opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "wgvpn",
		ErrorHandler:          handlers.ErrorHandler,
		DisableStartupMessage: true,
	})

	origins := strings.TrimSpace(opts.CORSAllowOrigins)
	if origins == "" {
		origins = "*"
	}

	// Middleware
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: strings.Join([]string{fiber.MethodGet, fiber.MethodPost, fiber.MethodOptions}, ","),
		AllowHeaders: strings.Join([]string{
			fiber.HeaderOrigin,
			fiber.HeaderContentType,
			fiber.HeaderAccept,
			fiber.HeaderAuthorization,
			constants.ClientPrincipalHeader,
		}, ","),
		ExposeHeaders: fiber.HeaderLocation,
	}))
	app.Use(middleware.Logger())

	routes.RegisterRoutes(app,
		handlers.NewJobHandler(opts.Orchestrator, opts.Authorizer, routes.JobStatusURL),
		handlers.NewHealthHandler(opts.BackendName, opts.StoreDriver),
		handlers.Metrics(),
	)
	return app
}
