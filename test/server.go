package test

import (
	"context"
	"net/http/httptest"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/celestiaorg/wgvpn/internal/app"
	"github.com/celestiaorg/wgvpn/internal/compute"
	"github.com/celestiaorg/wgvpn/internal/services"
	"github.com/celestiaorg/wgvpn/pkg/api/v1/client"
)

// testClientTimeout is the timeout for test API client requests
const testClientTimeout = 5 * time.Second

// SetupServer configures the test suite with a real orchestrator and API server
func SetupServer(suite *Suite) {
	suite.Backend = compute.NewSimulateBackend(nil, suite.opts.stepDelay)
	suite.Orchestrator = services.NewOrchestrator(suite.Store, suite.Backend, services.OrchestratorOptions{
		WorkflowTimeout: suite.opts.workflowTimeout,
		SessionLifetime: suite.opts.sessionLifetime,
		DefaultLocation: "eastus",
	})
	suite.Reconciler = services.NewReconciler(suite.Store, suite.Orchestrator, services.ReconcilerOptions{
		Interval:     time.Minute,
		OrphanMaxAge: 20 * time.Minute,
		Retention:    24 * time.Hour,
	})

	suite.App = app.New(app.Options{
		Orchestrator: suite.Orchestrator,
		Authorizer:   suite.opts.authorizer,
		BackendName:  suite.Backend.Name(),
		StoreDriver:  suite.opts.storeKind,
	})

	// Create test server using adaptor to convert Fiber app to http.Handler
	suite.Server = httptest.NewServer(adaptor.FiberApp(suite.App))

	// Create API client with test configuration
	opts := &client.Options{
		BaseURL: suite.Server.URL,
		Timeout: testClientTimeout,
	}
	if suite.opts.clientOptions != nil {
		suite.opts.clientOptions(opts)
	}
	c, err := client.NewClient(opts)
	suite.Require().NoError(err, "Failed to create API client")
	suite.APIClient = c

	suite.addCleanup(func() {
		suite.Server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = suite.Orchestrator.Shutdown(ctx)
	})
}
