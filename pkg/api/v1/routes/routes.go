// Package routes defines the API routes and URL structure
package routes

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/celestiaorg/wgvpn/pkg/api/v1/handlers"
)

/*

To keep this file organized, routes should be organized in the following way:

1. Service routes (health, metrics) first, then versioned routes, then compatibility aliases
2. Order routes in GET, POST, DELETE order.
	a. Within this ordering, param urls (ie /:id) should go last, otherwise fiber will interpret the route slug as that param.
3. For clarity, naming should match the action (i.e. StartJob, GetJobStatus)

*/

// API base configuration
const (
	// DefaultPort is the default port for the API
	DefaultPort = "8080"
	// APIv1Prefix is the prefix for all API endpoints
	APIv1Prefix = "/api/v1"
	// LegacyPrefix is the prefix of the routes the static frontend calls
	LegacyPrefix = "/api"
	// JobIDQueryParam is the query parameter carrying the operation id of a poll
	JobIDQueryParam = "id"
)

// DefaultBaseURL is the default base URL for the API
var DefaultBaseURL = fmt.Sprintf("http://localhost:%s", DefaultPort)

// Route names for lookup
const (
	// Service routes
	HealthCheck = "HealthCheck"
	Metrics     = "Metrics"

	// Job routes
	GetJobStatus = "GetJobStatus"
	GetJob       = "GetJob"
	StartJob     = "StartJob"

	// Aliases kept for the static frontend
	LegacyJobStatus = "LegacyJobStatus"
	LegacyStartJob  = "LegacyStartJob"
)

// routeCache stores extracted routes for use prior to compilation
var (
	routeCache     map[string]string
	routeCacheMu   sync.RWMutex
	routeCacheInit sync.Once
)

// RegisterRoutes configures all the routes of the VPN API
//
// NOTE: route ordering is important because routes will try and match in the order they are registered.
// GetJobStatus must be registered before GetJob, otherwise /jobs/status is interpreted as a job ID.
func RegisterRoutes(
	app *fiber.App,
	jobHandler *handlers.JobHandler,
	healthHandler *handlers.HealthHandler,
	metricsHandler fiber.Handler,
) {
	// Health check
	app.Get("/health", healthHandler.Health).Name(HealthCheck)

	// Prometheus scrape endpoint
	app.Get("/metrics", metricsHandler).Name(Metrics)

	// Job endpoints
	jobs := app.Group(APIv1Prefix + "/jobs")
	jobs.Get("/status", jobHandler.GetJobStatus).Name(GetJobStatus)
	jobs.Get("/:id", jobHandler.GetJob).Name(GetJob)
	jobs.Post("/", jobHandler.Authorize, jobHandler.StartJob).Name(StartJob)

	// ---------------------------
	// Compatibility aliases
	legacy := app.Group(LegacyPrefix)
	legacy.Get("/job_status", jobHandler.GetJobStatus).Name(LegacyJobStatus)
	legacy.Post("/start_job", jobHandler.Authorize, jobHandler.StartJob).Name(LegacyStartJob)
}

// initRouteCache initializes the route cache by creating a mock app and extracting routes
func initRouteCache() {
	routeCacheInit.Do(func() {
		routeCache = make(map[string]string)

		// Create a mock app
		app := fiber.New()

		// Register routes with empty handlers, they are never invoked
		RegisterRoutes(app, &handlers.JobHandler{}, &handlers.HealthHandler{}, func(*fiber.Ctx) error { return nil })

		// Extract routes from the app
		for _, route := range app.GetRoutes() {
			if route.Name != "" {
				routeCache[route.Name] = route.Path
			}
		}
	})
}

// GetRoute returns the route pattern for the given route name
func GetRoute(name string) string {
	routeCacheMu.RLock()
	defer routeCacheMu.RUnlock()

	// Initialize cache if needed
	if routeCache == nil {
		routeCacheMu.RUnlock()
		initRouteCache()
		routeCacheMu.RLock()
	}

	return routeCache[name]
}

// BuildURL builds a URL for the given route name and parameters
func BuildURL(routeName string, params map[string]string, queryParams url.Values) string {
	route := GetRoute(routeName)
	if route == "" {
		return ""
	}

	// Replace parameters in the route
	for param, value := range params {
		route = strings.ReplaceAll(route, ":"+param, url.PathEscape(value))
	}

	// Remove trailing slash if it's a base endpoint with no parameters
	if strings.HasSuffix(route, "/") && !strings.Contains(route, ":") {
		route = strings.TrimSuffix(route, "/")
	}

	// Add query parameters if any
	if len(queryParams) > 0 {
		route = fmt.Sprintf("%s?%s", route, queryParams.Encode())
	}

	return route
}

// Service route helpers

// HealthCheckURL returns the URL for the health check endpoint
func HealthCheckURL() string {
	return BuildURL(HealthCheck, nil, nil)
}

// MetricsURL returns the URL of the Prometheus endpoint
func MetricsURL() string {
	return BuildURL(Metrics, nil, nil)
}

// Job route helpers

// StartJobURL returns the URL for starting a provisioning job
func StartJobURL() string {
	return BuildURL(StartJob, nil, nil)
}

// JobStatusURL returns the poll locator of a job
func JobStatusURL(operationID string) string {
	return BuildURL(GetJobStatus, nil, url.Values{JobIDQueryParam: []string{operationID}})
}

// GetJobURL returns the path form of the poll locator
func GetJobURL(operationID string) string {
	return BuildURL(GetJob, map[string]string{"id": operationID}, nil)
}
