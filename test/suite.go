package test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/celestiaorg/wgvpn/internal/auth"
	"github.com/celestiaorg/wgvpn/internal/compute"
	"github.com/celestiaorg/wgvpn/internal/db"
	"github.com/celestiaorg/wgvpn/internal/db/repos"
	"github.com/celestiaorg/wgvpn/internal/services"
	"github.com/celestiaorg/wgvpn/internal/store"
	"github.com/celestiaorg/wgvpn/pkg/api/v1/client"
)

// DefaultTestTimeout is the default timeout for test suites.
const DefaultTestTimeout = 30 * time.Second

// Store kinds a suite can run on
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Suite encapsulates all components needed for integration testing.
// It provides a complete test setup with:
//   - A job store
//   - Simulated provisioning backend
//   - Real orchestrator and API server
//   - Real API client
type Suite struct {
	t *testing.T // The testing.T instance for this suite

	// Server components
	App    *fiber.App
	Server *httptest.Server

	// Client components
	APIClient client.Client

	// Workflow components
	Store        store.Store
	Backend      *compute.SimulateBackend
	Orchestrator *services.Orchestrator
	Reconciler   *services.Reconciler

	// Database components, set for the sqlite store only
	DB *gorm.DB

	opts options

	// Context management
	ctx        context.Context
	cancelFunc context.CancelFunc

	// Cleanup functions, run in reverse order
	cleanups []func()
}

type options struct {
	storeKind       string
	stepDelay       time.Duration
	sessionLifetime time.Duration
	workflowTimeout time.Duration
	authorizer      auth.Authorizer
	clientOptions   func(*client.Options)
}

// Option changes how a suite is built
type Option func(*options)

// WithStore selects the job store kind
func WithStore(kind string) Option {
	return func(o *options) { o.storeKind = kind }
}

// WithStepDelay sets the delay between simulated provisioning steps
func WithStepDelay(d time.Duration) Option {
	return func(o *options) { o.stepDelay = d }
}

// WithSessionLifetime sets how long completed sessions live before teardown
func WithSessionLifetime(d time.Duration) Option {
	return func(o *options) { o.sessionLifetime = d }
}

// WithWorkflowTimeout bounds each provisioning workflow
func WithWorkflowTimeout(d time.Duration) Option {
	return func(o *options) { o.workflowTimeout = d }
}

// WithAuthorizer replaces the anonymous authorizer
func WithAuthorizer(a auth.Authorizer) Option {
	return func(o *options) { o.authorizer = a }
}

// WithClientOptions adjusts the options of the suite's API client
func WithClientOptions(f func(*client.Options)) Option {
	return func(o *options) { o.clientOptions = f }
}

// NewSuite creates a new test suite with the given options.
// The suite must be cleaned up after use by calling Cleanup.
func NewSuite(t *testing.T, opts ...Option) *Suite {
	t.Helper()

	o := options{
		storeKind:       StoreMemory,
		stepDelay:       10 * time.Millisecond,
		sessionLifetime: time.Hour,
		workflowTimeout: 10 * time.Second,
		authorizer:      auth.Anonymous{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTestTimeout)
	s := &Suite{
		t:          t,
		opts:       o,
		ctx:        ctx,
		cancelFunc: cancel,
	}
	s.addCleanup(cancel)

	SetupStore(s)
	SetupServer(s)
	return s
}

// SetupStore creates the job store selected by the suite options
func SetupStore(s *Suite) {
	switch s.opts.storeKind {
	case StoreMemory:
		s.Store = store.NewMemoryStore()

	case StoreSQLite:
		name := strings.NewReplacer("/", "_", " ", "_").Replace(s.t.Name())
		cfg := db.Config(logger.Silent)
		gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_json=1", name)), cfg)
		s.Require().NoError(err, "failed to open sqlite")
		sqlDB, err := gdb.DB()
		s.Require().NoError(err)
		sqlDB.SetMaxOpenConns(1)
		s.Require().NoError(db.Migrate(gdb), "failed to migrate")
		s.addCleanup(func() { _ = sqlDB.Close() })
		s.DB = gdb
		s.Store = repos.NewJobRepository(gdb)

	case StoreRedis:
		mr, err := miniredis.Run()
		s.Require().NoError(err, "failed to start miniredis")
		rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		s.addCleanup(func() {
			_ = rc.Close()
			mr.Close()
		})
		s.Store = store.NewRedisStore(rc, "wgvpn-test")

	default:
		s.t.Fatalf("unknown store kind %q", s.opts.storeKind)
	}
}

// Cleanup tears down the test suite, releasing all resources.
// This should be deferred immediately after creating the suite.
func (s *Suite) Cleanup() {
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
	s.cleanups = nil
}

func (s *Suite) addCleanup(f func()) {
	s.cleanups = append(s.cleanups, f)
}

// T returns the testing.T instance for this suite
func (s *Suite) T() *testing.T {
	return s.t
}

// Context returns the suite's context, which is automatically
// canceled when the suite is cleaned up.
func (s *Suite) Context() context.Context {
	return s.ctx
}

// Require returns a require.Assertions instance for this suite.
// This is a convenience method to avoid passing t around.
func (s *Suite) Require() *require.Assertions {
	return require.New(s.t)
}
