package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/clock"
	gormlogger "gorm.io/gorm/logger"

	"github.com/celestiaorg/wgvpn/config"
	"github.com/celestiaorg/wgvpn/internal/app"
	"github.com/celestiaorg/wgvpn/internal/auth"
	"github.com/celestiaorg/wgvpn/internal/compute"
	"github.com/celestiaorg/wgvpn/internal/db"
	"github.com/celestiaorg/wgvpn/internal/db/repos"
	"github.com/celestiaorg/wgvpn/internal/events"
	"github.com/celestiaorg/wgvpn/internal/logger"
	"github.com/celestiaorg/wgvpn/internal/metrics"
	"github.com/celestiaorg/wgvpn/internal/services"
	"github.com/celestiaorg/wgvpn/internal/store"
)

const (
	// workflowDrainTimeout bounds how long shutdown waits for in-flight provisioning
	workflowDrainTimeout = 30 * time.Second
	// httpShutdownTimeout bounds how long shutdown waits for open requests
	httpShutdownTimeout = 10 * time.Second
)

func main() {
	// A missing .env file is fine, the environment may already be set
	_ = godotenv.Load()
	logger.InitializeAndConfigure()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Configure(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobStore, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Fatalf("Failed to open job store: %v", err)
	}
	defer closeStore()

	backend, err := compute.NewBackend(ctx, cfg, clock.WallClock)
	if err != nil {
		logger.Fatalf("Failed to create provisioning backend: %v", err)
	}

	authorizer, err := auth.New(cfg.Auth)
	if err != nil {
		logger.Fatalf("Failed to create authorizer: %v", err)
	}

	// Events feed the metrics; the bus outlives the workflows so their final events are counted
	busCtx, stopBus := context.WithCancel(context.Background())
	bus := events.NewBus()
	metrics.Subscribe(bus)
	metrics.MustRegister()
	bus.Start(busCtx)

	orchestrator := services.NewOrchestrator(jobStore, backend, services.OrchestratorOptions{
		WorkflowTimeout: cfg.Timings.WorkflowTimeout,
		SessionLifetime: cfg.Timings.SessionLifetime,
		DefaultLocation: cfg.Azure.Location,
		Clock:           clock.WallClock,
		Events:          bus,
	})

	reconciler := services.NewReconciler(jobStore, orchestrator, services.ReconcilerOptions{
		Interval:     cfg.Timings.ReconcileInterval,
		OrphanMaxAge: cfg.Timings.OrphanMaxAge,
		Retention:    cfg.Timings.JobRetention,
		Clock:        clock.WallClock,
	})
	var wg sync.WaitGroup
	wg.Add(1)
	go services.LaunchReconciler(ctx, &wg, reconciler)

	server := app.New(app.Options{
		Orchestrator:     orchestrator,
		Authorizer:       authorizer,
		BackendName:      backend.Name(),
		StoreDriver:      cfg.Store.Driver,
		CORSAllowOrigins: cfg.CORSAllowOrigins,
	})

	listenErr := make(chan error, 1)
	go func() {
		logger.InfoWithFields("Starting server", map[string]interface{}{
			"port":    cfg.Port,
			"backend": backend.Name(),
			"store":   cfg.Store.Driver,
			"auth":    cfg.Auth.Mode,
		})
		listenErr <- server.Listen(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-listenErr:
		logger.Errorf("Server stopped: %v", err)
		stop()
	}

	// Stop accepting requests first so no new job starts after the orchestrator drains
	if err := server.ShutdownWithTimeout(httpShutdownTimeout); err != nil {
		logger.Warnf("HTTP shutdown: %v", err)
	}

	wg.Wait()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), workflowDrainTimeout)
	defer cancelDrain()
	if err := orchestrator.Shutdown(drainCtx); err != nil {
		logger.Warnf("Provisioning workflows did not finish in time: %v", err)
	}

	stopBus()
	bus.Wait()
	logger.Info("Server stopped")
}

// openStore creates the job store selected by the configuration and a function releasing it
func openStore(ctx context.Context, cfg config.Store) (store.Store, func(), error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return store.NewMemoryStore(), func() {}, nil

	case config.StorePostgres:
		ssl := cfg.DBSSLEnabled
		conn, err := db.New(db.Options{
			Host:       cfg.DBHost,
			User:       cfg.DBUser,
			Password:   cfg.DBPassword,
			DBName:     cfg.DBName,
			Port:       cfg.DBPort,
			SSLEnabled: &ssl,
			LogLevel:   gormlogger.Warn,
		})
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if sqlDB, err := conn.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return repos.NewJobRepository(conn), closeFn, nil

	case config.StoreRedis:
		client, err := store.NewRedisClient(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedisStore(client, store.DefaultRedisPrefix), func() { _ = client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported job store: %s", cfg.Driver)
	}
}
