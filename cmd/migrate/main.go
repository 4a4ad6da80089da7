// This file is used to run database migrations for the postgres job store
// How to run:
// go run cmd/migrate/main.go              # Create or update the jobs table
// go run cmd/migrate/main.go -down        # Drop the jobs table
// go run cmd/migrate/main.go -retries 10  # Wait longer for the database to come up
package main

import (
	"flag"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/celestiaorg/wgvpn/config"
	"github.com/celestiaorg/wgvpn/internal/db"
	"github.com/celestiaorg/wgvpn/internal/logger"
)

func main() {
	// Load .env file, the environment may already be set
	_ = godotenv.Load()
	logger.InitializeAndConfigure()

	var (
		down      = flag.Bool("down", false, "Drop the jobs table instead of migrating it")
		retries   = flag.Int("retries", 5, "Number of connection retries")
		retryWait = flag.Duration("retry-wait", 3*time.Second, "Wait time between retries")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	ssl := cfg.Store.DBSSLEnabled
	opts := db.Options{
		Host:       cfg.Store.DBHost,
		User:       cfg.Store.DBUser,
		Password:   cfg.Store.DBPassword,
		DBName:     cfg.Store.DBName,
		Port:       cfg.Store.DBPort,
		SSLEnabled: &ssl,
		LogLevel:   gormlogger.Warn,
	}

	var conn *gorm.DB
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			var openErr error
			conn, openErr = db.Open(opts)
			return openErr
		},
		NotifyFunc: func(lastErr error, attempt int) {
			logger.Warnf("Database not ready (attempt %d/%d): %v", attempt, *retries, lastErr)
		},
		Attempts: *retries,
		Delay:    *retryWait,
		Clock:    clock.WallClock,
	})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", retry.LastError(err))
	}

	if *down {
		if err := db.Rollback(conn); err != nil {
			logger.Fatalf("Migration rollback failed: %v", err)
		}
		logger.Info("Dropped the jobs table")
		return
	}

	if err := db.Migrate(conn); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
	logger.Info("Jobs table is up to date")
}
