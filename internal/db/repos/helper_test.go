package repos

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/celestiaorg/wgvpn/internal/db"
)

// newTestDB opens an isolated in-memory sqlite database with the job table migrated
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_json=1", name)

	cfg := db.Config(logger.Silent)
	cfg.DisableForeignKeyConstraintWhenMigrating = true

	gdb, err := gorm.Open(sqlite.Open(dsn), cfg)
	require.NoError(t, err, "Failed to create in-memory database")

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// one connection keeps concurrent test goroutines from tripping sqlite table locks
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(gdb), "Failed to run database migrations")

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return gdb
}
