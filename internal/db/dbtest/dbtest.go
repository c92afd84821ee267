// Package dbtest connects integration tests to a disposable PostgreSQL
// database named by TEST_DATABASE_URL. Tests are skipped when it is unset.
package dbtest

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

const envDatabaseURL = "TEST_DATABASE_URL"

var (
	migrateOnce sync.Once
	migrateErr  error
)

// Connect returns a pool on a freshly truncated schema.
func Connect(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(envDatabaseURL)
	if dsn == "" {
		t.Skipf("%s is not set, skipping integration test", envDatabaseURL)
	}

	migrateOnce.Do(func() { migrateErr = applyMigrations(dsn) })
	require.NoError(t, migrateErr, "failed to migrate test database")

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err, "failed to connect to test database")
	t.Cleanup(pool.Close)

	Truncate(t, pool)
	return pool
}

func Truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), "TRUNCATE TABLE stock_movements, order_items, orders, products, categories")
	require.NoError(t, err, "failed to truncate tables")
}

func applyMigrations(dsn string) error {
	u, err := url.Parse(dsn)
	if err != nil {
		return err
	}
	u.Scheme = "pgx5"

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return errors.New("failed to get current file path")
	}
	// internal/db/dbtest -> repository root
	rootDir := filepath.Dir(filepath.Dir(filepath.Dir(filepath.Dir(filename))))

	m, err := migrate.New("file://"+filepath.Join(rootDir, "migrations"), u.String())
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
