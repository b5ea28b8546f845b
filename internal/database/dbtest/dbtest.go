// Package dbtest starts a disposable PostgreSQL for integration tests.
package dbtest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"github.com/vipul43/qbo-sync-worker/internal/database"
)

// DiscardLogger is a logger for tests that don't assert on log output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StartPostgres runs PostgreSQL in a container and returns its URL.
// The test is skipped unless TEST_INTEGRATION is set.
func StartPostgres(t *testing.T) string {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("qbo_sync_test"),
		postgres.WithUsername("qbo"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	return url
}

// Open starts PostgreSQL, applies migrations and returns a connected gorm DB.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	url := StartPostgres(t)
	logger := DiscardLogger()

	if err := database.RunMigrations(url, logger); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	db, err := database.Connect(context.Background(), url, logger)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}
