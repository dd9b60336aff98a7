package harnessstore

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestClient creates a Client for integration tests. In CI (when
// TEST_DATABASE_URL is set) it connects to an externally managed
// Postgres; otherwise it spins up a disposable testcontainer. Either
// way the embedded migrations run before the client is handed back.
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Log("TEST_DATABASE_URL not set, using testcontainers for PostgreSQL")
		container, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("harness_test"),
			postgres.WithUsername("harness"),
			postgres.WithPassword("harness"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(container); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	} else {
		t.Log("using TEST_DATABASE_URL")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))

	require.NoError(t, runMigrations(db, "harness_test"))

	client := NewClientFromDB(db)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
