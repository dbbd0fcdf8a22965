// Package testutil provides the one shared fixture every storage- and
// service-level integration test needs: a real, migrated Postgres
// instance. No mocking library exists anywhere in this module's
// dependency graph for the locking and RETURNING-based semantics the
// storage layer relies on, so tests run against the genuine thing
// instead of a fake.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/shopmindai/chatcore/internal/storage"
)

// PostgresFixture wraps a running Postgres testcontainer, migrated to
// the current schema, plus the *sql.DB the tests under it drive.
type PostgresFixture struct {
	DB *sql.DB
}

// NewPostgresFixture starts a Postgres container, opens a pool against
// it, and applies every migration under migrationsPath. The container
// and pool are torn down automatically at test cleanup.
func NewPostgresFixture(t *testing.T, migrationsPath string) *PostgresFixture {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("chatcore_test"),
		postgres.WithUsername("chatcore"),
		postgres.WithPassword("chatcore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("testutil: start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("testutil: terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("testutil: connection string: %v", err)
	}

	db, err := storage.Open(ctx, storage.Config{DSN: dsn})
	if err != nil {
		t.Fatalf("testutil: open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := storage.Migrate(db, migrationsPath); err != nil {
		t.Fatalf("testutil: apply migrations: %v", err)
	}

	return &PostgresFixture{DB: db}
}

// Truncate clears every table between test cases so they can share one
// container without cross-contaminating rows.
func (f *PostgresFixture) Truncate(t *testing.T) {
	t.Helper()
	tables := []string{
		"outbox_events",
		"messages",
		"conversation_member_roles",
		"role_permissions",
		"conversation_roles",
		"conversation_members",
		"conversation_counters",
		"conversations",
		"group_creation_claims",
		"chat_groups",
		"direct_pairs",
		"friendships",
		"user_credentials",
		"users",
	}
	for _, table := range tables {
		if _, err := f.DB.Exec(fmt.Sprintf("TRUNCATE %s CASCADE", table)); err != nil {
			t.Fatalf("testutil: truncate %s: %v", table, err)
		}
	}
}
