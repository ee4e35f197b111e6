// Package testutil holds Postgres and Redis fixtures for integration tests.
// Tests skip when the backing service is unreachable unless TEST_REQUIRE_INFRA is set.
package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	// Import pgx driver for database/sql compatibility in tests.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Sophanos/saga-sub015/internal/migrate"
)

// TestingTB is the subset of testing.TB the fixtures need; *testing.T and *testing.B satisfy it.
type TestingTB interface {
	Helper()
	Skip(args ...any)
	Skipf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
	Cleanup(func())
}

// TestDBConfig holds the test database coordinates.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig reads TEST_DB_* and falls back to the local compose profile on port 55432.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "saga"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "saga"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "saga"),
	}
}

// DSN builds a pgx connection string, optionally pinned to schema via search_path.
func (c TestDBConfig) DSN(schema string) string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	q := u.Query()
	q.Set("sslmode", getEnvOrDefault("DB_SSL_MODE", "disable"))
	if schema != "" {
		q.Set("search_path", schema+",public")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// sharedTables lists every table tests write to, children before parents.
var sharedTables = []string{
	"notifications",
	"evidence_suggestions",
	"document_digests",
	"project_rules",
	"analysis_jobs",
	"memories",
	"entities",
	"documents",
	"user_entitlements",
}

// WithAutoDB runs fn against a migrated database. Each call gets its own schema, dropped
// afterwards; with TEST_DB_SHARED set, the default schema is used and truncated instead.
func WithAutoDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	cfg := DefaultTestDBConfig()
	admin := openOrSkip(t, cfg.DSN(""))

	if envBool("TEST_DB_SHARED") {
		t.Cleanup(func() { closeAndLog(t, "shared DB", admin) })
		migrateOrFail(t, admin)
		truncateShared(t, admin)
		fn(admin)
		return
	}

	schema := schemaName()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		closeAndLog(t, "admin DB", admin)
		t.Fatalf("create schema %s: %v", schema, err)
	}

	db, err := sql.Open("pgx", cfg.DSN(schema))
	if err != nil {
		closeAndLog(t, "admin DB", admin)
		t.Fatal("open schema DB:", err)
	}
	db.SetMaxOpenConns(10)
	t.Cleanup(func() {
		closeAndLog(t, "schema DB", db)
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dropCancel()
		if _, err := admin.ExecContext(dropCtx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: drop schema %s: %v", schema, err)
		}
		closeAndLog(t, "admin DB", admin)
	})

	migrateOrFail(t, db)
	fn(db)
}

func openOrSkip(t TestingTB, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err != nil {
			closeAndLog(t, "test DB", db)
		}
	}
	if err != nil {
		if requireInfra("TEST_REQUIRE_DB") {
			t.Fatal("test database not available:", err)
		}
		t.Skip("test database not available:", err)
	}
	return db
}

func migrateOrFail(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrate.Run(ctx, db); err != nil {
		t.Fatal("run migrations:", err)
	}
}

func truncateShared(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "TRUNCATE "+strings.Join(sharedTables, ", ")+" CASCADE"); err != nil {
		t.Fatal("truncate test tables:", err)
	}
}

func schemaName() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "t_" + strings.ReplaceAll(time.Now().UTC().Format("150405.000000"), ".", "")
	}
	return "t_" + hex.EncodeToString(b)
}

func closeAndLog(t TestingTB, name string, closer interface{ Close() error }) {
	if err := closer.Close(); err != nil {
		t.Logf("warning: failed to close %s: %v", name, err)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envBool parses common truthy values from env vars.
func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func requireInfra(key string) bool { return envBool(key) || envBool("TEST_REQUIRE_INFRA") }
