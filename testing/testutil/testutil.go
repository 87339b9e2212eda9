// Package testutil provides helpers for testing code built on occurrent:
// a configurable mock adapter, a fault-injecting adapter, a recording logger and
// helpers for connecting to test infrastructure.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

// Environment variables naming test infrastructure.
const (
	EnvPostgresURL = "TEST_DATABASE_URL"
	EnvMongoURI    = "TEST_MONGODB_URI"
	EnvRedisURL    = "TEST_REDIS_URL"
)

// TestConfig holds configuration for test infrastructure.
type TestConfig struct {
	PostgresURL string
	MongoURI    string
	RedisURL    string
}

// DefaultConfig returns the test configuration from environment variables.
func DefaultConfig() *TestConfig {
	return &TestConfig{
		PostgresURL: os.Getenv(EnvPostgresURL),
		MongoURI:    os.Getenv(EnvMongoURI),
		RedisURL:    os.Getenv(EnvRedisURL),
	}
}

// RequireEnv returns the value of an environment variable or skips the test.
// Integration tests are also skipped in short mode.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set", key)
	}
	return v
}

// PostgresDB returns a database connection for PostgreSQL testing.
// It waits for the database to be ready with retries.
func PostgresDB(ctx context.Context, connStr string) (*sql.DB, error) {
	var db *sql.DB
	var err error

	for i := 0; i < 30; i++ {
		db, err = sql.Open("pgx", connStr)
		if err != nil {
			time.Sleep(time.Second)
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = db.PingContext(pingCtx)
		cancel()

		if err == nil {
			return db, nil
		}
		_ = db.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	return nil, fmt.Errorf("testutil: failed to connect to postgres after retries: %w", err)
}

// CleanupSchema drops a schema and all its objects.
func CleanupSchema(ctx context.Context, db *sql.DB, schema string) error {
	_, err := db.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+pq.QuoteIdentifier(schema)+" CASCADE")
	return err
}

// UniqueName generates a name unique to this test run, usable as a schema,
// database or key prefix.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}
