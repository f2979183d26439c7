package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"testing"

	_ "github.com/lib/pq"

	"github.com/sweepworld/server/internal/config"
)

// TestDatabaseConfig reads TEST_DB_* variables into a database config.
func TestDatabaseConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Host:     envOr("TEST_DB_HOST", "localhost"),
		Port:     intEnvOr("TEST_DB_PORT", 5432),
		User:     envOr("TEST_DB_USER", "postgres"),
		Password: envOr("TEST_DB_PASSWORD", "postgres"),
		Database: envOr("TEST_DB_NAME", "sweepworld_test"),
		SSLMode:  envOr("TEST_DB_SSLMODE", "disable"),
	}
}

// SetupTestDB connects to the test database, creating it on first use, and
// closes it when the test ends. The test is skipped in -short mode or when
// PostgreSQL is unreachable.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}

	cfg := TestDatabaseConfig()
	admin := cfg
	admin.Database = "postgres"

	adminDB, err := sql.Open("postgres", admin.DatabaseURL())
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	defer adminDB.Close()
	if err := adminDB.Ping(); err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}

	if _, err := adminDB.Exec(fmt.Sprintf("CREATE DATABASE %s", cfg.Database)); err != nil {
		t.Logf("Test database creation: %v (may already exist)", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Test database not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func intEnvOr(key string, fallback int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return value
}
