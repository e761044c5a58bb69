package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// SnapshotDSN returns the connection string for the integration test
// database. Override with TEST_DATABASE_DSN.
func SnapshotDSN() string {
	if dsn := os.Getenv("TEST_DATABASE_DSN"); dsn != "" {
		return dsn
	}
	return "host=localhost port=5432 user=fetchbot password=fetchbot dbname=fetchbot_test sslmode=disable"
}

// SetupSnapshotDB connects to the integration database and drops any
// leftover snapshot table so the store under test starts from a clean
// slate. The test is skipped when no database is reachable.
func SetupSnapshotDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("postgres", SnapshotDSN())
	if err != nil {
		t.Skipf("Skipping: cannot open test database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Skipping: test database not reachable: %v", err)
	}

	if _, err := db.Exec("DROP TABLE IF EXISTS queued_tasks"); err != nil {
		db.Close()
		t.Fatalf("Failed to reset snapshot table: %v", err)
	}
	return db
}

// CleanupSnapshotDB drops the snapshot table and closes the connection.
func CleanupSnapshotDB(t *testing.T, db *sql.DB) {
	if _, err := db.Exec("DROP TABLE IF EXISTS queued_tasks"); err != nil {
		t.Logf("Warning: failed to drop snapshot table: %v", err)
	}
	db.Close()
}

// CountTasks counts persisted tasks matching a condition.
func CountTasks(t *testing.T, db *sql.DB, condition string) int {
	t.Helper()

	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM queued_tasks WHERE %s", condition)
	if err := db.QueryRow(query).Scan(&count); err != nil {
		t.Fatalf("Failed to count tasks: %v", err)
	}
	return count
}
