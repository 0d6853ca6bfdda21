package platform

import (
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening in-memory sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeMigration(t *testing.T, dir, name, sql string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o644); err != nil {
		t.Fatalf("writing migration %s: %v", name, err)
	}
}

func TestRunMigrations_AppliesInOrder(t *testing.T) {
	db := testDB(t)
	dir := t.TempDir()
	writeMigration(t, dir, "002_add_email.sql", "ALTER TABLE users ADD COLUMN email TEXT;\n")
	writeMigration(t, dir, "001_create_users.sql", "CREATE TABLE users (user_id INTEGER PRIMARY KEY);\n")

	if err := RunMigrations(db, dir, testLogger()); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("querying schema_migrations: %v", err)
	}
	if count != 2 {
		t.Errorf("applied migration count = %d, want 2", count)
	}

	if _, err := db.Exec(`INSERT INTO users (user_id, email) VALUES (1, 'a@b.com')`); err != nil {
		t.Errorf("email column should exist after both migrations: %v", err)
	}
}

func TestRunMigrations_SkipsAlreadyApplied(t *testing.T) {
	db := testDB(t)
	dir := t.TempDir()
	writeMigration(t, dir, "001_create_users.sql", "CREATE TABLE users (user_id INTEGER PRIMARY KEY);\n")

	if err := RunMigrations(db, dir, testLogger()); err != nil {
		t.Fatalf("first run error = %v", err)
	}
	if err := RunMigrations(db, dir, testLogger()); err != nil {
		t.Fatalf("second run error = %v", err)
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count)
	if count != 1 {
		t.Errorf("migration should only be recorded once, got %d", count)
	}
}

func TestRunMigrations_AbortsOnFailure(t *testing.T) {
	db := testDB(t)
	dir := t.TempDir()
	writeMigration(t, dir, "001_bad.sql", "CREATE TABLE users (user_id INTEGER PRIMARY KEY);\nSELECT * FROM nonexistent_table;\n")
	writeMigration(t, dir, "002_never_runs.sql", "CREATE TABLE should_not_exist (id INTEGER);\n")

	if err := RunMigrations(db, dir, testLogger()); err == nil {
		t.Fatal("expected an error from the failing migration")
	}

	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='should_not_exist'`).Scan(&name)
	if err != sql.ErrNoRows {
		t.Error("migration 002 should never have run once 001 failed")
	}
}

func TestRunMigrations_IgnoresUnrecognizedFilenames(t *testing.T) {
	db := testDB(t)
	dir := t.TempDir()
	writeMigration(t, dir, "README.sql", "this is not a migration")
	writeMigration(t, dir, "001_create_users.sql", "CREATE TABLE users (user_id INTEGER PRIMARY KEY);\n")

	if err := RunMigrations(db, dir, testLogger()); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count)
	if count != 1 {
		t.Errorf("only the well-formed migration should be recorded, got %d", count)
	}
}

func TestRunMigrations_MissingDirIsNotAnError(t *testing.T) {
	db := testDB(t)
	if err := RunMigrations(db, filepath.Join(t.TempDir(), "does-not-exist"), testLogger()); err != nil {
		t.Errorf("missing migrations directory should not error, got %v", err)
	}
}

func TestWarnOnDataLoss_NoPanicOnZeroBefore(t *testing.T) {
	warnOnDataLoss(testLogger(), 1, criticalCounts{}, criticalCounts{})
}
