package db

import (
	"os"
	"path/filepath"
	"testing"
)

// openTestDB opens a migrated database in a temp directory.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	migrator := NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	return database
}

// TestOpen_CreatesDataDir verifies the data directory is created.
func TestOpen_CreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	database, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer database.Close()

	if _, err := os.Stat(filepath.Join(dir, "creel.db")); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}

// TestOpen_WALMode verifies WAL journaling is active.
func TestOpen_WALMode(t *testing.T) {
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer database.Close()

	var mode string
	if err := database.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode query error = %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want 'wal'", mode)
	}
}

// TestOpen_ForeignKeys verifies foreign key enforcement is on.
func TestOpen_ForeignKeys(t *testing.T) {
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer database.Close()

	var enabled int
	if err := database.QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
		t.Fatalf("foreign_keys query error = %v", err)
	}
	if enabled != 1 {
		t.Error("foreign_keys should be enabled")
	}
}
