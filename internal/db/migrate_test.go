package db

import (
	"testing"
)

// TestMigrator_Up verifies all migrations apply and report a version.
func TestMigrator_Up(t *testing.T) {
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer database.Close()

	migrator := NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	version, err := migrator.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() error = %v", err)
	}
	if version != len(migrations) {
		t.Errorf("CurrentVersion() = %d, want %d", version, len(migrations))
	}
}

// TestMigrator_UpIdempotent verifies re-running Up applies nothing new.
func TestMigrator_UpIdempotent(t *testing.T) {
	database := openTestDB(t)

	migrator := NewMigrator(database.DB)
	if err := migrator.Up(); err != nil {
		t.Fatalf("second Up() error = %v", err)
	}

	applied, err := migrator.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() error = %v", err)
	}
	if len(applied) != len(migrations) {
		t.Errorf("applied = %d migrations, want %d", len(applied), len(migrations))
	}
}

// TestMigrator_RecordsChecksums verifies each applied migration carries a
// 64-char SHA-256 checksum.
func TestMigrator_RecordsChecksums(t *testing.T) {
	database := openTestDB(t)

	migrator := NewMigrator(database.DB)
	applied, err := migrator.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() error = %v", err)
	}

	for _, mig := range applied {
		if len(mig.Checksum) != 64 {
			t.Errorf("V%d checksum length = %d, want 64", mig.Version, len(mig.Checksum))
		}
		if mig.Description == "" {
			t.Errorf("V%d has empty description", mig.Version)
		}
	}
}

// TestMigrator_CreatesQueueTables verifies the queue durability schema exists.
func TestMigrator_CreatesQueueTables(t *testing.T) {
	database := openTestDB(t)

	for _, table := range []string{"catches", "queue_items", "queue_stats"} {
		var name string
		err := database.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q missing: %v", table, err)
		}
	}

	// Stats row must exist from the start so synced counts survive restart.
	var total int
	if err := database.QueryRow("SELECT synced_total FROM queue_stats WHERE id = 1").Scan(&total); err != nil {
		t.Fatalf("queue_stats row missing: %v", err)
	}
	if total != 0 {
		t.Errorf("synced_total = %d, want 0", total)
	}
}
