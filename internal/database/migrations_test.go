package database

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	return db
}

func TestCreateMigrationsTable(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := createMigrationsTable(db); err != nil {
		t.Fatalf("failed to create migrations table: %v", err)
	}

	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='migrations'
	`).Scan(&count)
	if err != nil {
		t.Fatalf("failed to query migrations table: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 migrations table, got %d", count)
	}
}

func TestRecordAndHasMigrationRun(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := createMigrationsTable(db); err != nil {
		t.Fatalf("failed to create migrations table: %v", err)
	}

	hasRun, err := hasMigrationRun(db, "nonexistent")
	if err != nil {
		t.Fatalf("failed to check migration: %v", err)
	}
	if hasRun {
		t.Error("expected hasRun to be false for nonexistent migration")
	}

	if err := recordMigration(db, "test_migration", 1); err != nil {
		t.Fatalf("failed to record migration: %v", err)
	}

	var name string
	var batch int
	err = db.QueryRow(`SELECT migration, batch FROM migrations WHERE migration = ?`, "test_migration").Scan(&name, &batch)
	if err != nil {
		t.Fatalf("failed to query migration: %v", err)
	}
	if name != "test_migration" || batch != 1 {
		t.Errorf("unexpected migration row %q batch %d", name, batch)
	}

	hasRun, err = hasMigrationRun(db, "test_migration")
	if err != nil {
		t.Fatalf("failed to check migration: %v", err)
	}
	if !hasRun {
		t.Error("expected hasRun to be true for existing migration")
	}
}

func TestRunMigrations(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := runMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	for _, table := range []string{"execution_history", "migrations"} {
		var count int
		err := db.QueryRow(`
			SELECT COUNT(*) FROM sqlite_master
			WHERE type='table' AND name=?
		`, table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}

	exists, err := columnExists(db, "execution_history", "finalized_by")
	if err != nil {
		t.Fatalf("failed to check finalized_by column: %v", err)
	}
	if !exists {
		t.Error("expected finalized_by column after migrations")
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := runMigrations(db); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := runMigrations(db); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM migrations`).Scan(&count); err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d recorded migrations, got %d", len(migrations), count)
	}
}

func TestAddHistoryFinalizedByColumn_ExistingTable(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.Exec(`
		CREATE TABLE execution_history (
			id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		t.Fatalf("failed to create old history table: %v", err)
	}
	_, err = db.Exec(`
		INSERT INTO execution_history (id, target, kind, status, started_at, ended_at)
		VALUES ('exec-1', 'web-1', 'start-agent', 'SUCCESS', '2026-01-01 00:00:00', '2026-01-01 00:00:05')
	`)
	if err != nil {
		t.Fatalf("failed to insert old row: %v", err)
	}

	if err := addHistoryFinalizedByColumn(db); err != nil {
		t.Fatalf("failed to add finalized_by column: %v", err)
	}
	// second call is a no-op
	if err := addHistoryFinalizedByColumn(db); err != nil {
		t.Fatalf("expected second call to be a no-op: %v", err)
	}

	var finalizedBy string
	if err := db.QueryRow(`SELECT finalized_by FROM execution_history WHERE id = 'exec-1'`).Scan(&finalizedBy); err != nil {
		t.Fatalf("failed to query migrated row: %v", err)
	}
	if finalizedBy != "" {
		t.Errorf("expected empty default finalized_by, got %q", finalizedBy)
	}
}

func TestNew_Memory(t *testing.T) {
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open memory database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
}

func TestNew_CreatesDirectory(t *testing.T) {
	path := t.TempDir() + "/nested/history.db"
	db, err := New(path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
}
