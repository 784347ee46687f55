package database

import (
	"database/sql"
	"fmt"
)

type migration struct {
	name string
	up   func(*sql.DB) error
}

func execStatements(stmts ...string) func(*sql.DB) error {
	return func(db *sql.DB) error {
		for _, stmt := range stmts {
			if _, err := db.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

var migrations = []migration{
	{
		name: "create_execution_history",
		up: execStatements(
			`CREATE TABLE IF NOT EXISTS execution_history (
				id TEXT PRIMARY KEY,
				command TEXT,
				target TEXT NOT NULL,
				kind TEXT NOT NULL,
				status TEXT NOT NULL,
				parent_id TEXT,
				result TEXT,
				error TEXT,
				started_at DATETIME NOT NULL,
				ended_at DATETIME NOT NULL,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				archived_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_execution_history_target ON execution_history(target)`,
			`CREATE INDEX IF NOT EXISTS idx_execution_history_ended_at ON execution_history(ended_at)`,
		),
	},
	{
		name: "add_execution_history_finalized_by",
		up:   addHistoryFinalizedByColumn,
	},
	{
		name: "create_execution_history_parent_index",
		up: execStatements(
			`CREATE INDEX IF NOT EXISTS idx_execution_history_parent_id ON execution_history(parent_id)`,
		),
	},
}

func createMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		migration TEXT UNIQUE NOT NULL,
		batch INTEGER NOT NULL,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func hasMigrationRun(db *sql.DB, name string) (bool, error) {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM migrations WHERE migration = ?`, name).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func recordMigration(db *sql.DB, name string, batch int) error {
	_, err := db.Exec(`INSERT INTO migrations (migration, batch) VALUES (?, ?)`, name, batch)
	return err
}

func nextBatch(db *sql.DB) (int, error) {
	var batch sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(batch) FROM migrations`).Scan(&batch); err != nil {
		return 0, err
	}
	return int(batch.Int64) + 1, nil
}

func runMigrations(db *sql.DB) error {
	if err := createMigrationsTable(db); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	batch, err := nextBatch(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		done, err := hasMigrationRun(db, m.name)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		if err := m.up(db); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		if err := recordMigration(db, m.name, batch); err != nil {
			return err
		}
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = ?`, table)
	err := db.QueryRow(query, column).Scan(&count)
	return count > 0, err
}

func addHistoryFinalizedByColumn(db *sql.DB) error {
	exists, err := columnExists(db, "execution_history", "finalized_by")
	if err != nil || exists {
		return err
	}
	_, err = db.Exec(`ALTER TABLE execution_history ADD COLUMN finalized_by TEXT NOT NULL DEFAULT ''`)
	return err
}
