package store

import (
	"fmt"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Debug("current schema version", "version", currentVersion)

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE runs (
					id TEXT PRIMARY KEY,
					direction TEXT NOT NULL,
					source TEXT NOT NULL,
					target TEXT NOT NULL,
					tracked INTEGER DEFAULT 0,
					overridden INTEGER DEFAULT 0,
					dropped INTEGER DEFAULT 0,
					failed INTEGER DEFAULT 0,
					total_size INTEGER DEFAULT 0,
					manifest_sha1 TEXT DEFAULT '',
					status TEXT DEFAULT 'running',
					error_message TEXT DEFAULT '',
					start_time DATETIME NOT NULL,
					end_time DATETIME
				);

				CREATE TABLE resolutions (
					sha1 TEXT NOT NULL,
					filename TEXT NOT NULL,
					found BOOLEAN NOT NULL,
					url TEXT DEFAULT '',
					canonical_sha1 TEXT DEFAULT '',
					canonical_sha512 TEXT DEFAULT '',
					size INTEGER DEFAULT 0,
					fetched_at DATETIME NOT NULL,
					PRIMARY KEY(sha1, filename)
				);
			`,
		},
		{
			version: 2,
			sql: `
				CREATE TABLE failed_files (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL,
					path TEXT NOT NULL,
					urls TEXT DEFAULT '',
					expected_sha1 TEXT DEFAULT '',
					error TEXT DEFAULT '',
					failed_at DATETIME NOT NULL,
					FOREIGN KEY(run_id) REFERENCES runs(id)
				);

				CREATE INDEX idx_failed_files_run ON failed_files(run_id);
			`,
		},
	}

	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Debug("running migration", "version", mig.version)

			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	insertSQL := "INSERT INTO migrations (version) VALUES (?)"
	if _, err := tx.Exec(insertSQL, version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
