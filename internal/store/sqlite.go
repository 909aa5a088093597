// Package store persists run history, the registry resolution cache, and
// per-file transfer failures in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps ":memory:" databases coherent and serializes
	// writes from concurrent resolver workers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// Run Operations
// ============================================================================

// CreateRun inserts a new Run, assigning an ID when it has none
func (s *Store) CreateRun(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	const query = `
		INSERT INTO runs (
			id, direction, source, target, tracked, overridden, dropped, failed,
			total_size, manifest_sha1, status, error_message, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(
		query,
		run.ID, run.Direction, run.Source, run.Target, run.Tracked, run.Overridden,
		run.Dropped, run.Failed, run.TotalSize, run.ManifestSHA1, run.Status,
		run.ErrorMessage, run.StartTime, run.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// UpdateRun updates an existing Run by ID
func (s *Store) UpdateRun(run *Run) error {
	const query = `
		UPDATE runs SET
			direction = ?, source = ?, target = ?, tracked = ?, overridden = ?,
			dropped = ?, failed = ?, total_size = ?, manifest_sha1 = ?, status = ?,
			error_message = ?, start_time = ?, end_time = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.Direction, run.Source, run.Target, run.Tracked, run.Overridden,
		run.Dropped, run.Failed, run.TotalSize, run.ManifestSHA1, run.Status,
		run.ErrorMessage, run.StartTime, run.EndTime, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

const runColumns = `
	id, direction, source, target, tracked, overridden, dropped, failed,
	total_size, manifest_sha1, status, error_message, start_time, end_time
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID, &run.Direction, &run.Source, &run.Target, &run.Tracked,
		&run.Overridden, &run.Dropped, &run.Failed, &run.TotalSize,
		&run.ManifestSHA1, &run.Status, &run.ErrorMessage, &run.StartTime, &run.EndTime,
	)
	return run, err
}

// GetRun retrieves a Run by ID
func (s *Store) GetRun(id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves Runs newest first, optionally filtered by direction
func (s *Store) ListRuns(direction string, limit int) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs"
	var args []any

	if direction != "" {
		query += " WHERE direction = ?"
		args = append(args, direction)
	}

	query += " ORDER BY start_time DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// ============================================================================
// Resolution Cache Operations
// ============================================================================

// PutResolution inserts or replaces a cached Resolution
func (s *Store) PutResolution(rec *Resolution) error {
	const query = `
		INSERT OR REPLACE INTO resolutions (
			sha1, filename, found, url, canonical_sha1, canonical_sha512, size, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(
		query,
		rec.SHA1, rec.Filename, rec.Found, rec.URL, rec.CanonicalSHA1,
		rec.CanonicalSHA512, rec.Size, rec.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert resolution: %w", err)
	}
	return nil
}

// GetResolution returns the cached Resolution, or nil if none exists
func (s *Store) GetResolution(sha1, filename string) (*Resolution, error) {
	const query = `
		SELECT sha1, filename, found, url, canonical_sha1, canonical_sha512, size, fetched_at
		FROM resolutions WHERE sha1 = ? AND filename = ?
	`

	rec := &Resolution{}
	err := s.db.QueryRow(query, sha1, filename).Scan(
		&rec.SHA1, &rec.Filename, &rec.Found, &rec.URL, &rec.CanonicalSHA1,
		&rec.CanonicalSHA512, &rec.Size, &rec.FetchedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query resolution: %w", err)
	}
	return rec, nil
}

// PurgeResolutions deletes cached resolutions fetched before cutoff. A zero
// cutoff deletes everything. It returns the number of rows removed.
func (s *Store) PurgeResolutions(cutoff time.Time) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	if cutoff.IsZero() {
		result, err = s.db.Exec("DELETE FROM resolutions")
	} else {
		result, err = s.db.Exec("DELETE FROM resolutions WHERE fetched_at < ?", cutoff)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to purge resolutions: %w", err)
	}
	return result.RowsAffected()
}

// CountResolutions returns the number of cached resolutions
func (s *Store) CountResolutions() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM resolutions").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count resolutions: %w", err)
	}
	return count, nil
}

// ============================================================================
// FailedFile Operations
// ============================================================================

// AddFailedFile inserts a new FailedFile and sets its ID
func (s *Store) AddFailedFile(rec *FailedFile) error {
	const query = `
		INSERT INTO failed_files (run_id, path, urls, expected_sha1, error, failed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		rec.RunID, rec.Path, strings.Join(rec.URLs, "\n"), rec.ExpectedSHA1,
		rec.Error, rec.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert failed file: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rec.ID = id
	return nil
}

// ListFailedFiles retrieves all FailedFiles for a run ordered by path
func (s *Store) ListFailedFiles(runID string) ([]FailedFile, error) {
	const query = `
		SELECT id, run_id, path, urls, expected_sha1, error, failed_at
		FROM failed_files WHERE run_id = ? ORDER BY path
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed files: %w", err)
	}
	defer rows.Close()

	var records []FailedFile
	for rows.Next() {
		var rec FailedFile
		var urls string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Path, &urls, &rec.ExpectedSHA1, &rec.Error, &rec.FailedAt); err != nil {
			return nil, fmt.Errorf("failed to scan failed file: %w", err)
		}
		if urls != "" {
			rec.URLs = strings.Split(urls, "\n")
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failed files: %w", err)
	}
	return records, nil
}
