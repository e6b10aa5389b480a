// Package db provides database connection management and operations.
package db

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	apperrors "github.com/waveline-app/core/internal/errors"
)

// DB wraps the sql.DB with Waveline-specific configuration.
type DB struct {
	*sql.DB

	path string
}

// Open opens the local SQLite database and applies pending schema
// migrations. Opening an already-migrated database is a no-op beyond the
// version check, so repeated opens are safe.
//
// The database is opened with:
// - WAL mode for concurrent reads alongside the single writer
// - Foreign key constraints enabled
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to create data directory", err)
	}

	dbPath := filepath.Join(dataDir, "waveline.db")

	// modernc.org/sqlite: pure Go, no CGO
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to open database", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to enable WAL mode", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to enable foreign keys", err)
	}

	migrator := NewMigrator(db)
	if err := migrator.Initialize(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to initialize migrations", err)
	}
	if err := migrator.Up(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to apply migrations", err)
	}

	return &DB{DB: db, path: dbPath}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// Usage is a best-effort estimate of local storage consumption.
type Usage struct {
	UsedBytes  int64 `json:"used_bytes"`
	QuotaBytes int64 `json:"quota_bytes"`
	Known      bool  `json:"known"`
}

// EstimateUsage reports the database size from SQLite page accounting.
// SQLite imposes no quota, so QuotaBytes stays zero with Known marking
// whether the used figure could be computed. Failures degrade to
// Known=false rather than an error.
func (db *DB) EstimateUsage() Usage {
	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count;").Scan(&pageCount); err != nil {
		return Usage{}
	}
	if err := db.QueryRow("PRAGMA page_size;").Scan(&pageSize); err != nil {
		return Usage{}
	}
	return Usage{
		UsedBytes: pageCount * pageSize,
		Known:     true,
	}
}
