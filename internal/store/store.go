// Package store is the metadata store: SQLite persistence for modules,
// BO definitions, fields, relations and workflow definitions.
//
// The store exclusively owns metadata rows. It never issues DDL against
// BO data tables; that is the table engine's job.
package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/dynabo/dynabo/internal/errs"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial metadata schema
const currentSchemaVersion = 1

// Store provides durable storage for platform metadata.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB

	// now is swappable for deterministic timestamps in tests.
	now func() time.Time
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the metadata schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY on concurrent writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB. The table, query and workflow
// engines share this handle; the relational store is the platform's
// single synchronization point.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetNow overrides the timestamp source. Test use only.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create metadata tables: %w", err)
	}

	var version int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.Exec(
			"INSERT INTO schema_version (version) VALUES (?)",
			currentSchemaVersion,
		); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version > currentSchemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported %d",
			version, currentSchemaVersion)
	}
	return nil
}

// timestamp renders a time in the canonical storage layout.
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp reads a stored timestamp, tolerating an empty value.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// translateErr maps recognizable SQLite failures onto domain errors so
// callers never have to inspect driver error codes. Unrecognized
// failures pass through as infrastructure errors.
func translateErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%s: %w", op,
				errs.New(errs.KindConflict, errs.CodeDuplicateDef,
					"an entity with this code already exists"))
		}
	}
	return errs.Store(op, err)
}

// joinEnum serializes an enum value set for storage.
func joinEnum(values []string) string {
	return strings.Join(values, "\n")
}

// splitEnum deserializes an enum value set.
func splitEnum(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// notFound builds the standard missing-entity error.
func notFound(what, code string) error {
	return errs.Newf(errs.KindNotFound, errs.CodeNotFound,
		"%s %q not found", what, code).WithValue(code)
}
