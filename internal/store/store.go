package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// pragmas are applied to every connection on Open.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// migrations[i] upgrades a database from user_version i to i+1. schema.sql
// always describes the latest version, so a migration must tolerate running
// against tables it already created.
var migrations = []func(tx *sql.Tx) error{
	addDecisionPolicy,
}

// currentSchemaVersion is the user_version of a fully migrated database.
var currentSchemaVersion = len(migrations)

// Store is the SQLite-backed template store and decision log.
//
// A single connection is kept open: SQLite has one writer, and template
// lookup-or-create relies on transactions never interleaving.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path (":memory:" for a private
// in-memory database) and brings its schema up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initialize(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func initialize(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return migrate(db)
}

// migrate runs every migration above the stored user_version, each in its
// own transaction together with the version bump.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if err := migrations[v](tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: set user_version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: commit: %w", v+1, err)
		}
	}
	return nil
}

// addDecisionPolicy adds decisions.policy to databases created before the
// column existed.
func addDecisionPolicy(tx *sql.Tx) error {
	var count int
	err := tx.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('decisions') WHERE name = 'policy'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("inspect decisions: %w", err)
	}
	if count > 0 {
		return nil
	}
	_, err = tx.Exec(`ALTER TABLE decisions ADD COLUMN policy TEXT NOT NULL DEFAULT ''`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the connection for tests and ad-hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Traces returns the names of every trace with templates or decisions.
func (s *Store) Traces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace FROM templates
		UNION
		SELECT trace FROM decisions WHERE trace != ''
		ORDER BY trace COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	traces := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		traces = append(traces, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traces: %w", err)
	}
	return traces, nil
}

// pragma reads the current value of a pragma.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return value, nil
}
