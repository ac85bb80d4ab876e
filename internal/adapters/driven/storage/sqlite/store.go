// Package sqlite implements the Knowledge Store and Repository on top of
// modernc.org/sqlite: a single project database file holding sources,
// chunks, a full-text index, per-embedding-model vector tables, and source
// summaries.
package sqlite

import (
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/custodia-labs/foundry-rag/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/foundry-rag/internal/logger"
)

// Store owns the single *sql.DB connection to a project database file and
// runs schema migrations at open time.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the project database at path and
// brings its schema up to date. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	} else {
		dsn = "file::memory:?_pragma=foreign_keys(ON)&cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows only one writer at a time; a single connection makes
	// that explicit instead of relying on busy_timeout to paper over
	// contention between concurrent writer connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migration is one entry of the append-only migration list.
type migration struct {
	version   int
	statement string
}

// migrate executes every migration whose version is not yet recorded in
// schema_migrations, each wrapped in its own transaction, and records the
// application. Running it twice is a no-op.
func (s *Store) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var found []migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(e.Name(), "%d_", &version); err != nil {
			continue
		}
		content, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		found = append(found, migration{version: version, statement: string(content)})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].version < found[j].version })

	applied := map[int]bool{}
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range found {
		if applied[m.version] {
			continue
		}
		logger.Debug("applying migration %d", m.version)
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.statement); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
