// Package sqlite is the relational storage tier: projects, sessions,
// API keys, quota counters and conversation logs all live in one
// SQLite database opened in WAL mode. Schema changes ship as embedded
// migrations applied on open.
package sqlite

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/answerdhq/answerd/internal/apikey"
	"github.com/answerdhq/answerd/internal/conversation"
	"github.com/answerdhq/answerd/internal/project"
	"github.com/answerdhq/answerd/internal/quota"
	"github.com/answerdhq/answerd/internal/session"
	"github.com/answerdhq/answerd/internal/storage/sqlite/migrations"
)

// Store owns the database handle and hands out the typed store views.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path and applies pending
// migrations. An empty path defaults to ~/.local/share/answerd/answerd.db.
// The special path ":memory:" opens an in-memory database for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, ".local", "share", "answerd", "answerd.db")
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for components that share the database,
// such as the sqlite vector backend.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Projects returns the project store view.
func (s *Store) Projects() project.Store {
	return &projectStore{db: s.db}
}

// Sessions returns the session store view.
func (s *Store) Sessions() session.Store {
	return &sessionStore{db: s.db}
}

// APIKeys returns the API key store view.
func (s *Store) APIKeys() apikey.Store {
	return &apiKeyStore{db: s.db}
}

// QuotaCounters returns the quota counter store view.
func (s *Store) QuotaCounters() quota.CounterStore {
	return &quotaStore{db: s.db}
}

// Conversations returns the conversation log view.
func (s *Store) Conversations() conversation.Log {
	return &conversationLog{db: s.db}
}

// migrate applies pending .up.sql migrations in version order.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}
