// Package sqlite persists the control plane's records and its append-only
// event log in an embedded SQLite database. Mutation goes through a single
// writer lock; reads are concurrent. Schema migrations run idempotently on
// every open, versioned by the meta table's schema_version row.
package sqlite

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver" // registers the "sqlite3" driver
	_ "github.com/ncruces/go-sqlite3/embed"  // embeds the sqlite WASM build

	"github.com/jmoyers/harness-sub014/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the persistent state store. The entity repositories share the
// store's connection and writer lock.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	Directories   *DirectoryRepo
	Repositories  *RepositoryRepo
	Tasks         *TaskRepo
	Conversations *ConversationRepo
	EventLog      *EventLogRepo
}

// Open opens (or creates) the database at path and runs pending migrations.
// Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite supports one writer; a pool of connections only trades lock
	// errors for busy timeouts.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	s.Directories = &DirectoryRepo{store: s}
	s.Repositories = &RepositoryRepo{store: s}
	s.Tasks = &TaskRepo{store: s}
	s.Conversations = &ConversationRepo{store: s}
	s.EventLog = &EventLogRepo{store: s}
	return s, nil
}

// migration is one ordered schema step, parsed from migrations/NNNN_name.up.sql.
type migration struct {
	version int
	name    string
	sql     string
}

func loadMigrations() ([]migration, error) {
	entries, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("globbing migrations: %w", err)
	}
	sort.Strings(entries)

	migrations := make([]migration, 0, len(entries))
	for _, entry := range entries {
		base := strings.TrimSuffix(strings.TrimPrefix(entry, "migrations/"), ".up.sql")
		versionStr, name, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("malformed migration filename: %s", entry)
		}
		version, err := strconv.Atoi(versionStr)
		if err != nil {
			return nil, fmt.Errorf("malformed migration version in %s: %w", entry, err)
		}
		content, err := migrationsFS.ReadFile(entry)
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", entry, err)
		}
		migrations = append(migrations, migration{version: version, name: name, sql: string(content)})
	}
	return migrations, nil
}

// runMigrations applies every migration above the recorded schema_version,
// each in its own transaction, and advances the meta row. Re-running against
// an up-to-date database is a no-op.
func runMigrations(db *sql.DB) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	current := 0
	var versionStr string
	err = db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&versionStr)
	switch {
	case err == nil:
		current, err = strconv.Atoi(versionStr)
		if err != nil {
			return fmt.Errorf("corrupt schema_version %q: %w", versionStr, err)
		}
	case strings.Contains(err.Error(), "no such table"):
		// Fresh database; every migration applies.
	default:
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("applying migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
			strconv.Itoa(m.version),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
		log.Info(log.CatDB, "applied migration", "version", m.version, "name", m.name)
		current = m.version
	}
	return nil
}

// SchemaVersion reads the schema version recorded in the meta table.
func (s *Store) SchemaVersion() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var versionStr string
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&versionStr); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return 0, fmt.Errorf("corrupt schema_version %q: %w", versionStr, err)
	}
	return version, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// withWrite runs fn inside a transaction under the writer lock. A returned
// error rolls the transaction back, so a command failing mid-write leaves
// no partial rows behind.
func (s *Store) withWrite(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
