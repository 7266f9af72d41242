// Package store implements the persistent form-history record store:
// schema migration, validated batched writes committed as single
// transactions, predicate search, frecency-ranked autocomplete, and
// retention-based expiry.
//
// All storage access funnels through one Store, which owns the connection,
// the compiled-statement cache and the notifier. Writes are serialized
// FIFO at batch granularity by the change processor; reads go straight to
// the connection.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/mattn/go-sqlite3"

	"github.com/formhist/formhist/internal/history"
)

//go:embed schema.sql
var schemaSQL string

// Store is the form-history record store over a single SQLite database.
type Store struct {
	db       *sql.DB
	path     string
	cache    *stmtCache
	notifier *Notifier
	clock    history.Clock
	guids    history.GUIDGenerator
	proc     *Processor

	// compact runs the post-expiry compaction pass. Overridable in tests.
	compact func(context.Context) error
}

// Options injects the store's collaborators. Zero fields fall back to the
// production implementations.
type Options struct {
	Clock history.Clock
	GUIDs history.GUIDGenerator
}

// Open creates or opens the database at path, migrates its schema and
// starts the change processor.
//
// The connection is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - a single-connection pool (SQLite supports one writer at a time)
//
// A CorruptedSchema verdict during migration triggers local recovery: the
// existing file is moved aside to path + ".corrupt" and a fresh database
// is created in its place. Recovery is logged, not surfaced.
func Open(path string, opts Options) (*Store, error) {
	db, err := openAndMigrate(path)
	if err != nil {
		if !history.IsCorruptedSchema(err) {
			return nil, err
		}
		slog.Warn("form history schema unusable, recreating database",
			"path", path,
			"error", err,
		)
		if err := backupCorrupt(path); err != nil {
			return nil, err
		}
		db, err = openAndMigrate(path)
		if err != nil {
			return nil, err
		}
	}

	s := &Store{
		db:       db,
		path:     path,
		cache:    newStmtCache(db),
		notifier: NewNotifier(),
		clock:    opts.Clock,
		guids:    opts.GUIDs,
	}
	if s.clock == nil {
		s.clock = history.SystemClock{}
	}
	if s.guids == nil {
		s.guids = history.UUIDv7Generator{}
	}
	s.compact = s.vacuum

	s.proc = newProcessor(s)
	go s.proc.run()

	return s, nil
}

// openAndMigrate opens the database file, applies pragmas and ensures the
// schema matches the current version.
func openAndMigrate(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// Single writer avoids SQLITE_BUSY churn; reads still overlap via WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := ensureInitialized(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// backupCorrupt moves an unusable database aside, replacing any previous
// backup. The sidecar keeps the user's data recoverable by hand.
func backupCorrupt(path string) error {
	backup := path + ".corrupt"
	if err := os.Remove(backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale backup: %w", err)
	}
	if err := os.Rename(path, backup); err != nil {
		return fmt.Errorf("back up corrupt database: %w", err)
	}
	slog.Info("corrupt form history database backed up", "backup", backup)
	return nil
}

// Notifier exposes the store's event bus for subscription.
func (s *Store) Notifier() *Notifier { return s.notifier }

// Processor exposes the change processor for submitting write batches.
func (s *Store) Processor() *Processor { return s.proc }

// Shutdown drains the change processor, emits the shutdown notification,
// finalizes all cached statements and closes the connection. The context
// bounds the drain; a cancelled context abandons queued batches.
func (s *Store) Shutdown(ctx context.Context) error {
	drainErr := s.proc.close(ctx)

	s.notifier.publish(Event{Name: EventShutdown})

	if err := s.cache.closeAll(); err != nil {
		slog.Warn("finalizing cached statements", "error", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return drainErr
}

// vacuum is the production compaction pass.
func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}
