package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/umputun/nanoledger/app/common"
	"github.com/umputun/nanoledger/app/store/enums"
)

// FileName is the name of the database file inside the data directory
const FileName = "nanoledger.db"

// Store is the single process-wide handle to the ledger database
type Store struct {
	db   *sqlx.DB
	lock chan struct{} // capacity 1, held for the whole logical operation
	path string
}

// Open makes the directory if needed, opens (or creates) the database file in it,
// switches it to WAL mode and creates the schema. Safe to call on every startup.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: failed to make data directory %s: %w", common.ErrIO, dir, err)
	}
	path := filepath.Join(dir, FileName)

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", common.ErrStorage, err)
	}
	// single connection, all access is serialized by the lock anyway and pragmas stick to the connection
	db.SetMaxOpenConns(1)

	s := &Store{db: db, lock: make(chan struct{}, 1), path: path}

	pragmas := []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, s.closeOnErr(fmt.Errorf("%w: failed to set %q: %w", common.ErrStorage, p, err))
		}
	}

	if err := s.initialize(); err != nil {
		return nil, s.closeOnErr(err)
	}
	log.Printf("[DEBUG] store opened at %s", path)
	return s, nil
}

// initialize creates the database schema
func (s *Store) initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN (` + inList(enums.JobStatusValues) + `)),
			mode TEXT NOT NULL DEFAULT 'text-to-image' CHECK (mode IN (` + inList(enums.ModeValues) + `)),
			prompt TEXT NOT NULL,
			output_size TEXT NOT NULL DEFAULT '1K',
			temperature REAL NOT NULL DEFAULT 1,
			aspect_ratio TEXT NOT NULL DEFAULT '1:1',
			batch_job_name TEXT,
			batch_temp_file TEXT,
			total_items INTEGER NOT NULL DEFAULT 0 CHECK (total_items >= 0),
			completed_items INTEGER NOT NULL DEFAULT 0 CHECK (completed_items >= 0),
			failed_items INTEGER NOT NULL DEFAULT 0 CHECK (failed_items >= 0),
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			CHECK (completed_items + failed_items <= total_items)
		)`,
		`CREATE TABLE IF NOT EXISTS job_items (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			input_prompt TEXT,
			input_image_path TEXT,
			output_image_path TEXT,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN (` + inList(enums.ItemStatusValues) + `)),
			error TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_items_job_id ON job_items(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_job_items_status ON job_items(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("%w: failed to execute schema query: %w", common.ErrStorage, err)
		}
	}
	return nil
}

// Do runs fn under the store lock. Use it for single statements and read-only sequences.
func (s *Store) Do(ctx context.Context, fn func(q sqlx.ExtContext) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return storageErr(fn(s.db))
}

// Tx runs fn in an explicit transaction under the store lock.
// Any error returned by fn rolls the transaction back, nil commits it.
func (s *Store) Tx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", common.ErrStorage, err)
	}
	defer tx.Rollback() // nolint errcheck, no-op after commit

	if err := fn(tx); err != nil {
		return storageErr(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %w", common.ErrStorage, err)
	}
	return nil
}

// Path returns location of the database file
func (s *Store) Path() string { return s.path }

// Close closes the database. It waits for the operation in flight, if any.
func (s *Store) Close() error {
	s.lock <- struct{}{}
	defer s.release()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: failed to close database: %w", common.ErrStorage, err)
	}
	return nil
}

// Now returns the timestamp used for created_at/updated_at columns, unix milliseconds
func Now() int64 {
	return time.Now().UnixMilli()
}

func (s *Store) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrLock, err)
	}
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", common.ErrLock, ctx.Err())
	}
}

func (s *Store) release() { <-s.lock }

func (s *Store) closeOnErr(err error) error {
	if closeErr := s.db.Close(); closeErr != nil {
		return fmt.Errorf("%w (also failed to close db: %v)", err, closeErr)
	}
	return err
}

// storageErr marks errors coming from the driver as storage errors, errors of known kinds pass as is
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if common.KindOf(err) != common.KindUnknown {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrStorage, err)
}

// inList renders enum values as a quoted SQL list for CHECK constraints
func inList[T fmt.Stringer](values []T) string {
	res := make([]string, 0, len(values))
	for _, v := range values {
		res = append(res, "'"+v.String()+"'")
	}
	return strings.Join(res, ", ")
}
