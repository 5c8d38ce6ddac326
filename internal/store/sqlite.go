// Package store provides SQLite-based persistence for the content catalog.
// It maps (name, version) to content metadata and a set of promotion states.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// DatabaseFile is the catalog file name inside the content-store root
	DatabaseFile = "catalog.db"
	// LockFile guards the catalog against concurrent writers
	LockFile = DatabaseFile + ".lock"
)

var (
	// ErrStoreUnavailable is returned when the catalog cannot be opened or created
	ErrStoreUnavailable = errors.New("catalog store unavailable")
	// ErrLocked is returned when another process holds the catalog lock past the timeout
	ErrLocked = errors.New("catalog is locked by another process")
)

// Options configures how the catalog is opened
type Options struct {
	// ReadOnly takes a shared lock and refuses to create a missing catalog
	ReadOnly bool
	// LockTimeout bounds the wait for the advisory lock; zero fails immediately
	LockTimeout time.Duration
}

// Store represents the SQLite catalog store
type Store struct {
	db   *sql.DB
	root string
	lock *fileLock
}

// Open opens the catalog at <root>/catalog.db, creating the schema if it is
// missing. existed reports whether the database file was already present;
// callers use it to decide whether a full rebuild is needed.
func Open(root string, opts Options) (st *Store, existed bool, err error) {
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, false, fmt.Errorf("resolve content store: %v: %w", err, ErrStoreUnavailable)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, false, fmt.Errorf("content store %s: %v: %w", root, err, ErrStoreUnavailable)
	}
	if !info.IsDir() {
		return nil, false, fmt.Errorf("content store %s is not a directory: %w", root, ErrStoreUnavailable)
	}

	lock, err := acquireLock(filepath.Join(root, LockFile), opts.ReadOnly, opts.LockTimeout)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			lock.release()
		}
	}()

	dbPath := filepath.Join(root, DatabaseFile)
	if _, statErr := os.Stat(dbPath); statErr == nil {
		existed = true
	}
	if !existed && opts.ReadOnly {
		return nil, false, fmt.Errorf("no catalog at %s: %w", dbPath, ErrStoreUnavailable)
	}

	s, err := New(dbPath)
	if err != nil {
		return nil, false, err
	}
	s.root = root
	s.lock = lock

	if !opts.ReadOnly {
		if err := s.Initialize(); err != nil {
			s.db.Close()
			return nil, false, fmt.Errorf("%v: %w", err, ErrStoreUnavailable)
		}
		if err := s.RunMigrations(); err != nil {
			s.db.Close()
			return nil, false, fmt.Errorf("migrate catalog: %v: %w", err, ErrStoreUnavailable)
		}
	}

	return s, existed, nil
}

// New opens a database connection without locking or schema setup
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v: %w", err, ErrStoreUnavailable)
	}
	// one connection keeps every transaction on the same sqlite handle
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %v: %w", err, ErrStoreUnavailable)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection and releases the lock
func (s *Store) Close() error {
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	if s.lock != nil {
		if lerr := s.lock.release(); err == nil {
			err = lerr
		}
		s.lock = nil
	}
	return err
}

// Root returns the absolute content-store root the catalog was opened for
func (s *Store) Root() string {
	return s.root
}

// Initialize creates the database schema
func (s *Store) Initialize() error {
	schema := `
	-- One row per (name, version)
	CREATE TABLE IF NOT EXISTS records (
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		builder TEXT,
		build_time INTEGER,
		indexer TEXT,
		index_time INTEGER,
		archive TEXT,
		PRIMARY KEY (name, version)
	);

	-- Promotion states, keyed by records.rowid
	CREATE TABLE IF NOT EXISTS state (
		recordId INTEGER NOT NULL,
		state TEXT NOT NULL,
		PRIMARY KEY (recordId, state)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
