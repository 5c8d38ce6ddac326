package store

import (
	"fmt"
)

// currentSchemaVersion is stored in PRAGMA user_version. Catalogs written by
// the older tooling carry version 0 and only the two base tables.
const currentSchemaVersion = 2

// RunMigrations applies any pending database migrations
func (s *Store) RunMigrations() error {
	version, err := s.getSchemaVersion()
	if err != nil {
		return err
	}

	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return fmt.Errorf("migration to v2 failed: %w", err)
		}
	}

	return s.setSchemaVersion(currentSchemaVersion)
}

// getSchemaVersion returns the current schema version, 0 for legacy catalogs
func (s *Store) getSchemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(version int) error {
	// PRAGMA does not accept bound parameters
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// migrateToV2 adds lookup indexes for archive-path and state queries
func (s *Store) migrateToV2() error {
	migrations := []string{
		`CREATE INDEX IF NOT EXISTS idx_records_archive ON records(archive)`,
		`CREATE INDEX IF NOT EXISTS idx_state_state ON state(state)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}
