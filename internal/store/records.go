package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
)

var (
	// ErrEmptyFilter is returned by FindBy when no filter field is set
	ErrEmptyFilter = errors.New("empty catalog filter")
	// ErrInvalidRecord is returned by Upsert for records that cannot be stored
	ErrInvalidRecord = errors.New("invalid content record")
)

// Filter selects records by exact match; empty fields are ignored
type Filter struct {
	Name    string
	Version string
	Archive string
}

const recordColumns = `r.rowid, r.name, r.version,
	COALESCE(r.builder, ''), COALESCE(r.build_time, 0),
	COALESCE(r.indexer, ''), COALESCE(r.index_time, 0),
	COALESCE(r.archive, '')`

// ReadAll returns every record, most recent version first, then by name
func (s *Store) ReadAll() ([]*models.ContentRecord, error) {
	return s.queryRecords(`
		SELECT ` + recordColumns + `, s.state
		FROM records r
		LEFT JOIN state s ON s.recordId = r.rowid
		ORDER BY CAST(r.version AS INTEGER) DESC, r.name ASC, r.rowid, s.state
	`)
}

// FindBy returns the records matching every non-empty field of f
func (s *Store) FindBy(f Filter) ([]*models.ContentRecord, error) {
	var conds []string
	var args []interface{}
	if f.Name != "" {
		conds = append(conds, "r.name = ?")
		args = append(args, f.Name)
	}
	if f.Version != "" {
		conds = append(conds, "r.version = ?")
		args = append(args, f.Version)
	}
	if f.Archive != "" {
		conds = append(conds, "r.archive = ?")
		args = append(args, filepath.ToSlash(filepath.Clean(f.Archive)))
	}
	if len(conds) == 0 {
		return nil, ErrEmptyFilter
	}

	return s.queryRecords(`
		SELECT `+recordColumns+`, s.state
		FROM records r
		LEFT JOIN state s ON s.recordId = r.rowid
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY CAST(r.version AS INTEGER) DESC, r.name ASC, r.rowid, s.state
	`, args...)
}

// FindLatest returns, for every name carrying state (or only for name when
// given), the highest-version record with that state. The reported state of
// each result is exactly {state}.
func (s *Store) FindLatest(state, name string) ([]*models.ContentRecord, error) {
	query := `
		SELECT ` + recordColumns + `, s.state
		FROM records r
		JOIN state s ON s.recordId = r.rowid AND s.state = ?
		WHERE CAST(r.version AS INTEGER) = (
			SELECT MAX(CAST(r2.version AS INTEGER))
			FROM records r2
			JOIN state s2 ON s2.recordId = r2.rowid
			WHERE s2.state = ? AND r2.name = r.name
		)`
	args := []interface{}{state, state}
	if name != "" {
		query += " AND r.name = ?"
		args = append(args, name)
	}
	query += " ORDER BY r.name ASC, r.rowid"

	recs, err := s.queryRecords(query, args...)
	if err != nil {
		return nil, err
	}

	// equal numeric versions spelled differently ("01" and "1") tie; keep one per name
	latest := recs[:0]
	seen := make(map[string]bool)
	for _, r := range recs {
		if seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		r.State = models.NewStateSet(state)
		latest = append(latest, r)
	}
	return latest, nil
}

// Upsert inserts new records and reconciles state membership. Existing rows
// keep their columns (first writer wins); the incoming state set replaces the
// recorded one. All records are written in one transaction.
func (s *Store) Upsert(records []*models.ContentRecord) error {
	for _, r := range records {
		if err := validateRecord(r); err != nil {
			return err
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		archive := filepath.ToSlash(filepath.Clean(r.Archive))
		if r.Archive == "" {
			archive = ""
		}

		_, err := tx.Exec(`
			INSERT INTO records (name, version, builder, build_time, indexer, index_time, archive)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name, version) DO NOTHING
		`, r.Name, r.Version, r.Builder, r.BuildTime, r.Indexer, r.IndexTime, archive)
		if err != nil {
			return fmt.Errorf("insert %s: %w", r.Key(), err)
		}

		var id int64
		if err := tx.QueryRow(
			"SELECT rowid FROM records WHERE name = ? AND version = ?", r.Name, r.Version,
		).Scan(&id); err != nil {
			return fmt.Errorf("lookup %s: %w", r.Key(), err)
		}

		current, err := recordStates(tx, id)
		if err != nil {
			return fmt.Errorf("states of %s: %w", r.Key(), err)
		}

		for _, st := range r.State {
			if current.Has(st) {
				continue
			}
			if _, err := tx.Exec("INSERT OR IGNORE INTO state (recordId, state) VALUES (?, ?)", id, st); err != nil {
				return fmt.Errorf("add state %s to %s: %w", st, r.Key(), err)
			}
		}
		for _, st := range current {
			if r.State.Has(st) {
				continue
			}
			if _, err := tx.Exec("DELETE FROM state WHERE recordId = ? AND state = ?", id, st); err != nil {
				return fmt.Errorf("drop state %s from %s: %w", st, r.Key(), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Remove deletes a record and all of its states. It never touches the
// filesystem; removing a record that does not exist is a no-op.
func (s *Store) Remove(r *models.ContentRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow("SELECT rowid FROM records WHERE name = ? AND version = ?", r.Name, r.Version).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup %s: %w", r.Key(), err)
	}

	if _, err := tx.Exec("DELETE FROM state WHERE recordId = ?", id); err != nil {
		return fmt.Errorf("delete states of %s: %w", r.Key(), err)
	}
	if _, err := tx.Exec("DELETE FROM records WHERE rowid = ?", id); err != nil {
		return fmt.Errorf("delete %s: %w", r.Key(), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove: %w", err)
	}
	return nil
}

func validateRecord(r *models.ContentRecord) error {
	if r == nil {
		return fmt.Errorf("nil record: %w", ErrInvalidRecord)
	}
	if r.Name == "" {
		return fmt.Errorf("record without name: %w", ErrInvalidRecord)
	}
	if _, err := models.ParseVersion(r.Version); err != nil {
		return fmt.Errorf("%s: %w: %w", r.Key(), ErrInvalidRecord, err)
	}
	if filepath.IsAbs(r.Archive) {
		return fmt.Errorf("%s: archive %q must be relative to the content store: %w", r.Key(), r.Archive, ErrInvalidRecord)
	}
	for _, st := range r.State {
		if st == "" {
			return fmt.Errorf("%s: empty state label: %w", r.Key(), ErrInvalidRecord)
		}
	}
	return nil
}

func recordStates(tx *sql.Tx, id int64) (models.StateSet, error) {
	rows, err := tx.Query("SELECT state FROM state WHERE recordId = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states models.StateSet
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		states.Add(st)
	}
	return states, rows.Err()
}

// queryRecords runs a query selecting recordColumns plus one state column and
// folds consecutive rows of the same record together.
func (s *Store) queryRecords(query string, args ...interface{}) ([]*models.ContentRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	var records []*models.ContentRecord
	var current *models.ContentRecord
	var currentID int64

	for rows.Next() {
		var (
			id    int64
			rec   models.ContentRecord
			state sql.NullString
		)
		if err := rows.Scan(&id, &rec.Name, &rec.Version, &rec.Builder, &rec.BuildTime,
			&rec.Indexer, &rec.IndexTime, &rec.Archive, &state); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		if current == nil || id != currentID {
			rec.Archive = filepath.FromSlash(rec.Archive)
			current = &rec
			currentID = id
			records = append(records, current)
		}
		if state.Valid {
			current.State.Add(state.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog: %w", err)
	}

	return records, nil
}
