// Package models defines the core data structures used throughout contentctl
// including content records, promotion states, and version tokens.
package models

import "path/filepath"

// ContentRecord represents one build of one content title in the catalog.
// (Name, Version) is the identity; Archive is relative to the content-store root.
type ContentRecord struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Builder   string   `json:"builder"`
	BuildTime int64    `json:"build_time"`
	Indexer   string   `json:"indexer"`
	IndexTime int64    `json:"index_time"`
	Archive   string   `json:"archive,omitempty"`
	State     StateSet `json:"state,omitempty"`
}

// RecordKey identifies a record by name and version
type RecordKey struct {
	Name    string
	Version string
}

// String returns "name@version"
func (k RecordKey) String() string {
	return k.Name + "@" + k.Version
}

// Key returns the identity of the record
func (r *ContentRecord) Key() RecordKey {
	return RecordKey{Name: r.Name, Version: r.Version}
}

// Clone returns a deep copy of the record
func (r *ContentRecord) Clone() *ContentRecord {
	c := *r
	c.State = r.State.Clone()
	return &c
}

// ArchiveBase returns the file name of the backing artifact
func (r *ContentRecord) ArchiveBase() string {
	return filepath.Base(r.Archive)
}

// HomeState returns the state implied by the archive's parent directory.
// Archives live directly under <root>/<state>/, so this is the first path element.
func (r *ContentRecord) HomeState() string {
	dir := filepath.Dir(filepath.Clean(r.Archive))
	if dir == "." || dir == string(filepath.Separator) {
		return ""
	}
	return filepath.Base(dir)
}

// IsOrphaned reports whether no consumer can reach the record by state
func (r *ContentRecord) IsOrphaned() bool {
	return r.State.Len() == 0
}
