package publish

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketPublished = []byte("published")

// LedgerEntry is the last version of a title published to a bucket
type LedgerEntry struct {
	Version     string    `json:"version"`
	PublishedAt time.Time `json:"published_at"`
}

// Ledger remembers what was last published per (bucket, name) so repeated
// runs skip unchanged titles without asking the bucket.
type Ledger struct {
	db *bolt.DB
}

// OpenLedger opens or creates a bbolt ledger at the given path.
func OpenLedger(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPublished)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger bucket: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close releases the bbolt database.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

func ledgerKey(bucket, name string) []byte {
	return []byte(bucket + "/" + name)
}

// Get returns the entry for (bucket, name); ok is false when nothing was recorded.
func (l *Ledger) Get(bucket, name string) (entry LedgerEntry, ok bool, err error) {
	err = l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPublished).Get(ledgerKey(bucket, name))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &entry)
	})
	return entry, ok, err
}

// Record stores version as the last published for (bucket, name).
func (l *Ledger) Record(bucket, name, version string, at time.Time) error {
	data, err := json.Marshal(LedgerEntry{Version: version, PublishedAt: at.UTC()})
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPublished).Put(ledgerKey(bucket, name), data)
	})
}
