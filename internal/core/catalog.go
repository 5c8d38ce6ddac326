// Package core implements the content catalog engine: scanning a content
// store into the catalog, checking recorded states against the filesystem,
// garbage collection, and promotion of packages between states.
package core

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/store"
)

var (
	// ErrNotFound is returned when no record matches a (name, version) lookup
	ErrNotFound = errors.New("content not found in catalog")
	// ErrArchiveMissing is returned when a record's backing file is gone
	ErrArchiveMissing = errors.New("content archive missing")
	// ErrExists is returned when a target path is occupied by something else
	ErrExists = errors.New("content already exists")
)

// DefaultRetention is how long never-promoted testing builds are kept
const DefaultRetention = 48 * time.Hour

// DefaultPackageExt is the marker identifying package files in state directories
const DefaultPackageExt = ".tgz"

// CatalogStore is the persistence the catalog engine needs
type CatalogStore interface {
	ReadAll() ([]*models.ContentRecord, error)
	Upsert(records []*models.ContentRecord) error
	FindBy(f store.Filter) ([]*models.ContentRecord, error)
	FindLatest(state, name string) ([]*models.ContentRecord, error)
	Remove(r *models.ContentRecord) error
}

// Options configures a Catalog
type Options struct {
	// States is the allow-list of promotion states; empty means models.DefaultStates
	States []string
	// Retention is the minimum age before a testing-only build can be collected
	Retention time.Duration
	// PackageExt marks package files during a scan
	PackageExt string
	// LockTimeout bounds the wait for the catalog lock in Open
	LockTimeout time.Duration
	// Now returns the current time; nil means time.Now
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if len(o.States) == 0 {
		o.States = models.DefaultStates
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.PackageExt == "" {
		o.PackageExt = DefaultPackageExt
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Catalog binds a catalog store to the content-store root it describes
type Catalog struct {
	store  CatalogStore
	root   string
	opts   Options
	logger *slog.Logger
	closer func() error
}

// New creates a Catalog over an already opened store.
func New(st CatalogStore, root string, opts Options, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve content store: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve content store: %w", err)
	}

	return &Catalog{
		store:  st,
		root:   resolved,
		opts:   opts.withDefaults(),
		logger: logger,
	}, nil
}

// Open opens the catalog of the content store at root. existed is false when
// the catalog file was created by this call, in which case callers should run
// Build before relying on its contents.
func Open(root string, opts Options, readOnly bool, logger *slog.Logger) (*Catalog, bool, error) {
	st, existed, err := store.Open(root, store.Options{ReadOnly: readOnly, LockTimeout: opts.LockTimeout})
	if err != nil {
		return nil, false, err
	}

	c, err := New(st, root, opts, logger)
	if err != nil {
		st.Close()
		return nil, false, err
	}
	c.closer = st.Close
	return c, existed, nil
}

// Close releases the store when the catalog was created by Open
func (c *Catalog) Close() error {
	if c.closer == nil {
		return nil
	}
	err := c.closer()
	c.closer = nil
	return err
}

// Root returns the resolved content-store root
func (c *Catalog) Root() string {
	return c.root
}

// States returns the configured allow-list
func (c *Catalog) States() []string {
	return c.opts.States
}

// ArchivePath returns the absolute path of a record's backing file
func (c *Catalog) ArchivePath(rec *models.ContentRecord) string {
	return filepath.Join(c.root, rec.Archive)
}

// statePath returns where a record's file lives (or is linked) for a state
func (c *Catalog) statePath(rec *models.ContentRecord, state string) string {
	return filepath.Join(c.root, state, rec.ArchiveBase())
}

// relative converts an absolute path under the root to a root-relative one.
// Paths outside the root are rejected.
func (c *Catalog) relative(path string) (string, error) {
	rel, err := filepath.Rel(c.root, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the content store %s", path, c.root)
	}
	return rel, nil
}

// resolvesToFile reports whether path (following symlinks) is a regular file
func resolvesToFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
