// Package library keeps an unpacked content library in sync with packages
// selected from the catalog.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/archive"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/metadata"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
)

// DefaultWorkers is the pool size when Updater.Workers is unset
const DefaultWorkers = 4

// Updater unpacks packages into Library/<name>, replacing older copies.
type Updater struct {
	// Library is the directory holding one unpacked tree per content name
	Library string
	// ContentStore is the root that record archive paths are relative to
	ContentStore string
	Workers      int
	Logger       *slog.Logger
}

// UpdateResult contains the outcome of an update run
type UpdateResult struct {
	Updated []models.RecordKey
	Skipped []models.RecordKey
	Failed  []models.RecordKey
}

type outcome int

const (
	outcomeUpdated outcome = iota
	outcomeSkipped
)

// Update installs every record into the library using a bounded worker pool.
// Per-package failures are logged and reported in the result; only
// cancellation aborts the run.
func (u *Updater) Update(ctx context.Context, records []*models.ContentRecord) (*UpdateResult, error) {
	logger := u.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := u.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	if err := os.MkdirAll(u.Library, 0755); err != nil {
		return nil, fmt.Errorf("create content library: %w", err)
	}

	result := &UpdateResult{}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		// one worker per library directory
		if seen[rec.Name] {
			logger.Warn("skipping second package for the same name", "key", rec.Key().String())
			result.Skipped = append(result.Skipped, rec.Key())
			continue
		}
		seen[rec.Name] = true

		r := rec
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			out, err := u.install(r)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				logger.Warn("update failed", "key", r.Key().String(), "error", err)
				result.Failed = append(result.Failed, r.Key())
			case out == outcomeSkipped:
				logger.Debug("already current", "key", r.Key().String())
				result.Skipped = append(result.Skipped, r.Key())
			default:
				logger.Info("updated", "key", r.Key().String())
				result.Updated = append(result.Updated, r.Key())
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	logger.Info("library update complete",
		"updated", len(result.Updated),
		"skipped", len(result.Skipped),
		"failed", len(result.Failed),
	)
	return result, nil
}

// install unpacks one package into a scoped temp dir inside the library and
// swaps it into place.
func (u *Updater) install(rec *models.ContentRecord) (outcome, error) {
	dest := filepath.Join(u.Library, rec.Name)

	current, err := metadata.ReadVersionFile(dest)
	switch {
	case err == nil && current.Version == rec.Version:
		return outcomeSkipped, nil
	case err != nil && !errors.Is(err, metadata.ErrNoMetadata):
		var merr *metadata.MetadataError
		if !errors.As(err, &merr) {
			return 0, err
		}
		// a corrupt .version is replaced by the new tree
	}

	pkg := rec.Archive
	if !filepath.IsAbs(pkg) {
		pkg = filepath.Join(u.ContentStore, pkg)
	}

	// the temp dir shares a filesystem with dest so the final swap is a rename
	tmp, err := os.MkdirTemp(u.Library, ".update-"+rec.Name+"-")
	if err != nil {
		return 0, fmt.Errorf("create work directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	unpacked := filepath.Join(tmp, "new")
	if err := os.Mkdir(unpacked, 0755); err != nil {
		return 0, err
	}
	if err := archive.Extract(pkg, unpacked); err != nil {
		return 0, fmt.Errorf("extract %s: %w", filepath.Base(pkg), err)
	}

	tree := filepath.Join(unpacked, rec.Name)
	if info, err := os.Stat(tree); err != nil || !info.IsDir() {
		return 0, fmt.Errorf("package %s has no %s/ directory", filepath.Base(pkg), rec.Name)
	}

	if _, err := metadata.ReadVersionFile(tree); errors.Is(err, metadata.ErrNoMetadata) {
		if err := metadata.WriteVersionFile(tree, rec); err != nil {
			return 0, err
		}
	}

	return outcomeUpdated, swap(tree, dest, filepath.Join(tmp, "old"))
}

// swap moves tree to dest, parking any existing dest at old until the new
// tree is in place.
func swap(tree, dest, old string) error {
	hadOld := false
	if _, err := os.Lstat(dest); err == nil {
		if err := os.Rename(dest, old); err != nil {
			return fmt.Errorf("move aside %s: %w", dest, err)
		}
		hadOld = true
	}

	if err := os.Rename(tree, dest); err != nil {
		if hadOld {
			os.Rename(old, dest)
		}
		return fmt.Errorf("install %s: %w", dest, err)
	}
	return nil
}
