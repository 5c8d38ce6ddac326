package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
)

// GCResult contains the outcome of a garbage collection run.
type GCResult struct {
	Scanned      int
	Candidates   int
	Removed      int
	FilesRemoved int
	Orphans      int
}

// Collect removes testing-only builds that were never promoted, are not the
// latest testing build of their title, and are older than the retention
// window. Backing files are deleted before the catalog row, so a failure
// leaves at worst a row pointing at a missing file for Clean to remove.
func (c *Catalog) Collect(ctx context.Context) (*GCResult, error) {
	result := &GCResult{}

	records, err := c.store.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	result.Scanned = len(records)

	latest, err := c.store.FindLatest(models.StateTesting, "")
	if err != nil {
		return nil, fmt.Errorf("find latest testing builds: %w", err)
	}
	keep := make(map[models.RecordKey]bool, len(latest))
	for _, rec := range latest {
		keep[rec.Key()] = true
	}

	cutoff := models.FormatTimestamp(c.opts.Now().Add(-c.opts.Retention))

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if rec.IsOrphaned() {
			if err := c.store.Remove(rec); err != nil {
				c.logger.Warn("gc: failed to remove orphaned entry", "key", rec.Key().String(), "error", err)
				continue
			}
			result.Orphans++
			continue
		}

		if rec.State.Len() != 1 || !rec.State.Has(models.StateTesting) {
			continue
		}
		result.Candidates++

		if keep[rec.Key()] || rec.BuildTime > cutoff {
			continue
		}

		removed, ok := c.removeFiles(rec)
		result.FilesRemoved += removed
		if !ok {
			continue
		}

		if err := c.store.Remove(rec); err != nil {
			c.logger.Warn("gc: failed to remove catalog entry", "key", rec.Key().String(), "error", err)
			continue
		}
		c.logger.Debug("gc: removed", "key", rec.Key().String(), "build_time", rec.BuildTime)
		result.Removed++
	}

	c.logger.Info("gc complete",
		"scanned", result.Scanned,
		"candidates", result.Candidates,
		"removed", result.Removed,
		"files_removed", result.FilesRemoved,
		"orphans", result.Orphans,
	)

	return result, nil
}

// removeFiles deletes the record's file or link in every state directory it
// claims. Files already gone are skipped. ok is false if any delete failed.
func (c *Catalog) removeFiles(rec *models.ContentRecord) (removed int, ok bool) {
	ok = true
	for _, state := range rec.State {
		path := c.statePath(rec, state)
		if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("gc: failed to delete package", "path", path, "error", err)
			ok = false
			continue
		}
		removed++
	}
	return removed, ok
}

// GarbageCollect opens the catalog at root, building it first when it did
// not exist, and runs one collection pass.
func GarbageCollect(ctx context.Context, root string, opts Options, logger *slog.Logger) (*GCResult, error) {
	c, existed, err := Open(root, opts, false, logger)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if !existed {
		if _, err := c.Build(ctx); err != nil {
			return nil, fmt.Errorf("build catalog: %w", err)
		}
	}

	return c.Collect(ctx)
}
