package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/metadata"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/store"
)

// Build scans every state directory directly under the root and reconciles
// the packages it finds into the catalog. Records already cataloged under the
// same archive path are reused without re-reading their metadata.
func (c *Catalog) Build(ctx context.Context) (map[models.RecordKey]*models.ContentRecord, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("read content store: %w", err)
	}

	found := make(map[models.RecordKey]*models.ContentRecord)
	byArchive := make(map[string]*models.ContentRecord)

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		state := entry.Name()
		if err := models.ValidateState(state, c.opts.States); err != nil {
			c.logger.Warn("skipping directory outside the state allow-list", "dir", state)
			continue
		}

		if err := c.scanState(ctx, state, found, byArchive); err != nil {
			return nil, err
		}
	}

	records := make([]*models.ContentRecord, 0, len(found))
	for _, rec := range found {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		return records[i].Version < records[j].Version
	})

	if err := c.store.Upsert(records); err != nil {
		return nil, fmt.Errorf("update catalog: %w", err)
	}

	c.logger.Info("catalog build complete", "root", c.root, "records", len(found))
	return found, nil
}

// scanState adds one state directory's packages to found
func (c *Catalog) scanState(ctx context.Context, state string, found map[models.RecordKey]*models.ContentRecord, byArchive map[string]*models.ContentRecord) error {
	dir := filepath.Join(c.root, state)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read state directory %s: %w", state, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !strings.Contains(entry.Name(), c.opts.PackageExt) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		rec, err := c.discover(path, byArchive)
		if err != nil {
			c.logger.Warn("skipping package", "path", path, "error", err)
			continue
		}

		if prev, ok := found[rec.Key()]; ok && prev != rec {
			c.logger.Warn("duplicate package for catalog entry",
				"key", rec.Key().String(), "kept", prev.Archive, "ignored", rec.Archive)
			rec = prev
		}
		rec.State.Add(state)
		found[rec.Key()] = rec
		byArchive[rec.Archive] = rec
	}
	return nil
}

// discover returns the record for the package at path, reusing what is
// already known about its real archive.
func (c *Catalog) discover(path string, byArchive map[string]*models.ContentRecord) (*models.ContentRecord, error) {
	// EvalSymlinks resolves relative link targets against the link's directory
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	if !resolvesToFile(target) {
		return nil, errors.New("not a regular file")
	}
	rel, err := c.relative(target)
	if err != nil {
		return nil, err
	}

	if rec, ok := byArchive[rel]; ok {
		return rec, nil
	}

	known, err := c.store.FindBy(store.Filter{Archive: rel})
	if err != nil {
		return nil, err
	}
	if len(known) > 0 {
		return known[0], nil
	}

	rec, err := metadata.Extract(target)
	if err != nil {
		return nil, err
	}
	if rec.Name == "" {
		return nil, errors.New("metadata without a name")
	}
	if _, err := models.ParseVersion(rec.Version); err != nil {
		return nil, err
	}
	rec.Archive = rel
	rec.State = nil
	return rec, nil
}

// Refresh brings an existing catalog back in line with the filesystem by
// cleaning stale entries before rescanning. A fresh catalog is only scanned.
func (c *Catalog) Refresh(ctx context.Context, existed bool) (map[models.RecordKey]*models.ContentRecord, error) {
	if existed {
		if _, err := c.Clean(ctx); err != nil {
			return nil, err
		}
	}
	return c.Build(ctx)
}
