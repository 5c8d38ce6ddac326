package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/metadata"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/store"
)

// Lookup returns the record for (name, version) or ErrNotFound
func (c *Catalog) Lookup(_ context.Context, name, version string) (*models.ContentRecord, error) {
	recs, err := c.store.FindBy(store.Filter{Name: name, Version: version})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s@%s: %w", name, version, ErrNotFound)
	}
	return recs[0], nil
}

// Release promotes a cataloged package into dest by linking
// <root>/<dest>/<basename> to its archive with a relative symlink.
// Releasing into a state the package already has is a no-op.
func (c *Catalog) Release(ctx context.Context, name, version, dest string) (*models.ContentRecord, error) {
	if err := models.ValidateState(dest, c.opts.States); err != nil {
		return nil, err
	}

	rec, err := c.Lookup(ctx, name, version)
	if err != nil {
		return nil, err
	}

	archivePath := c.ArchivePath(rec)
	if !resolvesToFile(archivePath) {
		return nil, fmt.Errorf("%s: %s: %w", rec.Key(), rec.Archive, ErrArchiveMissing)
	}

	if err := c.link(archivePath, c.statePath(rec, dest)); err != nil {
		return nil, fmt.Errorf("release %s to %s: %w", rec.Key(), dest, err)
	}

	if rec.State.Add(dest) {
		if err := c.store.Upsert([]*models.ContentRecord{rec}); err != nil {
			return nil, fmt.Errorf("update catalog: %w", err)
		}
	}

	c.logger.Info("released", "key", rec.Key().String(), "state", dest)
	return rec, nil
}

// link points linkPath at target with a path relative to the link's directory
func (c *Catalog) link(target, linkPath string) error {
	if linkPath == target {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(linkPath), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	if _, err := os.Lstat(linkPath); err == nil {
		existing, err := filepath.EvalSymlinks(linkPath)
		if err == nil && existing == target {
			return nil
		}
		return fmt.Errorf("%s: %w", linkPath, ErrExists)
	}

	rel, err := filepath.Rel(filepath.Dir(linkPath), target)
	if err != nil {
		return err
	}
	// re-check right before the link is created; the archive may have been collected
	if !resolvesToFile(target) {
		return fmt.Errorf("%s: %w", target, ErrArchiveMissing)
	}
	return os.Symlink(rel, linkPath)
}

// Register moves a freshly produced package into <root>/<state>/ and
// catalogs it with exactly that state.
func (c *Catalog) Register(ctx context.Context, artifactPath, state string) (*models.ContentRecord, error) {
	if err := models.ValidateState(state, c.opts.States); err != nil {
		return nil, err
	}

	info, err := os.Stat(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", artifactPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("register %s: not a package file", artifactPath)
	}

	rec, err := metadata.Extract(artifactPath)
	if err != nil {
		return nil, err
	}
	if _, err := models.ParseVersion(rec.Version); err != nil {
		return nil, err
	}

	existing, err := c.store.FindBy(store.Filter{Name: rec.Name, Version: rec.Version})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%s: %w", rec.Key(), ErrExists)
	}

	dest := filepath.Join(c.root, state, filepath.Base(artifactPath))
	if _, err := os.Lstat(dest); err == nil {
		return nil, fmt.Errorf("%s: %w", dest, ErrExists)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	if err := moveFile(artifactPath, dest); err != nil {
		return nil, fmt.Errorf("move %s into content store: %w", artifactPath, err)
	}

	rel, err := c.relative(dest)
	if err != nil {
		return nil, err
	}
	rec.Archive = rel
	rec.State = models.NewStateSet(state)

	if err := c.store.Upsert([]*models.ContentRecord{rec}); err != nil {
		return nil, fmt.Errorf("update catalog: %w", err)
	}

	c.logger.Info("registered", "key", rec.Key().String(), "state", state, "archive", rec.Archive)
	return rec, nil
}

// moveFile renames src to dst, copying across filesystems when needed
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

// Latest returns the newest record carrying state per name, or for one name
func (c *Catalog) Latest(_ context.Context, state, name string) ([]*models.ContentRecord, error) {
	if err := models.ValidateState(state, c.opts.States); err != nil {
		return nil, err
	}
	return c.store.FindLatest(state, name)
}

// List returns every catalog record, newest version first
func (c *Catalog) List(_ context.Context) ([]*models.ContentRecord, error) {
	return c.store.ReadAll()
}

// LatestOne returns the single newest record of name in state
func (c *Catalog) LatestOne(ctx context.Context, state, name string) (*models.ContentRecord, error) {
	recs, err := c.Latest(ctx, state, name)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s in %s: %w", name, state, ErrNotFound)
	}
	return recs[0], nil
}
