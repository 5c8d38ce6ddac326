package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/archive"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/metadata"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
)

// Publisher mirrors unpacked packages into a bucket under <name>/.
type Publisher struct {
	Store  ObjectStore
	Bucket string
	// ContentStore is the root that record archive paths are relative to
	ContentStore string
	// Ledger is optional; without it only the remote .version is consulted
	Ledger      *Ledger
	Invalidator Invalidator
	// WorkDir holds scoped extraction directories; empty means os.TempDir()
	WorkDir string
	Logger  *slog.Logger
	Now     func() time.Time
}

// PublishResult contains the outcome of a publish run
type PublishResult struct {
	Published   []models.RecordKey
	Skipped     []models.RecordKey
	Failed      []models.RecordKey
	Uploaded    int
	Deleted     int
	Invalidated []string
}

// Publish uploads every record that is newer than what the bucket holds.
// Per-record failures are logged and reported; a single invalidation covers
// the whole batch.
func (p *Publisher) Publish(ctx context.Context, records []*models.ContentRecord) (*PublishResult, error) {
	logger := p.logger()
	result := &PublishResult{}
	var paths []string

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		current, err := p.isCurrent(ctx, rec)
		if err != nil {
			logger.Warn("publish: cannot determine published version", "key", rec.Key().String(), "error", err)
			result.Failed = append(result.Failed, rec.Key())
			continue
		}
		if current {
			logger.Debug("publish: already current", "key", rec.Key().String())
			result.Skipped = append(result.Skipped, rec.Key())
			continue
		}

		uploaded, deleted, invalidate, err := p.publishOne(ctx, rec)
		result.Uploaded += uploaded
		result.Deleted += deleted
		if err != nil {
			logger.Warn("publish failed", "key", rec.Key().String(), "error", err)
			result.Failed = append(result.Failed, rec.Key())
			continue
		}
		paths = append(paths, invalidate...)

		if p.Ledger != nil {
			if err := p.Ledger.Record(p.Bucket, rec.Name, rec.Version, p.now()); err != nil {
				logger.Warn("publish: failed to update ledger", "key", rec.Key().String(), "error", err)
			}
		}
		logger.Info("published", "key", rec.Key().String(), "bucket", p.Bucket, "objects", uploaded)
		result.Published = append(result.Published, rec.Key())
	}

	if len(paths) > 0 && p.Invalidator != nil {
		sort.Strings(paths)
		if err := p.Invalidator.Invalidate(ctx, paths); err != nil {
			return result, fmt.Errorf("invalidate cdn paths: %w", err)
		}
		result.Invalidated = paths
	}

	logger.Info("publish complete",
		"published", len(result.Published),
		"skipped", len(result.Skipped),
		"failed", len(result.Failed),
		"uploaded", result.Uploaded,
		"deleted", result.Deleted,
	)
	return result, nil
}

// isCurrent reports whether the bucket already holds rec.Version or newer
func (p *Publisher) isCurrent(ctx context.Context, rec *models.ContentRecord) (bool, error) {
	if p.Ledger != nil {
		entry, ok, err := p.Ledger.Get(p.Bucket, rec.Name)
		if err != nil {
			return false, err
		}
		if ok {
			if cmp, err := models.CompareVersions(entry.Version, rec.Version); err == nil && cmp >= 0 {
				return true, nil
			}
		}
	}

	body, err := p.Store.Get(ctx, path.Join(rec.Name, metadata.VersionFile))
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return false, err
	}
	remote, err := metadata.Decode(data)
	if err != nil {
		// an unreadable remote .version is overwritten by the upload
		return false, nil
	}
	cmp, err := models.CompareVersions(remote.Version, rec.Version)
	if err != nil {
		return false, nil
	}
	return cmp >= 0, nil
}

// publishOne extracts rec into a scoped temp dir and mirrors it to <name>/.
// The .version object is written last so readers never see a new version
// over partial content.
func (p *Publisher) publishOne(ctx context.Context, rec *models.ContentRecord) (uploaded, deleted int, invalidate []string, err error) {
	pkg := rec.Archive
	if !filepath.IsAbs(pkg) {
		pkg = filepath.Join(p.ContentStore, pkg)
	}

	tmp, err := os.MkdirTemp(p.WorkDir, "publish-"+rec.Name+"-")
	if err != nil {
		return 0, 0, nil, fmt.Errorf("create work directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := archive.Extract(pkg, tmp); err != nil {
		return 0, 0, nil, fmt.Errorf("extract %s: %w", filepath.Base(pkg), err)
	}
	tree := filepath.Join(tmp, rec.Name)
	if info, err := os.Stat(tree); err != nil || !info.IsDir() {
		return 0, 0, nil, fmt.Errorf("package %s has no %s/ directory", filepath.Base(pkg), rec.Name)
	}
	if _, err := metadata.ReadVersionFile(tree); errors.Is(err, metadata.ErrNoMetadata) {
		if err := metadata.WriteVersionFile(tree, rec); err != nil {
			return 0, 0, nil, err
		}
	}

	existing, err := p.Store.List(ctx, rec.Name+"/")
	if err != nil {
		return 0, 0, nil, err
	}
	// only keys the CDN may have cached; this covers pages deleted below
	for _, key := range existing {
		if needsInvalidation(key) {
			invalidate = append(invalidate, "/"+key)
		}
	}

	var files []string
	err = filepath.Walk(tree, func(fp string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			files = append(files, fp)
		}
		return nil
	})
	if err != nil {
		return 0, 0, nil, fmt.Errorf("walk %s: %w", tree, err)
	}

	sort.SliceStable(files, func(i, j int) bool {
		return filepath.Base(files[j]) == metadata.VersionFile && filepath.Base(files[i]) != metadata.VersionFile
	})

	keep := make(map[string]bool, len(files))
	for _, fp := range files {
		if err := ctx.Err(); err != nil {
			return uploaded, deleted, nil, err
		}
		rel, err := filepath.Rel(tmp, fp)
		if err != nil {
			return uploaded, deleted, nil, err
		}
		key := filepath.ToSlash(rel)
		if err := p.upload(ctx, key, fp); err != nil {
			return uploaded, deleted, nil, err
		}
		keep[key] = true
		uploaded++
	}

	for _, key := range existing {
		if keep[key] {
			continue
		}
		if err := p.Store.Delete(ctx, key); err != nil {
			p.logger().Warn("publish: failed to delete stale object", "key", key, "error", err)
			continue
		}
		deleted++
	}

	return uploaded, deleted, invalidate, nil
}

func (p *Publisher) upload(ctx context.Context, key, fp string) error {
	f, err := os.Open(fp)
	if err != nil {
		return err
	}
	defer f.Close()
	return p.Store.Put(ctx, key, f, mime.TypeByExtension(path.Ext(key)))
}

func (p *Publisher) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Publisher) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}
