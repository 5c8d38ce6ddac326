package core

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/archive"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/metadata"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
)

// IndexOptions configures Reindex
type IndexOptions struct {
	// Command runs inside the work directory with the title name appended.
	// Empty skips the indexer and only restamps the package.
	Command []string
	// Indexer is recorded as the package's indexer; empty means the short host name
	Indexer string
	// State receives the rebuilt package; empty means testing
	State string
	// WorkDir holds the scoped extraction directory; empty means os.TempDir()
	WorkDir string
}

// Reindex unpacks rec, runs the indexer over it, stamps a new version and
// index time into .version, repacks it as <name>-<builder>-<version> and
// registers the result. The source package is left untouched. Rebuilt
// packages are always gzip tarballs.
func (c *Catalog) Reindex(ctx context.Context, rec *models.ContentRecord, opts IndexOptions) (*models.ContentRecord, error) {
	state := opts.State
	if state == "" {
		state = models.StateTesting
	}
	indexer := opts.Indexer
	if indexer == "" {
		indexer = shortHostname()
	}

	pkg := rec.Archive
	if !filepath.IsAbs(pkg) {
		pkg = c.ArchivePath(rec)
	}
	if !resolvesToFile(pkg) {
		return nil, fmt.Errorf("%s: %s: %w", rec.Key(), rec.Archive, ErrArchiveMissing)
	}

	tmp, err := os.MkdirTemp(opts.WorkDir, "reindex-"+rec.Name+"-")
	if err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := archive.Extract(pkg, tmp); err != nil {
		return nil, fmt.Errorf("extract %s: %w", filepath.Base(pkg), err)
	}
	tree := filepath.Join(tmp, rec.Name)
	if info, err := os.Stat(tree); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("package %s has no %s/ directory", filepath.Base(pkg), rec.Name)
	}

	if len(opts.Command) > 0 {
		if err := c.runIndexer(ctx, tmp, opts.Command, rec.Name); err != nil {
			return nil, err
		}
	}

	now := models.FormatTimestamp(c.opts.Now())
	next := rec.Clone()
	next.Indexer = indexer
	next.IndexTime = now
	next.Version = strconv.FormatInt(now, 10)
	next.Archive = ""
	next.State = nil

	if cmp, err := models.CompareVersions(next.Version, rec.Version); err != nil {
		return nil, err
	} else if cmp <= 0 {
		return nil, fmt.Errorf("%s: new version %s is not newer: %w", rec.Key(), next.Version, ErrExists)
	}

	if err := metadata.WriteVersionFile(tree, next); err != nil {
		return nil, err
	}

	out := filepath.Join(tmp, metadata.PackageFilename(next, ""))
	if err := archive.CreateTarGz(tmp, rec.Name, out); err != nil {
		return nil, fmt.Errorf("repack %s: %w", next.Key(), err)
	}

	registered, err := c.Register(ctx, out, state)
	if err != nil {
		return nil, err
	}
	c.logger.Info("reindexed", "from", rec.Key().String(), "to", registered.Key().String(), "indexer", indexer)
	return registered, nil
}

func (c *Catalog) runIndexer(ctx context.Context, dir string, command []string, name string) error {
	args := append(append([]string{}, command[1:]...), name)
	cmd := exec.CommandContext(ctx, command[0], args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("indexer %s failed for %s: %w: %s", command[0], name, err, strings.TrimSpace(string(output)))
	}
	c.logger.Debug("indexer finished", "name", name, "output", strings.TrimSpace(string(output)))
	return nil
}

func shortHostname() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	host, _, _ = strings.Cut(host, ".")
	return host
}
