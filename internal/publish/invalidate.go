package publish

import (
	"context"
	"log/slog"
	"strings"
)

// Invalidator asks a CDN in front of the bucket to drop cached paths.
type Invalidator interface {
	Invalidate(ctx context.Context, paths []string) error
}

// LogInvalidator records the paths that would be invalidated. It is used
// when no CDN distribution is configured.
type LogInvalidator struct {
	Logger *slog.Logger
}

// Invalidate logs the paths
func (l LogInvalidator) Invalidate(_ context.Context, paths []string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("cdn invalidation requested", "count", len(paths), "paths", paths)
	return nil
}

// needsInvalidation reports whether a published key is served through
// cached entry points (rendered pages and table-of-contents files).
func needsInvalidation(key string) bool {
	return strings.Contains(key, "html") || strings.Contains(key, "eclipse-toc.xml")
}
