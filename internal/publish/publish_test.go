package publish

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/archive"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/metadata"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInvalidator struct {
	calls [][]string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, paths []string) error {
	r.calls = append(r.calls, paths)
	return nil
}

type testEnv struct {
	publisher   *Publisher
	objects     *FSStore
	objectRoot  string
	invalidator *recordingInvalidator
}

func newTestEnv(t *testing.T, withLedger bool) *testEnv {
	t.Helper()
	objectRoot := t.TempDir()
	objects, err := NewFSStore(objectRoot)
	require.NoError(t, err)

	inv := &recordingInvalidator{}
	p := &Publisher{
		Store:        objects,
		Bucket:       "content-bucket",
		ContentStore: t.TempDir(),
		Invalidator:  inv,
		WorkDir:      t.TempDir(),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:          func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
	if withLedger {
		ledger, err := OpenLedger(filepath.Join(t.TempDir(), "publish.db"))
		require.NoError(t, err)
		t.Cleanup(func() { ledger.Close() })
		p.Ledger = ledger
	}
	return &testEnv{publisher: p, objects: objects, objectRoot: objectRoot, invalidator: inv}
}

// addPackage writes a package containing files (relative to <name>/) into the content store
func (e *testEnv) addPackage(t *testing.T, name, version string, files map[string]string) *models.ContentRecord {
	t.Helper()
	src := t.TempDir()
	for rel, body := range files {
		p := filepath.Join(src, name, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	}
	base := name + "-builder-" + version + ".tgz"
	dir := filepath.Join(e.publisher.ContentStore, "release")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, archive.CreateTarGz(src, name, filepath.Join(dir, base)))

	return &models.ContentRecord{
		Name:    name,
		Version: version,
		Builder: "builder",
		Indexer: "builder",
		Archive: filepath.Join("release", base),
		State:   models.NewStateSet("release"),
	}
}

func (e *testEnv) keys(t *testing.T, prefix string) []string {
	t.Helper()
	keys, err := e.objects.List(context.Background(), prefix)
	require.NoError(t, err)
	return keys
}

func TestPublish_UploadsTree(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)
	rec := env.addPackage(t, "foo", "2", map[string]string{
		"index.html":      "<html/>",
		"eclipse-toc.xml": "<toc/>",
		"img/logo.png":    "png",
	})

	result, err := env.publisher.Publish(ctx, []*models.ContentRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, []models.RecordKey{rec.Key()}, result.Published)
	assert.Equal(t, 4, result.Uploaded)

	assert.Equal(t, []string{
		"foo/.version", "foo/eclipse-toc.xml", "foo/img/logo.png", "foo/index.html",
	}, env.keys(t, "foo/"))

	assert.Empty(t, env.invalidator.calls, "nothing was cached before the first publish")
	assert.Empty(t, result.Invalidated)

	body, err := env.objects.Get(ctx, "foo/.version")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	remote, err := metadata.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "2", remote.Version)

	entry, ok, err := env.publisher.Ledger.Get("content-bucket", "foo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", entry.Version)
}

func TestPublish_SkipsCurrentVersion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	rec := env.addPackage(t, "foo", "2", map[string]string{"index.html": "v2"})

	_, err := env.publisher.Publish(ctx, []*models.ContentRecord{rec})
	require.NoError(t, err)

	older := env.addPackage(t, "foo", "1", map[string]string{"index.html": "v1"})
	result, err := env.publisher.Publish(ctx, []*models.ContentRecord{rec, older})
	require.NoError(t, err)
	assert.Equal(t, []models.RecordKey{rec.Key(), older.Key()}, result.Skipped)
	assert.Empty(t, result.Published)
	assert.Empty(t, env.invalidator.calls, "no invalidation when nothing was published")
}

func TestPublish_LedgerShortCircuits(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)
	rec := env.addPackage(t, "foo", "2", map[string]string{"index.html": "v2"})
	require.NoError(t, env.publisher.Ledger.Record("content-bucket", "foo", "3", time.Now()))

	result, err := env.publisher.Publish(ctx, []*models.ContentRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, []models.RecordKey{rec.Key()}, result.Skipped)
	assert.Empty(t, env.keys(t, "foo/"))
}

func TestPublish_RemovesStaleObjects(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)
	v1 := env.addPackage(t, "foo", "1", map[string]string{"index.html": "v1", "old.html": "gone soon"})
	v2 := env.addPackage(t, "foo", "2", map[string]string{"index.html": "v2"})
	require.NoError(t, env.objects.Put(ctx, "bar/index.html", strings.NewReader("other title"), "text/html"))

	_, err := env.publisher.Publish(ctx, []*models.ContentRecord{v1})
	require.NoError(t, err)

	result, err := env.publisher.Publish(ctx, []*models.ContentRecord{v2})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, []string{"foo/.version", "foo/index.html"}, env.keys(t, "foo/"))
	assert.Equal(t, []string{"bar/index.html"}, env.keys(t, "bar/"))
}

func TestPublish_InvalidatesPreviouslyPublishedKeys(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	v1 := env.addPackage(t, "foo", "1", map[string]string{
		"index.html":      "v1",
		"old.html":        "removed in v2",
		"eclipse-toc.xml": "<toc/>",
		"img/logo.png":    "png",
	})
	v2 := env.addPackage(t, "foo", "2", map[string]string{
		"index.html": "v2",
		"new.html":   "added in v2",
	})

	_, err := env.publisher.Publish(ctx, []*models.ContentRecord{v1})
	require.NoError(t, err)
	require.Empty(t, env.invalidator.calls)

	result, err := env.publisher.Publish(ctx, []*models.ContentRecord{v2})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Deleted)

	want := []string{"/foo/eclipse-toc.xml", "/foo/index.html", "/foo/old.html"}
	require.Len(t, env.invalidator.calls, 1)
	assert.Equal(t, want, env.invalidator.calls[0])
	assert.Equal(t, want, result.Invalidated)
}

func TestPublish_FailureIsReportedNotFatal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	good := env.addPackage(t, "foo", "1", map[string]string{"index.html": "v1"})
	missing := &models.ContentRecord{Name: "bar", Version: "1", Archive: filepath.Join("release", "bar-b-1.tgz")}

	result, err := env.publisher.Publish(ctx, []*models.ContentRecord{missing, good})
	require.NoError(t, err)
	assert.Equal(t, []models.RecordKey{missing.Key()}, result.Failed)
	assert.Equal(t, []models.RecordKey{good.Key()}, result.Published)

	// scoped work directories are always removed
	entries, err := os.ReadDir(env.publisher.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFSStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	err = s.Put(context.Background(), "../escape", strings.NewReader("x"), "")
	assert.Error(t, err)

	_, err = s.Get(context.Background(), "missing/key")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLedger_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger", "publish.db")
	l, err := OpenLedger(path)
	require.NoError(t, err)

	_, ok, err := l.Get("b", "foo")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Record("b", "foo", "20240101000000", time.Now()))
	require.NoError(t, l.Close())

	l, err = OpenLedger(path)
	require.NoError(t, err)
	defer l.Close()

	entry, ok, err := l.Get("b", "foo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "20240101000000", entry.Version)

	_, ok, err = l.Get("other", "foo")
	require.NoError(t, err)
	assert.False(t, ok)
}
