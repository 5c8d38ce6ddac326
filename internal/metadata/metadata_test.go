package metadata

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/archive"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPackage writes a .tgz named base into dir. versionJSON, when non-empty,
// is embedded as <name>/.version.
func buildPackage(t *testing.T, dir, base, name, versionJSON string) string {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, name), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, name, "index.html"), []byte("<html/>"), 0644))
	if versionJSON != "" {
		require.NoError(t, os.WriteFile(filepath.Join(src, name, VersionFile), []byte(versionJSON), 0644))
	}
	pkg := filepath.Join(dir, base)
	require.NoError(t, archive.CreateTarGz(src, name, pkg))
	return pkg
}

func TestExtract_SynthesizedFromFilename(t *testing.T) {
	pkg := buildPackage(t, t.TempDir(), "foo-builder-20240101000000.tgz", "foo", "")

	rec, err := Extract(pkg)
	require.NoError(t, err)

	assert.Equal(t, "foo", rec.Name)
	assert.Equal(t, "20240101000000", rec.Version)
	assert.Equal(t, "builder", rec.Builder)
	assert.Equal(t, "builder", rec.Indexer)
	assert.Equal(t, int64(20240101000000), rec.BuildTime)
	assert.Equal(t, int64(20240101000000), rec.IndexTime)
	assert.Equal(t, pkg, rec.Archive)
	assert.True(t, filepath.IsAbs(rec.Archive))
	assert.Equal(t, 0, rec.State.Len())
}

func TestExtract_EmbeddedVersionWins(t *testing.T) {
	embedded := `{"name":"foo","builder":"render01","indexer":"idx02","version":"20240301120000",
		"build_time":"20240101000000","index_time":20240301120000,"archive":"/somewhere/else.tgz"}`
	pkg := buildPackage(t, t.TempDir(), "foo-render01-20240101000000.tgz", "foo", embedded)

	rec, err := Extract(pkg)
	require.NoError(t, err)

	assert.Equal(t, "20240301120000", rec.Version)
	assert.Equal(t, "idx02", rec.Indexer)
	assert.Equal(t, int64(20240101000000), rec.BuildTime)
	assert.Equal(t, int64(20240301120000), rec.IndexTime)
	assert.Equal(t, pkg, rec.Archive, "archive is always the package actually opened")
}

func TestExtract_MalformedFilename(t *testing.T) {
	dir := t.TempDir()
	for _, base := range []string{"foo-20240101000000.tgz", "foo-bar-baz-20240101000000.tgz", "foo-bar-latest.tgz"} {
		pkg := buildPackage(t, dir, base, "foo", "")
		_, err := Extract(pkg)

		var me *MetadataError
		assert.True(t, errors.As(err, &me), base)
	}
}

func TestExtract_CorruptEmbeddedVersion(t *testing.T) {
	pkg := buildPackage(t, t.TempDir(), "foo-b-20240101000000.tgz", "foo", `{not json`)

	_, err := Extract(pkg)
	var me *MetadataError
	require.True(t, errors.As(err, &me))
	assert.Contains(t, me.Reason, "corrupt")
}

func TestExtract_CorruptPackage(t *testing.T) {
	pkg := filepath.Join(t.TempDir(), "foo-b-20240101000000.tgz")
	require.NoError(t, os.WriteFile(pkg, []byte("not gzip"), 0644))

	_, err := Extract(pkg)
	var me *MetadataError
	assert.True(t, errors.As(err, &me))
}

func TestExtract_Directory(t *testing.T) {
	dir := t.TempDir()

	_, err := Extract(dir)
	assert.ErrorIs(t, err, ErrNoMetadata)

	rec := &models.ContentRecord{
		Name: "foo", Version: "20240101000000", Builder: "b", Indexer: "b",
		BuildTime: 20240101000000, IndexTime: 20240101000000,
		Archive: "/should/not/be/written.tgz",
	}
	require.NoError(t, WriteVersionFile(dir, rec))

	raw, err := os.ReadFile(filepath.Join(dir, VersionFile))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "archive")

	got, err := Extract(dir)
	require.NoError(t, err)
	assert.Equal(t, "foo", got.Name)
	assert.Equal(t, "20240101000000", got.Version)
	assert.Equal(t, int64(20240101000000), got.BuildTime)
	assert.Empty(t, got.Archive)
}

func TestParseFilename(t *testing.T) {
	name, builder, ts, err := ParseFilename("book-host-20231231235959.zip")
	require.NoError(t, err)
	assert.Equal(t, "book", name)
	assert.Equal(t, "host", builder)
	assert.Equal(t, int64(20231231235959), ts)

	_, _, _, err = ParseFilename("book-host-20231231235959.txt")
	assert.Error(t, err)
}

func TestPackageFilename(t *testing.T) {
	rec := &models.ContentRecord{Name: "foo", Builder: "b", Version: "1"}
	assert.Equal(t, "foo-b-1.tgz", PackageFilename(rec, ""))
	assert.Equal(t, "foo-b-1.zip", PackageFilename(rec, ".zip"))
}

func TestDecode_RequiresIdentity(t *testing.T) {
	_, err := Decode([]byte(`{"builder":"b"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"name":"a","version":"1","build_time":"yesterday"}`))
	assert.Error(t, err)
}
