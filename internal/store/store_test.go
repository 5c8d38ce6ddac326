package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a fresh catalog in a temp content-store root.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, existed, err := Open(t.TempDir(), Options{})
	require.NoError(t, err)
	require.False(t, existed)
	t.Cleanup(func() { st.Close() })
	return st
}

func record(name, version string, states ...string) *models.ContentRecord {
	return &models.ContentRecord{
		Name:      name,
		Version:   version,
		Builder:   "builder",
		BuildTime: 20240101000000,
		Indexer:   "builder",
		IndexTime: 20240101000000,
		Archive:   filepath.Join("testing", name+"-builder-"+version+".tgz"),
		State:     models.NewStateSet(states...),
	}
}

// ==================== Open ====================

func TestOpen_CreatesSchema(t *testing.T) {
	root := t.TempDir()

	st, existed, err := Open(root, Options{})
	require.NoError(t, err)
	assert.False(t, existed)
	assert.FileExists(t, filepath.Join(root, DatabaseFile))

	all, err := st.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, all)
	require.NoError(t, st.Close())

	st, existed, err = Open(root, Options{})
	require.NoError(t, err)
	defer st.Close()
	assert.True(t, existed)

	version, err := st.getSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_MissingRoot(t *testing.T) {
	_, _, err := Open(filepath.Join(t.TempDir(), "absent"), Options{})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestOpen_ReadOnlyRequiresCatalog(t *testing.T) {
	root := t.TempDir()

	_, _, err := Open(root, Options{ReadOnly: true})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NoFileExists(t, filepath.Join(root, DatabaseFile))
}

func TestOpen_ExclusiveLock(t *testing.T) {
	root := t.TempDir()

	st, _, err := Open(root, Options{})
	require.NoError(t, err)

	_, _, err = Open(root, Options{LockTimeout: 0})
	assert.ErrorIs(t, err, ErrLocked)

	_, _, err = Open(root, Options{ReadOnly: true, LockTimeout: 100 * time.Millisecond})
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, st.Close())

	st, _, err = Open(root, Options{})
	require.NoError(t, err)
	st.Close()
}

func TestOpen_SharedReaders(t *testing.T) {
	root := t.TempDir()
	st, _, err := Open(root, Options{})
	require.NoError(t, err)
	require.NoError(t, st.Upsert([]*models.ContentRecord{record("foo", "1", "testing")}))
	require.NoError(t, st.Close())

	r1, _, err := Open(root, Options{ReadOnly: true})
	require.NoError(t, err)
	defer r1.Close()
	r2, _, err := Open(root, Options{ReadOnly: true})
	require.NoError(t, err)
	defer r2.Close()

	all, err := r2.ReadAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// ==================== Upsert ====================

func TestUpsert_Idempotent(t *testing.T) {
	st := newTestStore(t)
	rec := record("foo", "20240101000000", "testing")

	require.NoError(t, st.Upsert([]*models.ContentRecord{rec}))
	first, err := st.ReadAll()
	require.NoError(t, err)

	require.NoError(t, st.Upsert([]*models.ContentRecord{rec}))
	second, err := st.ReadAll()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, second, 1)
	assert.Equal(t, models.StateSet{"testing"}, second[0].State)
}

func TestUpsert_FirstWriterWins(t *testing.T) {
	st := newTestStore(t)

	a := record("foo", "20240101000000", "testing")
	b := record("foo", "20240101000000", "testing", "release")
	b.Builder = "other"

	require.NoError(t, st.Upsert([]*models.ContentRecord{a}))
	require.NoError(t, st.Upsert([]*models.ContentRecord{b}))

	got, err := st.FindBy(Filter{Name: "foo", Version: "20240101000000"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "builder", got[0].Builder)
	assert.Equal(t, models.StateSet{"release", "testing"}, got[0].State)

	var rows int
	require.NoError(t, st.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestUpsert_ReplacesStateMembership(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.Upsert([]*models.ContentRecord{record("foo", "1", "testing", "release")}))
	require.NoError(t, st.Upsert([]*models.ContentRecord{record("foo", "1", "testing")}))

	got, err := st.FindBy(Filter{Name: "foo"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.StateSet{"testing"}, got[0].State)

	require.NoError(t, st.Upsert([]*models.ContentRecord{record("foo", "1")}))
	got, err = st.FindBy(Filter{Name: "foo"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsOrphaned())
}

func TestUpsert_PromotionPreservesPriorState(t *testing.T) {
	st := newTestStore(t)
	rec := record("foo", "20240101000000", "testing")
	require.NoError(t, st.Upsert([]*models.ContentRecord{rec}))

	rec.State.Add("release")
	require.NoError(t, st.Upsert([]*models.ContentRecord{rec}))

	got, err := st.FindBy(Filter{Name: "foo", Version: "20240101000000"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.StateSet{"release", "testing"}, got[0].State)
}

func TestUpsert_Validation(t *testing.T) {
	st := newTestStore(t)

	tests := []struct {
		name string
		rec  *models.ContentRecord
	}{
		{"empty name", record("", "1", "testing")},
		{"non-numeric version", record("foo", "v1.2", "testing")},
		{"absolute archive", func() *models.ContentRecord {
			r := record("foo", "1", "testing")
			r.Archive = filepath.Join(t.TempDir(), "foo.tgz")
			return r
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := st.Upsert([]*models.ContentRecord{tt.rec})
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}

	all, err := st.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUpsert_BatchIsAtomic(t *testing.T) {
	st := newTestStore(t)

	err := st.Upsert([]*models.ContentRecord{
		record("foo", "1", "testing"),
		record("bar", "x", "testing"),
	})
	require.Error(t, err)

	all, err := st.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

// ==================== Queries ====================

func TestReadAll_Ordering(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.Upsert([]*models.ContentRecord{
		record("beta", "9", "testing"),
		record("alpha", "10", "testing"),
		record("beta", "10", "release"),
		record("alpha", "9", "testing"),
	}))

	all, err := st.ReadAll()
	require.NoError(t, err)

	var keys []string
	for _, r := range all {
		keys = append(keys, r.Key().String())
	}
	assert.Equal(t, []string{"alpha@10", "beta@10", "alpha@9", "beta@9"}, keys)
}

func TestFindBy(t *testing.T) {
	st := newTestStore(t)

	foo := record("foo", "1", "testing")
	require.NoError(t, st.Upsert([]*models.ContentRecord{
		foo,
		record("foo", "2", "testing"),
		record("bar", "1", "testing"),
	}))

	got, err := st.FindBy(Filter{Name: "foo"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = st.FindBy(Filter{Version: "1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = st.FindBy(Filter{Archive: foo.Archive})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, foo.Key(), got[0].Key())

	got, err = st.FindBy(Filter{Name: "missing"})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = st.FindBy(Filter{})
	assert.ErrorIs(t, err, ErrEmptyFilter)
}

func TestFindLatest(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.Upsert([]*models.ContentRecord{
		record("foo", "20200101000000", "testing"),
		record("foo", "20200102000000", "testing", "release"),
		record("foo", "20200103000000", "uat"),
		record("bar", "9", "testing"),
		record("bar", "10", "testing"),
	}))

	latest, err := st.FindLatest("testing", "")
	require.NoError(t, err)
	require.Len(t, latest, 2)

	assert.Equal(t, "bar", latest[0].Name)
	assert.Equal(t, "10", latest[0].Version)
	assert.Equal(t, "foo", latest[1].Name)
	assert.Equal(t, "20200102000000", latest[1].Version)
	assert.Equal(t, models.StateSet{"testing"}, latest[1].State)

	latest, err = st.FindLatest("testing", "foo")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "20200102000000", latest[0].Version)

	latest, err = st.FindLatest("release", "bar")
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestRemove(t *testing.T) {
	st := newTestStore(t)
	rec := record("foo", "1", "testing", "release")
	require.NoError(t, st.Upsert([]*models.ContentRecord{rec}))

	require.NoError(t, st.Remove(rec))
	all, err := st.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, all)

	var states int
	require.NoError(t, st.db.QueryRow("SELECT COUNT(*) FROM state").Scan(&states))
	assert.Equal(t, 0, states)

	// idempotent
	require.NoError(t, st.Remove(rec))
}

// ==================== Relocation ====================

func TestArchivePathsSurviveRelocation(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "a")
	require.NoError(t, os.Mkdir(root, 0755))

	st, _, err := Open(root, Options{})
	require.NoError(t, err)
	require.NoError(t, st.Upsert([]*models.ContentRecord{record("foo", "1", "testing")}))
	require.NoError(t, st.Close())

	moved := filepath.Join(base, "b")
	require.NoError(t, os.Rename(root, moved))

	st, existed, err := Open(moved, Options{})
	require.NoError(t, err)
	defer st.Close()
	assert.True(t, existed)
	assert.Equal(t, moved, st.Root())

	all, err := st.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, filepath.Join("testing", "foo-builder-1.tgz"), all[0].Archive)
}

func TestLegacyIntegerColumns(t *testing.T) {
	st := newTestStore(t)

	// catalogs written by the older tooling stored versions as integers
	_, err := st.db.Exec(`INSERT INTO records (name, version, builder, build_time, indexer, index_time, archive)
		VALUES ('foo', 20200101000000, 'b', '20200101000000', 'b', 20200101000000, 'testing/foo-b-20200101000000.tgz')`)
	require.NoError(t, err)
	_, err = st.db.Exec(`INSERT INTO state (recordId, state) SELECT rowid, 'testing' FROM records`)
	require.NoError(t, err)

	all, err := st.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "20200101000000", all[0].Version)
	assert.Equal(t, int64(20200101000000), all[0].BuildTime)
}
