package cli

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/core"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReleaseCatalog_FreesLock(t *testing.T) {
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cat, _, err := core.Open(root, core.Options{}, false, logger)
	require.NoError(t, err)
	c := &cmdContext{Catalog: cat, Logger: logger}
	t.Cleanup(c.Close)

	_, _, err = core.Open(root, core.Options{}, false, logger)
	require.ErrorIs(t, err, store.ErrLocked)

	want, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, want, c.releaseCatalog())
	assert.Nil(t, c.Catalog)

	other, _, err := core.Open(root, core.Options{}, false, logger)
	require.NoError(t, err)
	other.Close()

	// the deferred Close after releaseCatalog is a no-op
	c.Close()
}
