package cli

import (
	"context"
	"testing"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/config"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/publish"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, args ...string) *poolSelector {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	p := newPoolSelector(cmd, models.StateTesting, map[string]string{
		"use-testing":  models.StateTesting,
		"use-released": models.StateRelease,
	})
	require.NoError(t, cmd.ParseFlags(args))
	return p
}

func TestPoolSelector(t *testing.T) {
	tests := []struct {
		args    []string
		want    string
		wantErr bool
	}{
		{args: nil, want: models.StateTesting},
		{args: []string{"--use-released"}, want: models.StateRelease},
		{args: []string{"--pool", "uat"}, want: models.StateUAT},
		{args: []string{"--use-released", "--use-testing"}, wantErr: true},
		{args: []string{"--use-released", "--pool", "uat"}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := newTestPool(t, tt.args...).state()
		if tt.wantErr {
			assert.Error(t, err, "args %v", tt.args)
			continue
		}
		require.NoError(t, err, "args %v", tt.args)
		assert.Equal(t, tt.want, got, "args %v", tt.args)
	}
}

func TestFilterRecords(t *testing.T) {
	records := []*models.ContentRecord{
		{Name: "alpha", Version: "2", State: models.NewStateSet(models.StateTesting, models.StateRelease)},
		{Name: "alpha", Version: "1", State: models.NewStateSet(models.StateTesting)},
		{Name: "beta", Version: "1", State: models.NewStateSet(models.StateRelease)},
	}

	assert.Len(t, filterRecords(records, "", ""), 3)
	assert.Len(t, filterRecords(records, "alpha", ""), 2)
	assert.Len(t, filterRecords(records, "", models.StateRelease), 2)

	got := filterRecords(records, "alpha", models.StateRelease)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].Version)
}

func TestOpenObjectStore_FileBucket(t *testing.T) {
	dir := t.TempDir()
	objects, err := openObjectStore(context.Background(), config.Default(), "file://"+dir)
	require.NoError(t, err)
	assert.IsType(t, &publish.FSStore{}, objects)
}

func TestFilterNames(t *testing.T) {
	records := []*models.ContentRecord{{Name: "alpha"}, {Name: "beta"}, {Name: "gamma"}}

	assert.Equal(t, records, filterNames(records, nil))

	got := filterNames(records, []string{"gamma", "alpha"})
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].Name)
	assert.Equal(t, "gamma", got[1].Name)
}
