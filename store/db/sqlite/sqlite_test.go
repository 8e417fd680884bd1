package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/fincue/store"
)

func newTestDB(t *testing.T) store.Driver {
	t.Helper()
	driver, err := NewDB(filepath.Join(t.TempDir(), "fincue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	require.NoError(t, driver.Migrate(context.Background()))
	return driver
}

func TestNewDB_RequiresDSN(t *testing.T) {
	_, err := NewDB("")
	assert.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	driver := newTestDB(t)

	require.NoError(t, driver.Migrate(ctx))
	version, err := driver.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.SchemaVersion, version)
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	driver := newTestDB(t)

	_, ok, err := driver.GetPreference(ctx, "routing.strategy")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, driver.SetPreference(ctx, "routing.strategy", "local_first"))
	require.NoError(t, driver.SetPreference(ctx, "routing.strategy", "hybrid"))

	v, ok, err := driver.GetPreference(ctx, "routing.strategy")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hybrid", v)

	list, err := driver.ListPreferences(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotZero(t, list[0].UpdatedTs)
}

func TestPerformanceSnapshots(t *testing.T) {
	ctx := context.Background()
	driver := newTestDB(t)
	conf := 0.82

	rows := []*store.PerformanceSnapshot{
		{ID: "1", CreatedTs: 100, Source: "local", Task: "text", Success: true, ProcessingMs: 40, Confidence: &conf},
		{ID: "2", CreatedTs: 200, Source: "remote", Task: "image", Success: false, ProcessingMs: 900, CostUSD: 0.01},
		{ID: "3", CreatedTs: 300, Source: "local", Task: "audio", Success: true, ProcessingMs: 300, Confidence: &conf},
	}
	for _, r := range rows {
		require.NoError(t, driver.SavePerformanceSnapshot(ctx, r))
	}

	all, err := driver.ListPerformanceSnapshots(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].ID)
	assert.Nil(t, all[1].Confidence)
	assert.False(t, all[1].Success)
	require.NotNil(t, all[2].Confidence)
	assert.InDelta(t, 0.82, *all[2].Confidence, 1e-9)

	local := "local"
	since := int64(150)
	filtered, err := driver.ListPerformanceSnapshots(ctx, &store.FindPerformanceSnapshot{Source: &local, SinceTs: &since, Limit: 5})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "3", filtered[0].ID)

	deleted, err := driver.DeletePerformanceSnapshots(ctx, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}
