package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(ctx, Entry{BootID: "b1", Timestamp: base, Component: "comp", Outcome: "absent"}))
	require.NoError(t, store.Record(ctx, Entry{
		BootID: "b2", Timestamp: base.Add(time.Minute), Component: "comp", Outcome: "activated",
		Version: "2", PreviousVersion: "1", Channel: "stable", Path: "/data/comp.zip",
		Detail: map[string]string{"source": "remote"},
	}))

	entries, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "b2", entries[0].BootID)
	require.Equal(t, "2", entries[0].Version)
	require.Equal(t, "remote", entries[0].Detail["source"])
	require.True(t, entries[0].Timestamp.Equal(base.Add(time.Minute)))
	require.Equal(t, "absent", entries[1].Outcome)
	require.Empty(t, entries[1].Version)

	one, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "journal.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Record(t.Context(), Entry{BootID: "b1", Component: "comp", Outcome: "unchanged"}))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	entries, err := store.Recent(t.Context(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, entries[0].Timestamp.IsZero())
}
