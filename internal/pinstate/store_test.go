package pinstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	st, err := NewStore(filepath.Join(t.TempDir(), "pin.properties")).Load()
	require.NoError(t, err)
	require.True(t, st.IsEmpty())
	require.Nil(t, st.Resolution())
}

func TestRoundTripPreservesUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pin.properties")
	require.NoError(t, os.WriteFile(path, []byte("#Mon Jan 01 00:00:00 UTC 2024\nautoUpdate=with-prompt\nfavoriteColor=blue\npendingUpdateVersion=2\n"), 0o600))

	store := NewStore(path)
	st, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "2", st.PendingVersion())
	require.Equal(t, "with-prompt", st.AutoUpdate())

	st.SetResolution(true)
	require.NoError(t, store.Save(st))

	again, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "blue", again.Get("favoriteColor"))
	require.NotNil(t, again.Resolution())
	require.True(t, *again.Resolution())
	require.True(t, st.Equal(again))
}

func TestValuesAreKeptVerbatim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pin.properties")
	require.NoError(t, os.WriteFile(path, []byte("launcherNote=uses $HOME/cache # x\nmirror: https://cdn.example/a=b\npendingUpdateVersion=2\n"), 0o600))

	store := NewStore(path)
	st, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "uses $HOME/cache # x", st.Get("launcherNote"))
	require.Equal(t, "https://cdn.example/a=b", st.Get("mirror"))

	st.SetOverride("3")
	require.NoError(t, store.Save(st))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "launcherNote=uses $HOME/cache # x\nmirror=https://cdn.example/a=b\noverridePinnedVersion=3\npendingUpdateVersion=2\n", string(data))

	again, err := store.Load()
	require.NoError(t, err)
	require.True(t, st.Equal(again))
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pin.properties")
	require.NoError(t, os.WriteFile(path, []byte("overridePinnedVersion=3\nthis line has no separator\nbad-key=1\nbranch=beta\n"), 0o600))

	st, err := NewStore(path).Load()
	require.NoError(t, err)
	require.Equal(t, "3", st.Override())
	require.Equal(t, "beta", st.Branch())
}

func TestEmptyStateWritesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pin.properties")
	store := NewStore(path)

	st := New()
	st.SetOverride("2")
	require.NoError(t, store.Save(st))

	st.ClearOverride()
	require.NoError(t, store.Save(st))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Empty(t, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestStateHelpers(t *testing.T) {
	st := New()
	st.SetPendingVersion("2")
	st.SetResolution(false)
	require.True(t, st.HasDecisionKeys())
	require.False(t, *st.Resolution())

	clone := st.Clone()
	clone.ClearPending()
	require.Equal(t, "2", st.PendingVersion(), "clone must not alias")
	require.False(t, clone.HasDecisionKeys())

	st.Set(KeyPendingResolution, "maybe")
	require.Nil(t, st.Resolution())

	st.Set(KeyBranch, "  ")
	require.Empty(t, st.Branch())
}

func TestSaveIfChanged(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "pin.properties"))
	prev := New()
	next := prev.Clone()

	wrote, err := store.SaveIfChanged(prev, next)
	require.NoError(t, err)
	require.False(t, wrote)

	next.SetPendingVersion("4")
	wrote, err = store.SaveIfChanged(prev, next)
	require.NoError(t, err)
	require.True(t, wrote)
}
