package restart

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/chainloader/internal/archive"
	"git.home.luguber.info/inful/chainloader/internal/depgraph"
	"git.home.luguber.info/inful/chainloader/internal/metrics"
	"git.home.luguber.info/inful/chainloader/internal/retry"
	"git.home.luguber.info/inful/chainloader/internal/rotation"
	"git.home.luguber.info/inful/chainloader/internal/workspace"
)

type restartRecorder struct {
	metrics.NoopRecorder
	restarts int
}

func (r *restartRecorder) IncRestartRequested() { r.restarts++ }

func artifact(t *testing.T, path, id, version string) string {
	t.Helper()
	data, err := json.Marshal(depgraph.Descriptor{ID: id, Version: version})
	require.NoError(t, err)
	require.NoError(t, archive.Write(path, []archive.Entry{{Name: depgraph.DescriptorName, Data: data}}, false))
	return path
}

func entryNames(t *testing.T, path string) []string {
	t.Helper()
	a, err := archive.Open(path)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()
	var names []string
	for _, f := range a.Files() {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func conflictPlan(t *testing.T, dir string) *depgraph.LoadPlan {
	carrier := &depgraph.Node{ID: "mid", Version: "1", Name: "Middle", Path: artifact(t, filepath.Join(dir, "mid.zip"), "mid", "1")}
	lib := &depgraph.Node{ID: "lib", Version: "2.0"}
	return &depgraph.LoadPlan{NeedsRestart: []depgraph.Update{{
		ID: "lib", Active: "1.5", Resolved: "2.0", Node: lib, Carrier: carrier,
		SupersededPath: filepath.Join(dir, "ext", "lib-1.5.zip"),
	}}}
}

func TestCoordinateWithoutUpdatesStaysClean(t *testing.T) {
	c := New(t.TempDir(), nil)
	res, err := c.Coordinate(context.Background(), &depgraph.LoadPlan{})
	require.NoError(t, err)
	require.Equal(t, StateClean, res.State)
	require.False(t, res.RestartRequired)
	_, err = os.Stat(c.AggregatePath())
	require.True(t, os.IsNotExist(err))
}

func TestCoordinateWritesAggregateAndRecordsSuperseded(t *testing.T) {
	dir := t.TempDir()
	install := filepath.Join(dir, "install")
	rec := &restartRecorder{}
	c := New(install, depgraph.ActiveSet{"lib": {ID: "lib", Version: "1.5"}}, WithRecorder(rec))

	res, err := c.Coordinate(context.Background(), conflictPlan(t, dir))
	require.NoError(t, err)
	require.True(t, res.RestartRequired)
	require.Equal(t, StateRestartRequested, res.State)
	require.Equal(t, []string{"Middle"}, res.Updated)
	require.Equal(t, []State{StateClean, StateNeedsMerge, StateMerged, StateRestartRequested}, c.History())
	require.Equal(t, 1, rec.restarts)

	require.Equal(t, []string{"artifacts/mid@1.zip", depgraph.DescriptorName}, entryNames(t, res.Aggregate))
	pending, err := c.Pending()
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "ext", "lib-1.5.zip")}, pending)

	// The aggregate is a regular chainloaded artifact on the next boot.
	arena, err := workspace.NewArena(dir)
	require.NoError(t, err)
	defer func() { _ = arena.Cleanup() }()
	plan, err := depgraph.New(arena).Resolve(context.Background(), res.Aggregate)
	require.NoError(t, err)
	require.Len(t, plan.Load, 2)
	require.Equal(t, AggregateID, plan.Roots[0].ID)

	_, err = c.Coordinate(context.Background(), conflictPlan(t, dir))
	require.Error(t, err)
}

func TestCoordinateKeepsOnlyInUseEntries(t *testing.T) {
	dir := t.TempDir()
	install := filepath.Join(dir, "install")
	src := artifact(t, filepath.Join(dir, "any.zip"), "x", "1")
	require.NoError(t, archive.Write(filepath.Join(install, AggregateName), []archive.Entry{
		{Name: "artifacts/keep@1.zip", SourcePath: src},
		{Name: "artifacts/old@1.zip", SourcePath: src},
		{Name: "artifacts/gone@1.zip", SourcePath: src},
		{Name: "artifacts/mid@0.5.zip", SourcePath: src},
		{Name: "stray.txt", Data: []byte("?")},
		{Name: depgraph.DescriptorName, Data: []byte("{}")},
	}, false))

	active := depgraph.ActiveSet{
		"keep": {ID: "keep", Version: "1"},
		"old":  {ID: "old", Version: "2"},
		"mid":  {ID: "mid", Version: "0.5"},
	}
	c := New(install, active)
	res, err := c.Coordinate(context.Background(), conflictPlan(t, dir))
	require.NoError(t, err)
	require.Equal(t, []string{"artifacts/keep@1.zip", "artifacts/mid@1.zip", depgraph.DescriptorName}, entryNames(t, res.Aggregate))
}

func TestCoordinateSkipsLoaderOwnedSuperseded(t *testing.T) {
	dir := t.TempDir()
	install := filepath.Join(dir, "install")
	plan := conflictPlan(t, dir)
	plan.NeedsRestart[0].SupersededPath = filepath.Join(install, "lib-1.5.zip")

	c := New(install, nil)
	res, err := c.Coordinate(context.Background(), plan)
	require.NoError(t, err)
	require.Empty(t, res.Superseded)
	pending, err := c.Pending()
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestCoordinateFailureIsTerminalForTheBoot(t *testing.T) {
	dir := t.TempDir()
	install := filepath.Join(dir, "install")
	require.NoError(t, os.WriteFile(install, []byte("not a directory"), 0o600))

	c := New(install, nil)
	res, err := c.Coordinate(context.Background(), conflictPlan(t, dir))
	require.Error(t, err)
	require.Equal(t, StateFailed, res.State)
	require.Equal(t, StateFailed, c.State())
}

// stickyFS fails renames of a path a fixed number of times, like a file a
// previous process still has open.
type stickyFS struct {
	rotation.OSFS
	failures map[string]int
	calls    map[string]int
}

func (s *stickyFS) Rename(oldPath, newPath string) error {
	s.calls[oldPath]++
	if s.failures[oldPath] < 0 || s.calls[oldPath] <= s.failures[oldPath] {
		return &os.PathError{Op: "rename", Path: oldPath, Err: errors.New("file in use")}
	}
	return os.Rename(oldPath, newPath)
}

func TestDisablePendingRetriesLockedFiles(t *testing.T) {
	dir := t.TempDir()
	install := filepath.Join(dir, "install")
	brief := artifact(t, filepath.Join(dir, "brief.zip"), "a", "1")
	stuck := artifact(t, filepath.Join(dir, "stuck.zip"), "b", "1")
	missing := filepath.Join(dir, "missing.zip")
	require.NoError(t, writePending(filepath.Join(install, PendingDisableName),
		&pendingRecord{Files: []string{brief, stuck, missing}}))

	fs := &stickyFS{failures: map[string]int{brief: 3, stuck: -1}, calls: map[string]int{}}
	c := New(install, nil, WithFS(fs), WithDisablePolicy(retry.Fixed(time.Millisecond, 5)))

	disabled, err := c.DisablePending(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{brief}, disabled)
	require.Equal(t, 4, fs.calls[brief])
	require.Equal(t, 6, fs.calls[stuck])
	require.FileExists(t, brief+DisabledSuffix)
	require.FileExists(t, stuck)
	require.Equal(t, []State{StateClean, StateDisablingSuperseded, StateClean}, c.History())

	pending, err := c.Pending()
	require.NoError(t, err)
	require.Equal(t, []string{stuck}, pending)

	// Once the lock is gone the record clears.
	fs.failures[stuck] = 0
	c = New(install, nil, WithFS(fs), WithDisablePolicy(retry.Fixed(time.Millisecond, 5)))
	disabled, err = c.DisablePending(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{stuck}, disabled)
	_, err = os.Stat(filepath.Join(install, PendingDisableName))
	require.True(t, os.IsNotExist(err))
}

func TestDisablePendingWithoutRecord(t *testing.T) {
	c := New(t.TempDir(), nil)
	disabled, err := c.DisablePending(context.Background())
	require.NoError(t, err)
	require.Empty(t, disabled)
	require.Equal(t, StateClean, c.State())
}
