package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/chainloader/internal/metadata"
	"git.home.luguber.info/inful/chainloader/internal/resolution"
)

type countingChecker struct {
	calls atomic.Int64
	fail  bool
}

func (c *countingChecker) Check(context.Context) (resolution.CheckResult, error) {
	c.calls.Add(1)
	if c.fail {
		return resolution.CheckResult{}, os.ErrDeadlineExceeded
	}
	return resolution.CheckResult{
		Channel:         "stable",
		Remote:          &metadata.Descriptor{Version: "2.0"},
		UpdateAvailable: true,
	}, nil
}

func runWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
}

func TestWatcherChecksOnInterval(t *testing.T) {
	c := &countingChecker{}
	w := New(c, 20*time.Millisecond, "")
	runWatcher(t, w)

	require.Eventually(t, func() bool { return w.Checks() >= 3 }, 5*time.Second, 10*time.Millisecond)
	last, ok := w.Last()
	require.True(t, ok)
	require.True(t, last.UpdateAvailable)
	require.Equal(t, "2.0", last.Remote.Version)
}

func TestWatcherRechecksWhenPinFileChanges(t *testing.T) {
	dir := t.TempDir()
	pin := filepath.Join(dir, "chainloader.properties")
	c := &countingChecker{}
	w := New(c, time.Hour, pin, WithDebounce(10*time.Millisecond))
	runWatcher(t, w)

	// The first check runs immediately on start.
	require.Eventually(t, func() bool { return w.Checks() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(pin, []byte("pendingUpdateResolution=true\n"), 0o600))
	require.Eventually(t, func() bool { return w.Checks() >= 2 }, 5*time.Second, 10*time.Millisecond)

	// Unrelated files in the same directory are ignored.
	before := w.Checks()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, before, w.Checks())
}

func TestWatcherSurvivesFailedChecks(t *testing.T) {
	c := &countingChecker{fail: true}
	w := New(c, 20*time.Millisecond, "")
	runWatcher(t, w)

	require.Eventually(t, func() bool { return w.Checks() >= 2 }, 5*time.Second, 10*time.Millisecond)
	_, ok := w.Last()
	require.False(t, ok)
}

func TestWatcherRejectsMissingPinDirectory(t *testing.T) {
	w := New(&countingChecker{}, time.Hour, filepath.Join(t.TempDir(), "missing", "chainloader.properties"))
	require.Error(t, w.Run(context.Background()))
}
