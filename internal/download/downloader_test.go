package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
	"git.home.luguber.info/inful/chainloader/internal/progress"
	"git.home.luguber.info/inful/chainloader/internal/retry"
)

const (
	payload       = "hello"
	payloadSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	payloadMD5    = "5d41402abc4b2a76b9719d911017c592"
)

func fastPolicy() retry.Policy { return retry.Fixed(time.Millisecond, 4) }

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestDownloadVerifiesChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	for _, expected := range []string{payloadSHA256, strings.ToUpper(payloadSHA256), payloadMD5} {
		dir := t.TempDir()
		ui := &progress.Recorder{}
		d := New(srv.Client(), dir, WithPolicy(fastPolicy()), WithUI(ui))

		path, err := d.Download(context.Background(), srv.URL+"/a.zip", expected)
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, payload, string(data))
		require.Equal(t, 1, ui.Started)
		require.Equal(t, 1, ui.Finished)
		require.Equal(t, int64(len(payload)), ui.Updates[len(ui.Updates)-1])
	}
}

func TestDownloadUnverifiedSkipsChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := New(srv.Client(), dir, WithPolicy(fastPolicy()))

	path, err := d.DownloadUnverified(context.Background(), srv.URL+"/1-2.diff.zip")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, payload, string(data))

	_, err = d.Download(context.Background(), srv.URL+"/1-2.diff.zip", "")
	require.Error(t, err, "the verified path still rejects an empty checksum")
}

func TestChecksumMismatchExhaustsBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("tampered"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := New(srv.Client(), dir, WithPolicy(fastPolicy()))
	path, err := d.Download(context.Background(), srv.URL, payloadSHA256)
	require.Error(t, err)
	require.Empty(t, path)
	require.True(t, errors.HasCategory(err, errors.CategoryChecksum))
	require.Equal(t, int32(5), hits.Load())
	require.Empty(t, listDir(t, dir), "temp files are removed after a mismatch")
}

func TestTransientFailuresAreRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	dir := t.TempDir()
	path, err := New(srv.Client(), dir, WithPolicy(fastPolicy())).Download(context.Background(), srv.URL, payloadSHA256)
	require.NoError(t, err)
	require.Equal(t, int32(3), hits.Load())
	require.Len(t, listDir(t, dir), 1)
	require.FileExists(t, path)
}

func TestUnreachableIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(nil, t.TempDir(), WithPolicy(retry.Fixed(time.Millisecond, 1))).Download(context.Background(), url, payloadSHA256)
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryNetwork))
}

func TestCanceledContextStops(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.Client(), t.TempDir(), WithPolicy(fastPolicy())).Download(ctx, srv.URL, payloadSHA256)
	require.Error(t, err)
	require.LessOrEqual(t, hits.Load(), int32(1))
}
