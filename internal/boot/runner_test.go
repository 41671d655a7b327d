package boot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/chainloader/internal/archive"
	"git.home.luguber.info/inful/chainloader/internal/config"
	"git.home.luguber.info/inful/chainloader/internal/depgraph"
	"git.home.luguber.info/inful/chainloader/internal/digest"
	"git.home.luguber.info/inful/chainloader/internal/progress"
	"git.home.luguber.info/inful/chainloader/internal/resolution"
	"git.home.luguber.info/inful/chainloader/internal/restart"
)

func writeArtifact(t *testing.T, path string, d depgraph.Descriptor, nested map[string]string) string {
	t.Helper()
	data, err := json.Marshal(d)
	require.NoError(t, err)
	entries := []archive.Entry{{Name: depgraph.DescriptorName, Data: data}}
	for name, src := range nested {
		entries = append(entries, archive.Entry{Name: name, SourcePath: src})
	}
	require.NoError(t, archive.Write(path, entries, false))
	return path
}

type fixture struct {
	dir    string
	cfg    *config.Config
	server *httptest.Server
	ext    string
}

// newFixture serves app 1.0, which ships lib 2.0, while the host already
// has an externally supplied lib 1.5 loaded.
func newFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0o750))
	lib := writeArtifact(t, filepath.Join(src, "lib-2.0.zip"), depgraph.Descriptor{ID: "lib", Version: "2.0", Name: "Lib"}, nil)
	app := writeArtifact(t, filepath.Join(src, "app.zip"), depgraph.Descriptor{ID: "app", Version: "1.0",
		Jars: []depgraph.Spec{{File: "META-INF/lib-2.0.zip"}}}, map[string]string{"META-INF/lib-2.0.zip": lib})
	sum, err := digest.File(app, digest.SHA256)
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/v1/stable/linux-amd64/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `{"version":"1.0","url":%q,"checksum":%q}`, srv.URL+"/app.zip", sum)
	})
	mux.HandleFunc("/app.zip", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, app)
	})

	ext := filepath.Join(dir, "mods", "lib-1.5.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(ext), 0o750))
	writeArtifact(t, ext, depgraph.Descriptor{ID: "lib", Version: "1.5"}, nil)

	f := &fixture{dir: dir, server: srv, ext: ext}
	f.writeActive(t, "1.5", ext)

	cfg := &config.Config{
		Component:    config.ComponentConfig{ID: "app", Platform: "linux.amd64"},
		DataDir:      filepath.Join(dir, "data"),
		Remote:       config.RemoteConfig{BaseURL: srv.URL},
		Update:       config.UpdateConfig{AutoUpdate: "true"},
		Dependencies: config.DependenciesConfig{Enabled: true, ActiveManifest: filepath.Join(dir, "active.yaml")},
		Metrics:      config.MetricsConfig{Textfile: filepath.Join(dir, "metrics", "chainloader.prom")},
	}
	require.NoError(t, config.ApplyDefaults(cfg))
	f.cfg = cfg
	return f
}

func (f *fixture) writeActive(t *testing.T, version, path string) {
	body := fmt.Sprintf("components:\n  - id: lib\n    version: %q\n    path: %q\n", version, path)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "active.yaml"), []byte(body), 0o600))
}

func (f *fixture) stack(t *testing.T) *Stack {
	s, err := Assemble(f.cfg, Options{UI: progress.Noop{}})
	require.NoError(t, err)
	return s
}

func TestBootRequestsRestartThenDisablesSuperseded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.stack(t)
	res, err := s.Runner().Run(ctx, resolution.NewBootContext(""))
	require.NoError(t, err)
	require.Equal(t, resolution.OutcomeRestartRequired, res.Decision.Outcome)
	require.Equal(t, "1.0", res.Decision.Version)
	require.True(t, res.Restart.RestartRequired)
	require.Equal(t, []string{"Lib"}, res.Restart.Updated)
	require.Equal(t, []string{f.ext}, res.Restart.Superseded)
	require.FileExists(t, filepath.Join(f.cfg.Dependencies.InstallDir, restart.AggregateName))

	entries, err := s.Journal.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, string(resolution.OutcomeRestartRequired), entries[0].Outcome)
	require.NoError(t, s.Close())

	prom, err := os.ReadFile(f.cfg.Metrics.Textfile)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(prom), "chainloader_restart_requests_total"), string(prom))

	// The host restarted and now loads lib 2.0 from the aggregate.
	f.writeActive(t, "2.0", filepath.Join(f.cfg.Dependencies.InstallDir, restart.AggregateName))
	s = f.stack(t)
	defer func() { _ = s.Close() }()
	res, err = s.Runner().Run(ctx, resolution.NewBootContext(""))
	require.NoError(t, err)
	require.Equal(t, []string{f.ext}, res.Disabled)
	require.FileExists(t, f.ext+restart.DisabledSuffix)
	require.Equal(t, resolution.OutcomeUnchanged, res.Decision.Outcome)
	require.False(t, res.Restart.RestartRequired)
	require.NotNil(t, res.Plan)
	require.Equal(t, 1, len(res.Plan.Satisfied))
}

func TestBootRunsOncePerContext(t *testing.T) {
	f := newFixture(t)
	f.cfg.Dependencies.Enabled = false
	s := f.stack(t)
	defer func() { _ = s.Close() }()

	bc := resolution.NewBootContext("")
	first, err := s.Runner().Run(context.Background(), bc)
	require.NoError(t, err)
	require.Equal(t, resolution.OutcomeActivated, first.Decision.Outcome)

	second, err := s.Runner().Run(context.Background(), bc)
	require.NoError(t, err)
	require.True(t, second.Decision.Repeated)
	require.Equal(t, first.Decision.Version, second.Decision.Version)

	entries, err := s.Journal.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestBootSurfacesAggregateFailure(t *testing.T) {
	f := newFixture(t)
	f.cfg.Dependencies.InstallDir = filepath.Join(f.dir, "blocked", "install")
	s := f.stack(t)
	defer func() { _ = s.Close() }()
	require.NoError(t, os.RemoveAll(f.cfg.Dependencies.InstallDir))
	require.NoError(t, os.WriteFile(f.cfg.Dependencies.InstallDir, []byte("file"), 0o600))

	res, err := s.Runner().Run(context.Background(), resolution.NewBootContext(""))
	require.Error(t, err)
	require.Equal(t, restart.StateFailed, res.Restart.State)
	require.Equal(t, resolution.OutcomeActivated, res.Decision.Outcome)
}
