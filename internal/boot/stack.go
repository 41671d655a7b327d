package boot

import (
	"io"
	"log/slog"
	"path/filepath"

	"github.com/nats-io/nats.go"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/chainloader/internal/config"
	"git.home.luguber.info/inful/chainloader/internal/depgraph"
	"git.home.luguber.info/inful/chainloader/internal/download"
	"git.home.luguber.info/inful/chainloader/internal/events"
	"git.home.luguber.info/inful/chainloader/internal/journal"
	"git.home.luguber.info/inful/chainloader/internal/logfields"
	"git.home.luguber.info/inful/chainloader/internal/metadata"
	"git.home.luguber.info/inful/chainloader/internal/metrics"
	"git.home.luguber.info/inful/chainloader/internal/pinstate"
	"git.home.luguber.info/inful/chainloader/internal/progress"
	"git.home.luguber.info/inful/chainloader/internal/prompt"
	"git.home.luguber.info/inful/chainloader/internal/resolution"
	"git.home.luguber.info/inful/chainloader/internal/restart"
	"git.home.luguber.info/inful/chainloader/internal/retry"
	"git.home.luguber.info/inful/chainloader/internal/rotation"
	"git.home.luguber.info/inful/chainloader/internal/transport"
)

// Options are per-invocation inputs that do not belong in the config file.
type Options struct {
	// BundledFile overrides update.bundled_glob.
	BundledFile string
	// In and Out enable the terminal prompt when update.interactive is set.
	In  io.Reader
	Out io.Writer
	UI  progress.UI
	// Providers adds dependency providers on top of the built-in ones.
	Providers map[string]depgraph.Provider
}

// Stack holds every collaborator built from one configuration.
type Stack struct {
	Config      *config.Config
	Registry    *prom.Registry
	Recorder    metrics.Recorder
	Journal     journal.Store
	Publisher   events.Publisher
	Pins        *pinstate.Store
	Artifacts   *rotation.Store
	Metadata    *metadata.Client
	Engine      *resolution.Engine
	Coordinator *restart.Coordinator
	Active      depgraph.ActiveSet
	Providers   *depgraph.Registry
}

// Assemble builds the stack. Optional sinks (journal, NATS) that cannot be
// opened are replaced by no-ops with a warning; the loader keeps working
// without them.
func Assemble(cfg *config.Config, opts Options) (*Stack, error) {
	if err := config.EnsureDirs(cfg); err != nil {
		return nil, err
	}

	s := &Stack{Config: cfg, Registry: prom.NewRegistry()}
	s.Recorder = metrics.NewPrometheusRecorder(s.Registry)

	s.Journal = journal.Noop{}
	if cfg.Journal.Path != "" {
		store, err := journal.NewSQLiteStore(cfg.Journal.Path)
		if err != nil {
			slog.Warn("Boot journal unavailable", logfields.Path(cfg.Journal.Path), logfields.Error(err))
		} else {
			s.Journal = store
		}
	}

	s.Publisher = events.Noop{}
	if cfg.Events.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject, nats.Name("chainloader-"+cfg.Component.ID))
		if err != nil {
			slog.Warn("Event publishing unavailable", logfields.URL(cfg.Events.NATSURL), logfields.Error(err))
		} else {
			s.Publisher = pub
		}
	}

	httpClient := transport.NewClient(transport.WithTimeouts(cfg.Remote.ConnectTimeoutDuration(), cfg.Remote.ReadTimeoutDuration()))
	s.Metadata = metadata.NewClient(cfg.Remote.BaseURL, cfg.Component.Platform, httpClient)
	s.Artifacts = rotation.New(cfg.ArtifactDir(), cfg.Component.BaseName, cfg.Component.Extension)
	s.Pins = pinstate.NewStore(cfg.PinPath())

	ui := opts.UI
	if ui == nil {
		ui = progress.NewLog(slog.Default(), cfg.Component.ID)
	}
	fetcher := download.New(httpClient, cfg.ArtifactDir(),
		download.WithPolicy(retry.FromDownloadConfig(cfg.Download)),
		download.WithUI(ui),
		download.WithRecorder(s.Recorder))

	prompter := prompt.Chain{}
	if cfg.Update.Interactive && opts.In != nil && opts.Out != nil {
		prompter = append(prompter, prompt.Terminal{In: opts.In, Out: opts.Out})
	}
	prompter = append(prompter, prompt.Fallback{Answer: cfg.Update.FallbackAnswer()})

	glob := cfg.Update.BundledGlob
	if opts.BundledFile != "" {
		glob = opts.BundledFile
	}

	s.Engine = resolution.New(resolution.Deps{
		Component:  cfg.Component.ID,
		Store:      s.Artifacts,
		Pins:       s.Pins,
		Metadata:   s.Metadata,
		Fetcher:    fetcher,
		Bundled:    resolution.FileBundled{Glob: glob},
		Prompter:   prompter,
		Journal:    s.Journal,
		Recorder:   s.Recorder,
		Publisher:  s.Publisher,
		AutoUpdate: cfg.Update.AutoUpdate,
		Branch:     cfg.Update.Branch,
		MarkerDir:  cfg.DataDir,
	})

	active, err := depgraph.LoadActiveSet(cfg.Dependencies.ActiveManifest)
	if err != nil {
		slog.Warn("Ignoring active dependency manifest", logfields.Error(err))
		active = depgraph.ActiveSet{}
	}
	s.Active = active

	s.Providers = depgraph.NewRegistry()
	for name, p := range opts.Providers {
		if err := s.Providers.Register(name, p); err != nil {
			return nil, err
		}
	}

	s.Coordinator = restart.New(cfg.Dependencies.InstallDir, active,
		restart.WithDisablePolicy(retry.Fixed(cfg.Restart.DisableIntervalDuration(), cfg.Restart.DisableAttempts-1)),
		restart.WithRecorder(s.Recorder))
	return s, nil
}

// Runner returns a boot runner over this stack.
func (s *Stack) Runner() *Runner {
	return &Runner{
		Engine:      s.Engine,
		Coordinator: s.Coordinator,
		Recorder:    s.Recorder,
		Dependencies: Dependencies{
			Enabled:      s.Config.Dependencies.Enabled,
			Dir:          s.Config.Dependencies.Dir,
			ArenaDir:     filepath.Join(s.Config.DataDir, "tmp"),
			MonolithicID: s.Config.Dependencies.MonolithicID,
			Active:       s.Active,
			Providers:    s.Providers,
		},
	}
}

// Close flushes the metrics textfile and releases the sinks.
func (s *Stack) Close() error {
	var firstErr error
	if path := s.Config.Metrics.Textfile; path != "" {
		if err := metrics.WriteTextfile(path, s.Registry); err != nil {
			slog.Warn("Failed to write metrics textfile", logfields.Path(path), logfields.Error(err))
			firstErr = err
		}
	}
	s.Publisher.Close()
	if err := s.Journal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
