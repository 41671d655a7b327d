// Package watch keeps checking for updates while the managed component
// runs. A gocron job queries the remote channel at a fixed interval, and an
// fsnotify watcher on the pin file reacts to accept/reject decisions made
// from another process by checking again right away.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/chainloader/internal/logfields"
	"git.home.luguber.info/inful/chainloader/internal/pinstate"
	"git.home.luguber.info/inful/chainloader/internal/resolution"
)

// Checker runs the check-only path of the resolution engine.
type Checker interface {
	Check(ctx context.Context) (resolution.CheckResult, error)
}

// Watcher schedules update checks.
type Watcher struct {
	checker  Checker
	interval time.Duration
	pinPath  string
	debounce time.Duration

	trigger chan struct{}
	checks  atomic.Int64
	running sync.Mutex

	mu   sync.Mutex
	last *resolution.CheckResult
}

type Option func(*Watcher)

// WithDebounce sets how long pin file events are coalesced.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New returns a watcher checking every interval. pinPath may be empty to
// skip file watching.
func New(checker Checker, interval time.Duration, pinPath string, opts ...Option) *Watcher {
	w := &Watcher{
		checker:  checker,
		interval: interval,
		pinPath:  pinPath,
		debounce: 500 * time.Millisecond,
		trigger:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Checks is the number of completed checks.
func (w *Watcher) Checks() int64 { return w.checks.Load() }

// Last returns the most recent successful check.
func (w *Watcher) Last() (resolution.CheckResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return resolution.CheckResult{}, false
	}
	return *w.last, true
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() { w.check(ctx) }),
		gocron.WithName("update-check"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to create update check job: %w", err)
	}

	var fsw *fsnotify.Watcher
	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.pinPath != "" {
		fsw, err = fsnotify.NewWatcher()
		if err != nil {
			_ = s.Shutdown()
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		defer func() { _ = fsw.Close() }()
		// Watch the directory: the pin file is replaced by rename on every save.
		if err := fsw.Add(filepath.Dir(w.pinPath)); err != nil {
			_ = s.Shutdown()
			return fmt.Errorf("failed to watch pin directory: %w", err)
		}
		events, errs = fsw.Events, fsw.Errors
	}

	slog.Info("Watching for updates", slog.Duration("interval", w.interval), logfields.Path(w.pinPath))
	s.Start()
	defer func() {
		if err := s.Shutdown(); err != nil {
			slog.Warn("Scheduler shutdown failed", logfields.Error(err))
		}
	}()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	pinName := filepath.Base(w.pinPath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != pinName || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.debounce, func() {
				select {
				case w.trigger <- struct{}{}:
				default:
				}
			})
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("Pin file watcher error", logfields.Error(err))
		case <-w.trigger:
			w.logPin()
			w.check(ctx)
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	w.running.Lock()
	defer w.running.Unlock()
	res, err := w.checker.Check(ctx)
	w.checks.Add(1)
	if err != nil {
		slog.Warn("Update check failed", logfields.Error(err))
		return
	}
	w.mu.Lock()
	w.last = &res
	w.mu.Unlock()
	if res.UpdateAvailable {
		slog.Info("Update available", logfields.Channel(res.Channel), logfields.Version(res.Remote.Version))
	} else {
		slog.Debug("No update available", logfields.Channel(res.Channel))
	}
}

func (w *Watcher) logPin() {
	st, err := pinstate.NewStore(w.pinPath).Load()
	if err != nil {
		slog.Warn("Pin file changed but could not be read", logfields.Path(w.pinPath), logfields.Error(err))
		return
	}
	answer := "unset"
	if r := st.Resolution(); r != nil {
		answer = fmt.Sprint(*r)
	}
	slog.Info("Pin file changed",
		slog.String("pending", st.PendingVersion()),
		slog.String("resolution", answer),
		slog.String("override", st.Override()))
}
