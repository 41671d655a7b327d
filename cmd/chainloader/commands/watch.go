package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"git.home.luguber.info/inful/chainloader/internal/boot"
	"git.home.luguber.info/inful/chainloader/internal/logfields"
	"git.home.luguber.info/inful/chainloader/internal/metrics"
	"git.home.luguber.info/inful/chainloader/internal/watch"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Interval time.Duration `help:"Check interval, overrides watch.interval"`
}

func (wc *WatchCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stack, err := boot.Assemble(cfg, boot.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			slog.Warn("Failed to close watch stack", logfields.Error(err))
		}
	}()

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", otelhttp.NewHandler(metrics.HTTPHandler(stack.Registry), "metrics"))
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info("Serving metrics", slog.String("addr", cfg.Metrics.Listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", logfields.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	interval := cfg.Watch.IntervalDuration()
	if wc.Interval > 0 {
		interval = wc.Interval
	}
	return watch.New(stack.Engine, interval, cfg.PinPath()).Run(ctx)
}
