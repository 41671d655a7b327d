package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/chainloader/internal/config"
)

// Global carries process-wide handles into subcommands.
type Global struct {
	In  io.Reader
	Out io.Writer
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"chainloader.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Boot   BootCmd   `cmd:"" default:"1" help:"Resolve the component and its dependencies for this start"`
	Status StatusCmd `cmd:"" help:"Show the installed version, pin state and recent boots"`
	Accept AcceptCmd `cmd:"" help:"Accept the pending update on the next boot"`
	Reject RejectCmd `cmd:"" help:"Reject the pending update"`
	Graph  GraphCmd  `cmd:"" help:"Print the dependency tree and load order of artifacts"`
	Watch  WatchCmd  `cmd:"" help:"Check for updates periodically until interrupted"`
	Init   InitCmd   `cmd:"" help:"Initialize a new configuration file"`
}

// AfterApply runs after flag parsing; setup logging once with the defaults.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// loadConfig reads the configuration and reapplies logging from it. -v
// always wins over the configured level.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(cfg.Logging, c.Verbose, os.Stderr))
	return cfg, nil
}

func newLogger(lc config.LoggingConfig, verbose bool, w io.Writer) *slog.Logger {
	level := config.NormalizeLogLevel(lc.Level).SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if config.NormalizeLogFormat(lc.Format) == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func out(g *Global) io.Writer {
	if g == nil || g.Out == nil {
		return os.Stdout
	}
	return g.Out
}
