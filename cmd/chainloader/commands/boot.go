package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/chainloader/internal/boot"
	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
	"git.home.luguber.info/inful/chainloader/internal/resolution"
)

// BootCmd implements the 'boot' command. It prints the path of the artifact
// to start on stdout and exits 3 when the host has to restart first.
type BootCmd struct {
	Branch      string `help:"Channel to use for this boot only"`
	BundledFile string `name:"bundled-file" help:"Bundled version descriptor, overrides update.bundled_glob" type:"path"`
}

func (b *BootCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stack, err := boot.Assemble(cfg, boot.Options{
		BundledFile: b.BundledFile,
		In:          g.In,
		Out:         out(g),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			slog.Warn("Failed to close boot stack", "error", err)
		}
	}()

	res, err := stack.Runner().Run(ctx, resolution.NewBootContext(b.Branch))
	if err != nil {
		return err
	}
	return report(out(g), res)
}

func report(w io.Writer, res boot.Result) error {
	d := res.Decision
	if d.Outcome == resolution.OutcomeAbsent {
		return errors.MetadataError("no artifact available for this boot").
			WithContext("channel", d.Channel).Build()
	}
	if res.Restart.RestartRequired {
		for _, path := range res.Restart.Superseded {
			_, _ = fmt.Fprintf(w, "superseded: %s\n", path)
		}
		return errors.ConflictError("dependencies were merged, restart required").
			WithContext("updated", res.Restart.Updated).
			WithContext("aggregate", res.Restart.Aggregate).
			WithSeverity(errors.SeverityInfo).Build()
	}
	_, _ = fmt.Fprintln(w, d.Path)
	if res.Plan != nil {
		for _, n := range res.Plan.Load {
			_, _ = fmt.Fprintf(w, "load: %s\n", n.Path)
		}
	}
	return nil
}
