package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/chainloader/internal/depgraph"
	"git.home.luguber.info/inful/chainloader/internal/workspace"
)

// GraphCmd implements the 'graph' command. It only reads: nothing is merged
// and no restart is requested.
type GraphCmd struct {
	Artifacts []string `arg:"" type:"existingfile" help:"Root artifacts to scan"`
	Active    string   `help:"Active dependency manifest, overrides dependencies.active_manifest" type:"path"`
}

func (gc *GraphCmd) Run(g *Global, root *CLI) error {
	monolithic := ""
	manifest := gc.Active
	arenaBase := os.TempDir()
	if _, err := os.Stat(root.Config); err == nil {
		cfg, err := root.loadConfig()
		if err != nil {
			return err
		}
		monolithic = cfg.Dependencies.MonolithicID
		if manifest == "" {
			manifest = cfg.Dependencies.ActiveManifest
		}
		arenaBase = filepath.Join(cfg.DataDir, "tmp")
		if err := os.MkdirAll(arenaBase, 0o750); err != nil {
			return err
		}
	}

	active, err := depgraph.LoadActiveSet(manifest)
	if err != nil {
		return err
	}
	arena, err := workspace.NewArena(arenaBase)
	if err != nil {
		return err
	}
	defer func() {
		if err := arena.Cleanup(); err != nil {
			slog.Warn("Failed to clean up extraction arena", "error", err)
		}
	}()

	plan, err := depgraph.New(arena,
		depgraph.WithActiveSet(active),
		depgraph.WithMonolithicID(monolithic),
	).Resolve(context.Background(), gc.Artifacts...)
	if err != nil {
		return err
	}
	return printPlan(out(g), plan)
}

func printPlan(w io.Writer, plan *depgraph.LoadPlan) error {
	_, _ = fmt.Fprintf(w, "Discovered %d artifacts (%d unique)\n", plan.Discovered(), plan.Unique())
	_, _ = fmt.Fprint(w, plan.Tree)
	_, _ = fmt.Fprintln(w, "Load order:")
	for i, n := range plan.Load {
		_, _ = fmt.Fprintf(w, "%3d. %s %s\n", i+1, n.ID, n.Version)
	}
	for _, n := range plan.Satisfied {
		_, _ = fmt.Fprintf(w, "already loaded: %s %s\n", n.ID, n.Version)
	}
	for _, u := range plan.NeedsRestart {
		_, _ = fmt.Fprintf(w, "restart required: %s %s -> %s (via %s)\n", u.ID, u.Active, u.Resolved, u.Carrier.DisplayName())
	}
	return nil
}
