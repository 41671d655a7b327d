// Package boot runs one full boot cycle: disable superseded files left by
// the previous run, resolve the managed artifact, scan its dependencies and
// hand conflicts to the restart coordinator.
package boot

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"git.home.luguber.info/inful/chainloader/internal/depgraph"
	"git.home.luguber.info/inful/chainloader/internal/logfields"
	"git.home.luguber.info/inful/chainloader/internal/metrics"
	"git.home.luguber.info/inful/chainloader/internal/resolution"
	"git.home.luguber.info/inful/chainloader/internal/restart"
	"git.home.luguber.info/inful/chainloader/internal/workspace"
)

// Resolver is the part of the resolution engine a boot needs.
type Resolver interface {
	Resolve(ctx context.Context, boot *resolution.BootContext) (resolution.Decision, error)
	Report(ctx context.Context, d resolution.Decision)
}

// Dependencies configures the dependency phase. A zero value disables it.
type Dependencies struct {
	Enabled bool
	// Dir holds externally supplied artifacts scanned as extra roots.
	Dir          string
	ArenaDir     string
	MonolithicID string
	Active       depgraph.ActiveSet
	Providers    *depgraph.Registry
}

// Runner wires the phases together.
type Runner struct {
	Engine       Resolver
	Coordinator  *restart.Coordinator
	Dependencies Dependencies
	Recorder     metrics.Recorder
}

// Result is everything one boot produced.
type Result struct {
	Decision resolution.Decision
	Plan     *depgraph.LoadPlan
	Restart  restart.Result
	Disabled []string
}

// Run executes the boot. Resolution problems never fail it; the returned
// error reports a pin state that could not be saved or a failed aggregate
// write, both after the outcome was reported.
func (r *Runner) Run(ctx context.Context, bc *resolution.BootContext) (Result, error) {
	var res Result
	if r.Recorder == nil {
		r.Recorder = metrics.NoopRecorder{}
	}
	if _, done := bc.Decision(); done {
		res.Decision, _ = r.Engine.Resolve(ctx, bc)
		return res, nil
	}

	if r.Coordinator != nil {
		disabled, err := r.Coordinator.DisablePending(ctx)
		if err != nil {
			slog.Warn("Failed to disable superseded artifacts", logfields.Error(err))
		}
		res.Disabled = disabled
	}

	decision, resolveErr := r.Engine.Resolve(ctx, bc)
	if decision.Repeated {
		res.Decision = decision
		return res, resolveErr
	}

	var coordErr error
	if r.Dependencies.Enabled {
		coordErr = r.dependencies(ctx, decision, &res)
		if res.Restart.RestartRequired {
			decision.Outcome = resolution.OutcomeRestartRequired
		}
	}

	res.Decision = decision
	r.Engine.Report(ctx, decision)
	if resolveErr != nil {
		return res, resolveErr
	}
	return res, coordErr
}

// dependencies resolves the tree rooted at the active artifact, the
// loader's aggregate and the externally supplied directory, then merges
// conflicts. Extracted files live only as long as this call, so the
// coordinator copies carriers out of the arena before cleanup. A scan
// failure is logged and skipped; only a failed merge is returned.
func (r *Runner) dependencies(ctx context.Context, d resolution.Decision, res *Result) error {
	roots := r.roots(d)
	if len(roots) == 0 {
		return nil
	}
	arena, err := workspace.NewArena(r.Dependencies.ArenaDir)
	if err != nil {
		slog.Warn("Dependency scan skipped", logfields.Error(err))
		return nil
	}
	defer func() {
		if err := arena.Cleanup(); err != nil {
			slog.Warn("Failed to clean up extracted artifacts", logfields.Error(err))
		}
	}()

	opts := []depgraph.Option{
		depgraph.WithActiveSet(r.Dependencies.Active),
		depgraph.WithMonolithicID(r.Dependencies.MonolithicID),
		depgraph.WithRecorder(r.Recorder),
	}
	if r.Dependencies.Providers != nil {
		opts = append(opts, depgraph.WithProviders(r.Dependencies.Providers))
	}
	plan, err := depgraph.New(arena, opts...).Resolve(ctx, roots...)
	if err != nil {
		slog.Warn("Dependency scan failed, continuing without", logfields.Error(err))
		return nil
	}
	res.Plan = plan
	if r.Coordinator == nil {
		return nil
	}
	res.Restart, err = r.Coordinator.Coordinate(ctx, plan)
	if err != nil {
		slog.Error("Failed to merge updated dependencies", logfields.Error(err))
	}
	return err
}

func (r *Runner) roots(d resolution.Decision) []string {
	var roots []string
	if d.Path != "" {
		roots = append(roots, d.Path)
	}
	if r.Coordinator != nil {
		if _, err := os.Stat(r.Coordinator.AggregatePath()); err == nil {
			roots = append(roots, r.Coordinator.AggregatePath())
		}
	}
	if r.Dependencies.Dir != "" {
		matches, err := filepath.Glob(filepath.Join(r.Dependencies.Dir, "*.zip"))
		if err != nil {
			slog.Warn("Invalid dependency directory", logfields.Path(r.Dependencies.Dir), logfields.Error(err))
		}
		sort.Strings(matches)
		roots = append(roots, matches...)
	}
	return roots
}
