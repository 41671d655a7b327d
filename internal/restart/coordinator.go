// Package restart handles dependencies that cannot be swapped while the
// current process runs. Newer copies are merged into a loader-owned
// aggregate artifact picked up on the next boot, and the externally
// supplied copies they supersede are disabled once the old process is gone.
package restart

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"git.home.luguber.info/inful/chainloader/internal/archive"
	"git.home.luguber.info/inful/chainloader/internal/depgraph"
	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
	"git.home.luguber.info/inful/chainloader/internal/logfields"
	"git.home.luguber.info/inful/chainloader/internal/metrics"
	"git.home.luguber.info/inful/chainloader/internal/retry"
	"git.home.luguber.info/inful/chainloader/internal/rotation"
)

const (
	AggregateName        = "chainloader-dependencies.zip"
	AggregateID          = "chainloader-dependencies"
	aggregateDisplayName = "Chainloader Dependencies"
	artifactsDir         = "artifacts/"
)

// State is where the coordinator is in the merge and restart cycle.
type State string

const (
	StateClean               State = "clean"
	StateNeedsMerge          State = "needs_merge"
	StateMerged              State = "merged"
	StateRestartRequested    State = "restart_requested"
	StateDisablingSuperseded State = "disabling_superseded"
	StateFailed              State = "failed"
)

var allowed = map[State][]State{
	StateClean:               {StateNeedsMerge, StateDisablingSuperseded},
	StateNeedsMerge:          {StateMerged, StateFailed},
	StateMerged:              {StateRestartRequested},
	StateRestartRequested:    {},
	StateDisablingSuperseded: {StateClean},
	StateFailed:              {},
}

var entryPattern = regexp.MustCompile(`^artifacts/(.+)@(.+)\.zip$`)

// Result is what Coordinate decided.
type Result struct {
	State           State
	RestartRequired bool
	// Updated holds display names of the merged artifacts.
	Updated   []string
	Aggregate string
	// Superseded lists files queued for disabling on the next start.
	Superseded []string
}

// Coordinator runs one boot's restart handling.
type Coordinator struct {
	installDir string
	active     depgraph.ActiveSet
	policy     retry.Policy
	fs         rotation.FS
	recorder   metrics.Recorder

	state   State
	history []State
}

type Option func(*Coordinator)

// WithDisablePolicy sets how long a locked superseded file is retried.
func WithDisablePolicy(p retry.Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

func WithFS(fs rotation.FS) Option {
	return func(c *Coordinator) { c.fs = fs }
}

func WithRecorder(r metrics.Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// New returns a coordinator owning installDir. active is the set of
// dependencies the host loaded before resolution ran.
func New(installDir string, active depgraph.ActiveSet, opts ...Option) *Coordinator {
	if active == nil {
		active = depgraph.ActiveSet{}
	}
	c := &Coordinator{
		installDir: installDir,
		active:     active,
		policy:     retry.Fixed(10*time.Millisecond, 99),
		fs:         rotation.OSFS{},
		recorder:   metrics.NoopRecorder{},
		state:      StateClean,
		history:    []State{StateClean},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) State() State { return c.state }

// History lists every state entered, starting with Clean.
func (c *Coordinator) History() []State { return append([]State(nil), c.history...) }

func (c *Coordinator) AggregatePath() string { return filepath.Join(c.installDir, AggregateName) }

func (c *Coordinator) transition(to State) {
	ok := false
	for _, s := range allowed[c.state] {
		if s == to {
			ok = true
			break
		}
	}
	if !ok {
		panic(fmt.Sprintf("restart: invalid transition %s -> %s", c.state, to))
	}
	slog.Debug("Restart coordinator transition", logfields.State(string(to)), slog.String("from", string(c.state)))
	c.state = to
	c.history = append(c.history, to)
}

// Coordinate merges the plan's restart-requiring dependencies into the
// aggregate. Without such dependencies nothing is written. A write failure
// leaves the previous aggregate in place and puts the coordinator in
// Failed for the rest of this boot.
func (c *Coordinator) Coordinate(ctx context.Context, plan *depgraph.LoadPlan) (Result, error) {
	if c.state != StateClean {
		return Result{State: c.state}, errors.InternalError("restart coordinator already used this boot").
			WithContext("state", string(c.state)).Build()
	}
	if plan == nil || !plan.RestartRequired() {
		return Result{State: StateClean}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{State: c.state}, err
	}
	c.transition(StateNeedsMerge)

	carriers := make(map[string]*depgraph.Node)
	for _, u := range plan.NeedsRestart {
		carrier := u.Carrier
		if carrier == nil {
			carrier = u.Node
		}
		carriers[carrier.ID] = carrier
	}

	if err := c.writeAggregate(carriers); err != nil {
		c.transition(StateFailed)
		return Result{State: StateFailed}, err
	}
	c.transition(StateMerged)

	res := Result{Aggregate: c.AggregatePath()}
	for _, n := range sortedCarriers(carriers) {
		res.Updated = append(res.Updated, n.DisplayName())
	}

	superseded := c.superseded(plan.NeedsRestart)
	if len(superseded) > 0 {
		rec, err := readPending(c.pendingPath())
		if err != nil {
			slog.Warn("Ignoring unreadable pending-disable record", logfields.Error(err))
			rec = &pendingRecord{}
		}
		rec.add(superseded...)
		if err := writePending(c.pendingPath(), rec); err != nil {
			// The merge already happened; disabling can be redone by hand.
			slog.Warn("Failed to record superseded artifacts", logfields.Error(err))
		} else {
			res.Superseded = superseded
		}
	}

	c.transition(StateRestartRequested)
	c.recorder.IncRestartRequested()
	res.State = StateRestartRequested
	res.RestartRequired = true
	slog.Info("Dependencies updated, restart required",
		logfields.Path(res.Aggregate), slog.String("updated", strings.Join(res.Updated, ", ")))
	return res, nil
}

func sortedCarriers(m map[string]*depgraph.Node) []*depgraph.Node {
	out := make([]*depgraph.Node, 0, len(m))
	for _, n := range m {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func entryName(id, version string) string {
	return artifactsDir + id + "@" + version + ".zip"
}

func (c *Coordinator) writeAggregate(carriers map[string]*depgraph.Node) error {
	path := c.AggregatePath()
	var entries []archive.Entry

	if _, err := c.fs.Stat(path); err == nil {
		existing, err := archive.Open(path)
		if err != nil {
			slog.Warn("Replacing unreadable dependency aggregate", logfields.Path(path), logfields.Error(err))
		} else {
			defer func() { _ = existing.Close() }()
			entries = c.keptEntries(existing, carriers)
		}
	}

	for _, n := range sortedCarriers(carriers) {
		slog.Debug("Adding dependency to aggregate", logfields.Dependency(n.ID), logfields.Version(n.Version), logfields.Path(n.Path))
		entries = append(entries, archive.Entry{Name: entryName(n.ID, n.Version), SourcePath: n.Path})
	}

	desc := depgraph.Descriptor{ID: AggregateID, Version: "0", Name: aggregateDisplayName}
	for _, e := range entries {
		desc.Jars = append(desc.Jars, depgraph.Spec{File: e.Name})
	}
	sort.Slice(desc.Jars, func(i, j int) bool { return desc.Jars[i].File < desc.Jars[j].File })
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to encode aggregate descriptor").Build()
	}
	entries = append(entries, archive.Entry{Name: depgraph.DescriptorName, Data: data})

	if err := archive.Write(path, entries, false); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write dependency aggregate").
			WithContext("path", path).Fatal().Build()
	}
	return nil
}

// keptEntries copies inner artifacts that are still in use: not being
// replaced now, and loaded by the host at exactly that version.
func (c *Coordinator) keptEntries(existing *archive.Archive, carriers map[string]*depgraph.Node) []archive.Entry {
	var kept []archive.Entry
	for _, f := range existing.Files() {
		if f.Name == depgraph.DescriptorName {
			continue
		}
		m := entryPattern.FindStringSubmatch(f.Name)
		if m == nil {
			slog.Warn("Dropping unrecognized aggregate entry", slog.String("entry", f.Name))
			continue
		}
		id, version := m[1], m[2]
		if _, replaced := carriers[id]; replaced {
			slog.Debug("Removing aggregate entry, update scheduled", logfields.Dependency(id), logfields.Version(version))
			continue
		}
		a, loaded := c.active[id]
		if !loaded {
			slog.Warn("Aggregate entry was not loaded, removing", logfields.Dependency(id), logfields.Version(version))
			continue
		}
		if a.Version != version {
			slog.Debug("Removing unused aggregate entry", logfields.Dependency(id), logfields.Version(version))
			continue
		}
		slog.Debug("Keeping aggregate entry, currently in use", logfields.Dependency(id), logfields.Version(version))
		kept = append(kept, archive.Entry{Name: f.Name, From: f})
	}
	return kept
}

// superseded returns externally supplied files that the merge replaces.
// Files inside the install directory belong to the loader and are left alone.
func (c *Coordinator) superseded(updates []depgraph.Update) []string {
	var out []string
	seen := map[string]bool{}
	install, _ := filepath.Abs(c.installDir)
	for _, u := range updates {
		p := u.SupersededPath
		if p == "" || seen[p] {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil && install != "" && strings.HasPrefix(abs, install+string(filepath.Separator)) {
			continue
		}
		seen[p] = true
		slog.Info("Disabling outdated dependency on next start", logfields.Dependency(u.ID), logfields.Path(p))
		out = append(out, p)
	}
	return out
}
