// Package resolution decides, once per boot, which version of the managed
// artifact is active.
//
// Decide is a pure function over the local, bundled and remote signals and
// the persisted pin state. Engine gathers those signals, runs Decide, performs
// the resulting install and persists the new pin state. Network trouble never
// fails a boot: the engine falls back to whatever is installed.
package resolution

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"git.home.luguber.info/inful/chainloader/internal/archive"
	"git.home.luguber.info/inful/chainloader/internal/config"
	"git.home.luguber.info/inful/chainloader/internal/digest"
	"git.home.luguber.info/inful/chainloader/internal/events"
	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
	"git.home.luguber.info/inful/chainloader/internal/journal"
	"git.home.luguber.info/inful/chainloader/internal/logfields"
	"git.home.luguber.info/inful/chainloader/internal/metadata"
	"git.home.luguber.info/inful/chainloader/internal/metrics"
	"git.home.luguber.info/inful/chainloader/internal/pinstate"
	"git.home.luguber.info/inful/chainloader/internal/prompt"
	"git.home.luguber.info/inful/chainloader/internal/rotation"
	"git.home.luguber.info/inful/chainloader/internal/versioncmp"
)

var tracer = otel.Tracer("git.home.luguber.info/inful/chainloader/internal/resolution")

// MetadataSource answers which version a channel currently offers.
type MetadataSource interface {
	Latest(ctx context.Context, channel string) (*metadata.Descriptor, error)
	Changelog(ctx context.Context, version string) (string, error)
}

// Fetcher downloads temp files into the artifact directory. Download verifies
// the digest; DownloadUnverified serves update diffs, which are checked after
// they are applied.
type Fetcher interface {
	Download(ctx context.Context, url, expectedChecksum string) (string, error)
	DownloadUnverified(ctx context.Context, url string) (string, error)
}

// Deps are the engine's collaborators. Store, Pins, Metadata and Fetcher are
// required; the rest default to no-ops.
type Deps struct {
	Component string
	Store     *rotation.Store
	Pins      *pinstate.Store
	Metadata  MetadataSource
	Fetcher   Fetcher
	Bundled   BundledSource
	Prompter  prompt.Prompter
	Journal   journal.Store
	Recorder  metrics.Recorder
	Publisher events.Publisher

	// AutoUpdate is the configured mode (environment already applied); the
	// pin file may still override it.
	AutoUpdate string
	// Branch is update.branch from the config file.
	Branch string
	// MarkerDir holds an optional branch.txt.
	MarkerDir string

	Now func() time.Time
}

// Engine runs version resolution for one managed component.
type Engine struct {
	d Deps
}

// New fills defaults and returns an engine.
func New(d Deps) *Engine {
	if d.Bundled == nil {
		d.Bundled = NoBundled{}
	}
	if d.Prompter == nil {
		d.Prompter = prompt.Fallback{}
	}
	if d.Journal == nil {
		d.Journal = journal.Noop{}
	}
	if d.Recorder == nil {
		d.Recorder = metrics.NoopRecorder{}
	}
	if d.Publisher == nil {
		d.Publisher = events.Noop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{d: d}
}

// signals is the gathered, not yet decided, state of one resolution.
type signals struct {
	loadedPin *pinstate.State
	input     Input
	channel   string
}

func (e *Engine) gather(ctx context.Context, branchOverride string, queryRemote func(Input) bool) signals {
	pin, err := e.d.Pins.Load()
	if err != nil {
		slog.Warn("Could not read pin file, starting from empty state", logfields.Path(e.d.Pins.Path()), logfields.Error(err))
	}

	active := e.findActive()

	var drift bool
	if active != nil {
		meta, err := e.d.Store.ReadMeta()
		if err != nil {
			slog.Warn("Ignoring artifact metadata", logfields.Error(err))
		}
		if d, actual, err := rotation.Drift(active.Path, meta); err != nil {
			slog.Warn("Could not verify active artifact", logfields.Path(active.Path), logfields.Error(err))
		} else if d {
			slog.Warn("Active artifact does not match its recorded checksum",
				logfields.Path(active.Path), logfields.Checksum(actual), slog.String("expected", meta.Checksum))
			drift = true
		}
	}

	bundled, err := e.d.Bundled.Find(ctx)
	if err != nil {
		slog.Warn("Bundled version lookup failed", logfields.Error(err))
		bundled = nil
	}

	mode := config.ResolveAutoUpdate(bundled != nil, pin.AutoUpdate(), e.d.AutoUpdate)
	channel := config.ResolveBranch(config.BranchSources{
		Override:  branchOverride,
		Config:    e.d.Branch,
		PinFile:   pin.Branch(),
		MarkerDir: e.d.MarkerDir,
	})

	in := Input{Active: active, Bundled: bundled, Pin: pin, Mode: mode, Drift: drift}
	if queryRemote(in) {
		remote, err := e.d.Metadata.Latest(ctx, channel)
		if err != nil {
			slog.Warn("No update information available", logfields.Channel(channel), logfields.Error(err))
		} else {
			in.Remote = remote
		}
	}
	return signals{loadedPin: pin, input: in, channel: channel}
}

// findActive returns the installed artifact with its recorded version. A file
// without a sidecar is identified by its own sha256, which never equals a
// published version and so always compares as outdated.
func (e *Engine) findActive() *Artifact {
	cur, ok, err := e.d.Store.FindCurrent()
	if err != nil {
		slog.Warn("Could not look up installed artifact", logfields.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	a := &Artifact{Path: cur.Path}
	meta, err := e.d.Store.ReadMeta()
	if err == nil && meta != nil && meta.Version != "" {
		a.Version, a.Checksum = meta.Version, meta.Checksum
		return a
	}
	sum, err := digest.File(cur.Path, digest.SHA256)
	if err != nil {
		slog.Warn("Could not read installed artifact", logfields.Path(cur.Path), logfields.Error(err))
		return nil
	}
	a.Version, a.Checksum = sum, sum
	return a
}

// Resolve runs the boot resolution once per boot context. Later calls return
// the first decision with Repeated set. The returned error is only non-nil
// when the pin state could not be persisted; the decision is valid either way.
func (e *Engine) Resolve(ctx context.Context, boot *BootContext) (Decision, error) {
	if !boot.TryBegin() {
		d, _ := boot.Decision()
		d.BootID = boot.ID
		d.Repeated = true
		return d, nil
	}

	start := e.d.Now()
	ctx, span := tracer.Start(ctx, "resolution.resolve", trace.WithAttributes(
		attribute.String("boot.id", boot.ID),
		attribute.String("component", e.d.Component),
	))
	defer span.End()

	sig := e.gather(ctx, boot.BranchOverride, NeedsRemote)
	in := sig.input
	plan := Decide(in)

	if plan.Prompt {
		if answer := e.ask(ctx, in.Remote); answer != nil {
			answered := plan.Pin.Clone()
			answered.SetResolution(*answer)
			in.Pin = answered
			plan = Decide(in)
		}
	}

	decision := Decision{
		BootID:  boot.ID,
		Channel: sig.channel,
		Mode:    string(in.Mode),
	}
	if in.Active != nil {
		decision.PreviousVersion = in.Active.Version
	}

	finalPin := plan.Pin
	switch plan.Action {
	case ActionInstallBundled:
		path, err := e.installBundled(in.Bundled)
		if err != nil {
			slog.Error("Failed to install bundled version", logfields.Version(in.Bundled.Version), logfields.Error(err))
			finalPin = plan.FallbackPin
			e.keep(&decision, in.Active)
		} else {
			decision.Outcome, decision.Version, decision.Path, decision.Source = OutcomeActivated, in.Bundled.Version, path, "bundled"
		}
	case ActionInstallRemote:
		base := in.Active
		if in.Drift {
			base = nil
		}
		path, source, err := e.installRemote(ctx, in.Remote, base)
		if err != nil {
			slog.Error("Failed to install remote version", logfields.Version(in.Remote.Version), logfields.Error(err))
			finalPin = plan.FallbackPin
			e.keep(&decision, in.Active)
		} else {
			decision.Outcome, decision.Version, decision.Path, decision.Source = OutcomeActivated, in.Remote.Version, path, source
		}
	default:
		e.keep(&decision, in.Active)
	}
	decision.PendingVersion = finalPin.PendingVersion()

	var persistErr error
	if wrote, err := e.d.Pins.SaveIfChanged(sig.loadedPin, finalPin); err != nil {
		slog.Error("Failed to persist pin state", logfields.Path(e.d.Pins.Path()), logfields.Error(err))
		persistErr = err
	} else if wrote {
		slog.Debug("Pin state updated", logfields.Path(e.d.Pins.Path()))
	}

	slog.Info("Resolved component version",
		logfields.BootID(boot.ID),
		logfields.Component(e.d.Component),
		logfields.Outcome(string(decision.Outcome)),
		logfields.Version(decision.Version),
		logfields.Channel(decision.Channel),
		logfields.Mode(decision.Mode),
		slog.String("reason", plan.Reason))

	span.SetAttributes(attribute.String("outcome", string(decision.Outcome)), attribute.String("version", decision.Version))
	e.d.Recorder.ObserveResolveDuration(e.d.Now().Sub(start))
	e.d.Recorder.SetPendingUpdate(decision.PendingVersion != "")
	boot.Finish(decision)
	return decision, persistErr
}

// Report records a finished boot in the journal, metrics and event stream.
// It is separate from Resolve so the dependency phase can still turn the
// outcome into a restart request.
func (e *Engine) Report(ctx context.Context, d Decision) {
	e.d.Recorder.IncBootOutcome(string(d.Outcome))
	entry := journal.Entry{
		BootID:          d.BootID,
		Timestamp:       e.d.Now(),
		Component:       e.d.Component,
		Outcome:         string(d.Outcome),
		Version:         d.Version,
		PreviousVersion: d.PreviousVersion,
		Channel:         d.Channel,
		Path:            d.Path,
		Detail:          map[string]string{},
	}
	if d.Source != "" {
		entry.Detail["source"] = d.Source
	}
	if d.PendingVersion != "" {
		entry.Detail["pending"] = d.PendingVersion
	}
	if err := e.d.Journal.Record(ctx, entry); err != nil {
		slog.Warn("Failed to record boot in journal", logfields.Error(err))
	}
	if err := e.d.Publisher.Publish(ctx, events.Outcome{
		BootID:          d.BootID,
		Component:       e.d.Component,
		Outcome:         string(d.Outcome),
		Version:         d.Version,
		PreviousVersion: d.PreviousVersion,
		Channel:         d.Channel,
		PendingVersion:  d.PendingVersion,
		RestartRequired: d.Outcome == OutcomeRestartRequired,
		Timestamp:       e.d.Now().UTC(),
	}); err != nil {
		slog.Warn("Failed to publish boot outcome", logfields.Error(err))
	}
}

func (e *Engine) keep(d *Decision, active *Artifact) {
	if active == nil {
		d.Outcome = OutcomeAbsent
		return
	}
	d.Outcome, d.Version, d.Path = OutcomeUnchanged, active.Version, active.Path
}

func (e *Engine) ask(ctx context.Context, remote *metadata.Descriptor) *bool {
	title := fmt.Sprintf("An update for %s is available: version %s", e.d.Component, remote.Version)
	description := ""
	if summary, err := e.d.Metadata.Changelog(ctx, remote.Version); err != nil {
		slog.Debug("No changelog available", logfields.Version(remote.Version), logfields.Error(err))
	} else {
		description = prompt.FlattenChangelog(summary)
	}
	answer, err := e.d.Prompter.AskUser(ctx, title, description)
	if err != nil {
		slog.Warn("Could not ask about pending update", logfields.Version(remote.Version), logfields.Error(err))
		return nil
	}
	return answer
}

// installRemote installs r, patching base with r's diff when one is offered.
// Any failure on the diff path falls back to the full download.
func (e *Engine) installRemote(ctx context.Context, r *metadata.Descriptor, base *Artifact) (path, source string, err error) {
	if r.DiffURL != "" && base != nil {
		patched, diffErr := e.installDiff(ctx, r, base)
		if diffErr == nil {
			return patched, "diff", nil
		}
		slog.Warn("Diff update failed, downloading full artifact",
			logfields.Version(r.Version), logfields.URL(r.DiffURL), logfields.Error(diffErr))
	}
	tmp, err := e.d.Fetcher.Download(ctx, r.URL, r.Checksum)
	if err != nil {
		return "", "", err
	}
	path, err = e.commit(tmp, rotation.Meta{Version: r.Version, Checksum: r.Checksum, Source: "remote"})
	return path, "remote", err
}

func (e *Engine) installDiff(ctx context.Context, r *metadata.Descriptor, base *Artifact) (string, error) {
	diff, err := e.d.Fetcher.DownloadUnverified(ctx, r.DiffURL)
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(diff) }()

	tmp, err := e.d.Store.CreateTemp(".patched-*.part")
	if err != nil {
		return "", err
	}
	patched := tmp.Name()
	_ = tmp.Close()
	if err := archive.Patch(patched, base.Path, diff); err != nil {
		_ = os.Remove(patched)
		return "", err
	}
	actual, err := digest.File(patched, digest.ForChecksum(r.Checksum))
	if err != nil {
		_ = os.Remove(patched)
		return "", errors.WrapError(err, errors.CategoryFileSystem, "failed to digest patched artifact").Build()
	}
	if !digest.Matches(actual, r.Checksum) {
		_ = os.Remove(patched)
		return "", errors.ChecksumError("patched artifact checksum did not match").
			WithContext("diff", r.DiffURL).WithContext("expected", r.Checksum).WithContext("actual", actual).Build()
	}
	return e.commit(patched, rotation.Meta{Version: r.Version, Checksum: r.Checksum, Source: "diff"})
}

func (e *Engine) installBundled(b *Bundled) (string, error) {
	src, err := os.Open(b.Path)
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryFileSystem, "failed to open bundled artifact").
			WithContext("path", b.Path).Build()
	}
	defer func() { _ = src.Close() }()

	tmp, err := e.d.Store.CreateTemp(".bundled-*.part")
	if err != nil {
		return "", err
	}
	algo := digest.SHA256
	if b.Checksum != "" {
		algo = digest.ForChecksum(b.Checksum)
	}
	h := algo.New()
	_, copyErr := io.Copy(io.MultiWriter(tmp, h), src)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		return "", errors.WrapError(firstErr(copyErr, closeErr), errors.CategoryFileSystem, "failed to copy bundled artifact").Build()
	}
	actual := digest.Sum(h)
	if b.Checksum != "" && !digest.Matches(actual, b.Checksum) {
		_ = os.Remove(tmp.Name())
		return "", errors.ChecksumError("bundled artifact checksum did not match").
			WithContext("path", b.Path).WithContext("expected", b.Checksum).WithContext("actual", actual).Build()
	}
	return e.commit(tmp.Name(), rotation.Meta{Version: b.Version, Checksum: actual, Source: "bundled"})
}

func (e *Engine) commit(tmp string, meta rotation.Meta) (string, error) {
	path, err := e.d.Store.Commit(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := e.d.Store.WriteMeta(meta); err != nil {
		return "", err
	}
	return path, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// CheckResult is the outcome of a background check.
type CheckResult struct {
	Channel         string
	Remote          *metadata.Descriptor
	UpdateAvailable bool
	PendingVersion  string
}

// Check queries the channel without installing anything. Newer versions are
// recorded as pending in prompt mode; in full mode they are installed on the
// next boot. Prompts are never shown from here.
func (e *Engine) Check(ctx context.Context) (CheckResult, error) {
	ctx, span := tracer.Start(ctx, "resolution.check")
	defer span.End()

	sig := e.gather(ctx, "", func(Input) bool { return true })
	in := sig.input
	res := CheckResult{Channel: sig.channel, Remote: in.Remote}
	if in.Remote == nil {
		return res, nil
	}

	plan := Decide(in)
	res.UpdateAvailable = plan.Action == ActionInstallRemote ||
		(plan.Action == ActionKeep && versioncmp.Equal(plan.Pin.PendingVersion(), in.Remote.Version))
	if plan.Action != ActionKeep {
		// Installs wait for the next boot; only bookkeeping happens now.
		res.PendingVersion = sig.loadedPin.PendingVersion()
		return res, nil
	}
	res.PendingVersion = plan.Pin.PendingVersion()
	e.d.Recorder.SetPendingUpdate(res.PendingVersion != "")
	if _, err := e.d.Pins.SaveIfChanged(sig.loadedPin, plan.Pin); err != nil {
		return res, err
	}
	return res, nil
}
