package resolution

import (
	"git.home.luguber.info/inful/chainloader/internal/config"
	"git.home.luguber.info/inful/chainloader/internal/digest"
	"git.home.luguber.info/inful/chainloader/internal/metadata"
	"git.home.luguber.info/inful/chainloader/internal/pinstate"
	"git.home.luguber.info/inful/chainloader/internal/versioncmp"
)

// Artifact is the installed managed artifact.
type Artifact struct {
	Path     string
	Version  string
	Checksum string
}

// Bundled is a version shipped alongside a dependent artifact instead of
// being fetched from the channel.
type Bundled struct {
	Version  string
	Checksum string
	Path     string
	Source   string
}

// Action is what the engine should do with the artifact.
type Action int

const (
	ActionKeep Action = iota
	ActionInstallBundled
	ActionInstallRemote
)

func (a Action) String() string {
	switch a {
	case ActionInstallBundled:
		return "install-bundled"
	case ActionInstallRemote:
		return "install-remote"
	default:
		return "keep"
	}
}

// Input is everything Decide looks at. Remote is nil when the channel was not
// queried or did not answer.
type Input struct {
	Active  *Artifact
	Bundled *Bundled
	Remote  *metadata.Descriptor
	Pin     *pinstate.State
	Mode    config.AutoUpdateMode
	Drift   bool
}

// Plan is the outcome of Decide.
type Plan struct {
	Action Action
	// Target is the version being installed, or the version a prompt is about.
	Target string
	// Pin is persisted after the action succeeds.
	Pin *pinstate.State
	// FallbackPin is persisted when the install fails and the active artifact stays.
	FallbackPin *pinstate.State
	// Prompt asks the caller to obtain a resolution for Target and decide again.
	Prompt bool
	Reason string
}

// basePin returns the pin state Decide starts from. Outside prompt mode the
// pending and override keys have no meaning and are dropped.
func basePin(in Input) *pinstate.State {
	pin := pinstate.New()
	if in.Pin != nil {
		pin = in.Pin.Clone()
	}
	if in.Mode != config.AutoUpdatePrompt {
		pin.ClearPending()
		pin.ClearOverride()
	}
	return pin
}

// bundledTakesEffect reports whether the bundled signal decides this boot.
// An override at or above the bundled version suppresses it.
func bundledTakesEffect(in Input, pin *pinstate.State) bool {
	if in.Bundled == nil {
		return false
	}
	if in.Active == nil {
		return true
	}
	if versioncmp.Equal(in.Bundled.Version, in.Active.Version) {
		return false
	}
	// Full mode follows the channel; an older bundled version never pulls it back.
	if in.Mode == config.AutoUpdateFull && versioncmp.Compare(in.Bundled.Version, in.Active.Version) < 0 {
		return false
	}
	if o := pin.Override(); o != "" && versioncmp.Compare(in.Bundled.Version, o) <= 0 {
		return false
	}
	return true
}

// NeedsRemote reports whether the channel must be queried before Decide. A
// differing bundled signal settles the boot on its own, unless full mode has
// already moved past it; otherwise the channel
// is needed when nothing is installed, when updates are enabled in any form,
// or when the installed file no longer matches its recorded checksum.
func NeedsRemote(in Input) bool {
	pin := basePin(in)
	if bundledTakesEffect(in, pin) {
		return false
	}
	if in.Active == nil {
		return true
	}
	return in.Mode != config.AutoUpdateOff || in.Drift
}

// Decide is the version resolution state machine. It has no side effects.
func Decide(in Input) Plan {
	pin := basePin(in)
	fallback := pin.Clone()

	if in.Active == nil {
		return decideAbsent(in, pin, fallback)
	}

	if bundledTakesEffect(in, pin) {
		b := in.Bundled
		next := pin.Clone()
		next.ClearOverride()
		if versioncmp.Compare(b.Version, in.Active.Version) < 0 {
			// Remember what we downgraded from so it can be offered again.
			next.SetPendingVersion(in.Active.Version)
			next.ClearResolution()
		} else if p := next.PendingVersion(); p != "" && versioncmp.Compare(p, b.Version) <= 0 {
			next.ClearPending()
		}
		return Plan{Action: ActionInstallBundled, Target: b.Version, Pin: next, FallbackPin: fallback, Reason: "bundled version differs from active"}
	}

	return decideRemote(in, pin, fallback)
}

func decideAbsent(in Input, pin, fallback *pinstate.State) Plan {
	switch {
	case in.Bundled != nil:
		next := pin.Clone()
		if o := next.Override(); o != "" && versioncmp.Compare(in.Bundled.Version, o) > 0 {
			next.ClearOverride()
		}
		clearPendingUpTo(next, in.Bundled.Version)
		return Plan{Action: ActionInstallBundled, Target: in.Bundled.Version, Pin: next, FallbackPin: fallback, Reason: "no artifact installed"}
	case in.Remote != nil:
		next := pin.Clone()
		clearPendingUpTo(next, in.Remote.Version)
		return Plan{Action: ActionInstallRemote, Target: in.Remote.Version, Pin: next, FallbackPin: fallback, Reason: "no artifact installed"}
	default:
		return Plan{Action: ActionKeep, Pin: pin, FallbackPin: fallback, Reason: "no artifact and no source"}
	}
}

func decideRemote(in Input, pin, fallback *pinstate.State) Plan {
	active := in.Active
	keep := func(p *pinstate.State, reason string) Plan {
		clearPendingUpTo(p, active.Version)
		return Plan{Action: ActionKeep, Target: active.Version, Pin: p, FallbackPin: fallback, Reason: reason}
	}

	r := in.Remote
	if r == nil {
		return keep(pin, "no remote version")
	}
	install := Plan{Action: ActionInstallRemote, Target: r.Version, Pin: pin.Clone(), FallbackPin: fallback}

	if in.Drift {
		install.Reason = "active artifact checksum drifted"
		return install
	}
	if sameArtifact(active, r) {
		return keep(pin, "remote matches active")
	}

	switch in.Mode {
	case config.AutoUpdateFull:
		install.Reason = "automatic update"
		return install
	case config.AutoUpdatePrompt:
		return decidePrompt(in, pin, fallback, keep)
	default:
		return keep(pin, "updates disabled")
	}
}

func decidePrompt(in Input, pin, fallback *pinstate.State, keep func(*pinstate.State, string) Plan) Plan {
	r := in.Remote
	if versioncmp.Compare(r.Version, in.Active.Version) <= 0 {
		return keep(pin, "remote is not newer")
	}

	pending := pin.PendingVersion()
	resolution := pin.Resolution()
	answersThis := (pending != "" && versioncmp.Equal(pending, r.Version)) || (pending == "" && resolution != nil)
	if !answersThis {
		next := pin.Clone()
		next.SetPendingVersion(r.Version)
		next.ClearResolution()
		return Plan{Action: ActionKeep, Target: r.Version, Pin: next, FallbackPin: fallback, Reason: "newer version recorded as pending"}
	}

	switch {
	case resolution == nil:
		return Plan{Action: ActionKeep, Target: r.Version, Pin: pin, FallbackPin: fallback, Prompt: true, Reason: "pending version awaits decision"}
	case *resolution:
		next := pin.Clone()
		next.ClearPending()
		next.SetOverride(r.Version)
		return Plan{Action: ActionInstallRemote, Target: r.Version, Pin: next, FallbackPin: fallback, Reason: "pending version accepted"}
	default:
		return Plan{Action: ActionKeep, Target: in.Active.Version, Pin: pin, FallbackPin: fallback, Reason: "pending version rejected"}
	}
}

// sameArtifact treats equal versions or equal checksums as the same file.
func sameArtifact(a *Artifact, r *metadata.Descriptor) bool {
	if versioncmp.Equal(a.Version, r.Version) {
		return true
	}
	return a.Checksum != "" && digest.Matches(a.Checksum, r.Checksum)
}

func clearPendingUpTo(pin *pinstate.State, version string) {
	if p := pin.PendingVersion(); p != "" && versioncmp.Compare(p, version) <= 0 {
		pin.ClearPending()
	}
}
