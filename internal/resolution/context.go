package resolution

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Outcome is the result category of one resolution.
type Outcome string

const (
	OutcomeActivated       Outcome = "activated"
	OutcomeUnchanged       Outcome = "unchanged"
	OutcomeAbsent          Outcome = "absent"
	OutcomeRestartRequired Outcome = "restart_required"
)

// Decision is what a boot ended up with.
type Decision struct {
	BootID          string
	Outcome         Outcome
	Version         string
	PreviousVersion string
	Path            string
	Channel         string
	Mode            string
	PendingVersion  string
	Source          string // remote|bundled|diff when something was installed
	// Repeated is set when the boot context had already been resolved.
	Repeated bool
}

// BootContext carries per-boot state through the resolution. It replaces
// process-wide flags: whoever creates it decides the boot's scope.
type BootContext struct {
	ID             string
	BranchOverride string

	started atomic.Bool
	mu      sync.Mutex
	result  *Decision
}

// NewBootContext returns a fresh context with a random boot id.
func NewBootContext(branchOverride string) *BootContext {
	return &BootContext{ID: uuid.NewString(), BranchOverride: branchOverride}
}

// TryBegin returns true exactly once per context.
func (b *BootContext) TryBegin() bool {
	return b.started.CompareAndSwap(false, true)
}

// Finish stores the decision for later callers.
func (b *BootContext) Finish(d Decision) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.result = &d
}

// Decision returns the stored decision, if resolution has finished.
func (b *BootContext) Decision() (Decision, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.result == nil {
		return Decision{}, false
	}
	return *b.result, true
}
