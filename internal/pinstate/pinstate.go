// Package pinstate persists deferred-update decisions in a flat key=value file.
//
// The file is shared with humans and other tools, so keys this package does not
// understand survive a load/save cycle untouched.
package pinstate

import (
	"maps"
	"strconv"
	"strings"
)

// Recognized keys.
const (
	KeyPendingVersion    = "pendingUpdateVersion"
	KeyPendingResolution = "pendingUpdateResolution"
	KeyOverride          = "overridePinnedVersion"
	KeyAutoUpdate        = "autoUpdate"
	KeyBranch            = "branch"
)

// State is the in-memory pin record. The zero value is not usable; call New.
type State struct {
	values map[string]string
}

// New returns an empty state.
func New() *State {
	return &State{values: map[string]string{}}
}

// FromMap copies m into a new state. Empty values are dropped.
func FromMap(m map[string]string) *State {
	s := New()
	for k, v := range m {
		s.Set(k, v)
	}
	return s
}

func (s *State) Get(key string) string { return s.values[key] }

// Set stores value under key; an empty value deletes the key.
func (s *State) Set(key, value string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	value = strings.TrimSpace(value)
	if value == "" {
		delete(s.values, key)
		return
	}
	s.values[key] = value
}

func (s *State) Delete(key string) { delete(s.values, key) }

// PendingVersion is the remote version waiting for a user decision.
func (s *State) PendingVersion() string     { return s.Get(KeyPendingVersion) }
func (s *State) SetPendingVersion(v string) { s.Set(KeyPendingVersion, v) }

// Resolution is the recorded answer for the pending version, nil when unanswered
// or unparsable.
func (s *State) Resolution() *bool {
	raw, ok := s.values[KeyPendingResolution]
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(strings.ToLower(raw))
	if err != nil {
		return nil
	}
	return &b
}

func (s *State) SetResolution(v bool) { s.Set(KeyPendingResolution, strconv.FormatBool(v)) }
func (s *State) ClearResolution()     { s.Delete(KeyPendingResolution) }

// ClearPending removes both pending fields.
func (s *State) ClearPending() {
	s.Delete(KeyPendingVersion)
	s.Delete(KeyPendingResolution)
}

// Override is a confirmed upgrade target that outranks bundled versions up to and including itself.
func (s *State) Override() string     { return s.Get(KeyOverride) }
func (s *State) SetOverride(v string) { s.Set(KeyOverride, v) }
func (s *State) ClearOverride()       { s.Delete(KeyOverride) }

func (s *State) AutoUpdate() string { return s.Get(KeyAutoUpdate) }
func (s *State) Branch() string     { return s.Get(KeyBranch) }

// HasDecisionKeys reports whether any pending or override key is set.
func (s *State) HasDecisionKeys() bool {
	return s.Get(KeyPendingVersion) != "" || s.Get(KeyPendingResolution) != "" || s.Get(KeyOverride) != ""
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	return &State{values: maps.Clone(s.values)}
}

// Equal compares all keys, including unknown ones.
func (s *State) Equal(o *State) bool {
	if o == nil {
		return len(s.values) == 0
	}
	return maps.Equal(s.values, o.values)
}

// Map returns a copy of all entries.
func (s *State) Map() map[string]string {
	return maps.Clone(s.values)
}

func (s *State) IsEmpty() bool { return len(s.values) == 0 }
