package resolution

import (
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/chainloader/internal/config"
	"git.home.luguber.info/inful/chainloader/internal/metadata"
	"git.home.luguber.info/inful/chainloader/internal/pinstate"
)

func active(v string) *Artifact { return &Artifact{Path: "/a", Version: v, Checksum: "sum-" + v} }
func remote(v string) *metadata.Descriptor {
	return &metadata.Descriptor{Version: v, URL: "u", Checksum: "sum-" + v}
}
func bundled(v string) *Bundled { return &Bundled{Version: v, Path: "/b"} }

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		in         Input
		action     Action
		target     string
		prompt     bool
		pin        map[string]string
		fallbackKV map[string]string
	}{
		{
			name:   "absent with bundled installs bundled",
			in:     Input{Bundled: bundled("1"), Remote: remote("2"), Mode: config.AutoUpdateFull},
			action: ActionInstallBundled, target: "1", pin: map[string]string{},
		},
		{
			name:   "absent with remote installs remote",
			in:     Input{Remote: remote("2"), Mode: config.AutoUpdateOff},
			action: ActionInstallRemote, target: "2", pin: map[string]string{},
		},
		{
			name:   "absent without sources keeps",
			in:     Input{Mode: config.AutoUpdateFull},
			action: ActionKeep, pin: map[string]string{},
		},
		{
			name:   "equal remote keeps",
			in:     Input{Active: active("2"), Remote: remote("2.0"), Mode: config.AutoUpdateFull},
			action: ActionKeep, target: "2", pin: map[string]string{},
		},
		{
			name:   "matching checksum keeps despite version label",
			in:     Input{Active: &Artifact{Version: "abc", Checksum: "SUM-2"}, Remote: remote("2"), Mode: config.AutoUpdateFull},
			action: ActionKeep, target: "abc", pin: map[string]string{},
		},
		{
			name:   "prompt mode ignores older remote",
			in:     Input{Active: active("3"), Remote: remote("2"), Mode: config.AutoUpdatePrompt},
			action: ActionKeep, target: "3", pin: map[string]string{},
		},
		{
			name: "prompt mode replaces pending with newer remote",
			in: Input{Active: active("1"), Remote: remote("3"), Mode: config.AutoUpdatePrompt,
				Pin: pinstate.FromMap(map[string]string{pinstate.KeyPendingVersion: "2", pinstate.KeyPendingResolution: "false"})},
			action: ActionKeep, target: "3", pin: map[string]string{pinstate.KeyPendingVersion: "3"},
		},
		{
			name: "pending without answer asks",
			in: Input{Active: active("1"), Remote: remote("2"), Mode: config.AutoUpdatePrompt,
				Pin: pinstate.FromMap(map[string]string{pinstate.KeyPendingVersion: "2"})},
			action: ActionKeep, target: "2", prompt: true, pin: map[string]string{pinstate.KeyPendingVersion: "2"},
		},
		{
			name: "blanket acceptance installs",
			in: Input{Active: active("1"), Remote: remote("2"), Mode: config.AutoUpdatePrompt,
				Pin: pinstate.FromMap(map[string]string{pinstate.KeyPendingResolution: "true"})},
			action: ActionInstallRemote, target: "2", pin: map[string]string{pinstate.KeyOverride: "2"},
			fallbackKV: map[string]string{pinstate.KeyPendingResolution: "true"},
		},
		{
			name: "stale pending at or below active is dropped",
			in: Input{Active: active("2"), Mode: config.AutoUpdatePrompt,
				Pin: pinstate.FromMap(map[string]string{pinstate.KeyPendingVersion: "2"})},
			action: ActionKeep, target: "2", pin: map[string]string{},
		},
		{
			name: "bundled upgrade clears satisfied pending",
			in: Input{Active: active("1"), Bundled: bundled("3"), Mode: config.AutoUpdatePrompt,
				Pin: pinstate.FromMap(map[string]string{pinstate.KeyPendingVersion: "2"})},
			action: ActionInstallBundled, target: "3", pin: map[string]string{},
			fallbackKV: map[string]string{pinstate.KeyPendingVersion: "2"},
		},
		{
			name: "override equal to bundled suppresses it",
			in: Input{Active: active("3"), Bundled: bundled("2"), Mode: config.AutoUpdatePrompt,
				Pin: pinstate.FromMap(map[string]string{pinstate.KeyOverride: "2"})},
			action: ActionKeep, target: "3", pin: map[string]string{pinstate.KeyOverride: "2"},
		},
		{
			name:   "bundled downgrade records active as pending",
			in:     Input{Active: active("3"), Bundled: bundled("2"), Mode: config.AutoUpdatePrompt},
			action: ActionInstallBundled, target: "2", pin: map[string]string{pinstate.KeyPendingVersion: "3"},
		},
		{
			name:   "full mode ignores older bundled",
			in:     Input{Active: active("2"), Bundled: bundled("1"), Remote: remote("2"), Mode: config.AutoUpdateFull},
			action: ActionKeep, target: "2", pin: map[string]string{},
		},
		{
			name:   "full mode installs newer bundled",
			in:     Input{Active: active("2"), Bundled: bundled("3"), Remote: remote("2"), Mode: config.AutoUpdateFull},
			action: ActionInstallBundled, target: "3", pin: map[string]string{},
		},
		{
			name:   "off mode keeps newer remote",
			in:     Input{Active: active("1"), Remote: remote("2"), Mode: config.AutoUpdateOff},
			action: ActionKeep, target: "1", pin: map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Decide(tt.in)
			require.Equal(t, tt.action, plan.Action, plan.Reason)
			require.Equal(t, tt.target, plan.Target)
			require.Equal(t, tt.prompt, plan.Prompt)
			require.Equal(t, tt.pin, plan.Pin.Map())
			if tt.fallbackKV != nil {
				require.Equal(t, tt.fallbackKV, plan.FallbackPin.Map())
			}
		})
	}
}

func TestDecideDoesNotMutateInput(t *testing.T) {
	pin := pinstate.FromMap(map[string]string{pinstate.KeyOverride: "2"})
	Decide(Input{Active: active("2"), Bundled: bundled("3"), Mode: config.AutoUpdatePrompt, Pin: pin})
	require.Equal(t, "2", pin.Override())
}

func TestNeedsRemote(t *testing.T) {
	override := pinstate.FromMap(map[string]string{pinstate.KeyOverride: "3"})
	tests := []struct {
		name string
		in   Input
		want bool
	}{
		{"absent", Input{Mode: config.AutoUpdateOff}, true},
		{"absent with bundled", Input{Bundled: bundled("1"), Mode: config.AutoUpdateFull}, false},
		{"off", Input{Active: active("1"), Mode: config.AutoUpdateOff}, false},
		{"off with drift", Input{Active: active("1"), Mode: config.AutoUpdateOff, Drift: true}, true},
		{"prompt", Input{Active: active("1"), Mode: config.AutoUpdatePrompt}, true},
		{"full", Input{Active: active("1"), Mode: config.AutoUpdateFull}, true},
		{"full with older bundled", Input{Active: active("2"), Bundled: bundled("1"), Mode: config.AutoUpdateFull}, true},
		{"differing bundled", Input{Active: active("1"), Bundled: bundled("2"), Mode: config.AutoUpdateFull}, false},
		{"equal bundled", Input{Active: active("2"), Bundled: bundled("2"), Mode: config.AutoUpdateFull}, true},
		{"bundled below override", Input{Active: active("3"), Bundled: bundled("2"), Mode: config.AutoUpdatePrompt, Pin: override}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, NeedsRemote(tt.in))
		})
	}
}
