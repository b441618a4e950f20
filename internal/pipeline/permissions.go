package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Preset names a default tool-permission policy bundle.
type Preset string

const (
	// PresetRestricted warns on dangerous commands and blocks destructive ones.
	PresetRestricted Preset = "restricted"
	// PresetStandard is the default policy: reads auto-approved, writes
	// confined to the working directory.
	PresetStandard Preset = "standard"
	// PresetTrusted auto-approves every tool call that is not blocked outright.
	PresetTrusted Preset = "trusted"
)

// Valid returns true if the preset is a known value.
func (p Preset) Valid() bool {
	switch p {
	case PresetRestricted, PresetStandard, PresetTrusted:
		return true
	default:
		return false
	}
}

// ToolAction classifies what a tool call does for permission purposes.
type ToolAction string

const (
	// ActionRead is a non-mutating read of files or state.
	ActionRead ToolAction = "read"
	// ActionWrite creates or modifies files.
	ActionWrite ToolAction = "write"
	// ActionExecute runs a command.
	ActionExecute ToolAction = "execute"
	// ActionNetwork performs network access.
	ActionNetwork ToolAction = "network"
)

// ToolCall describes one tool invocation an agent wants to perform.
type ToolCall struct {
	// Tool is the tool name (e.g. "Read", "Bash").
	Tool string
	// Action classifies the call for permission checks.
	Action ToolAction
	// Path is the filesystem target, when applicable.
	Path string
	// Command is the command line for execute actions.
	Command string
}

// Decision is the structured outcome of a governance check.
// Denials are values, never errors; callers apply their own policy.
type Decision struct {
	// Allowed indicates whether the call may proceed.
	Allowed bool
	// Reason explains a denial.
	Reason string
	// Warnings carries advisory notes that do not block the call.
	Warnings []string
}

// allow returns an allowing decision with optional warnings.
func allow(warnings ...string) Decision {
	return Decision{Allowed: true, Warnings: warnings}
}

// deny returns a denying decision with the given reason.
func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// PermissionConfig is the structural permission policy a preset resolves to.
type PermissionConfig struct {
	// Preset is the name this config was resolved from.
	Preset Preset
	// AutoApprove approves every call that passes the blocked-command check.
	AutoApprove bool
	// AutoApproveReads approves read actions without further checks.
	AutoApproveReads bool
	// BlockedCommands are command substrings that are rejected outright.
	BlockedCommands []string
	// DangerousCommands are command substrings that warn but do not reject.
	DangerousCommands []string
	// TrustedDirs are directories outside the working directory where
	// mutating actions are still allowed.
	TrustedDirs []string
}

// defaultBlockedCommands are rejected under every preset.
var defaultBlockedCommands = []string{
	"rm -rf /",
	"mkfs",
	"dd if=",
	":(){ :|:& };:",
	"> /dev/sda",
}

// defaultDangerousCommands warn under the restricted and standard presets.
var defaultDangerousCommands = []string{
	"rm -rf",
	"sudo ",
	"chmod 777",
	"curl | sh",
	"git push --force",
}

// Resolver resolves a preset name to a structural permission configuration
// for a given working directory.
type Resolver interface {
	Resolve(preset Preset, workingDir string) (PermissionConfig, error)
}

// PresetResolver is the default Resolver backed by the built-in preset table,
// optionally customized with per-preset overrides.
type PresetResolver struct {
	overrides map[Preset]PresetOverride
}

// PresetOverride customizes a built-in preset. Nil pointer fields leave the
// built-in value untouched; list fields are appended (blocked/dangerous) or
// replaced (trusted dirs).
type PresetOverride struct {
	AutoApprove       *bool    `mapstructure:"auto_approve" yaml:"auto_approve"`
	AutoApproveReads  *bool    `mapstructure:"auto_approve_reads" yaml:"auto_approve_reads"`
	BlockedCommands   []string `mapstructure:"blocked_commands" yaml:"blocked_commands"`
	DangerousCommands []string `mapstructure:"dangerous_commands" yaml:"dangerous_commands"`
	TrustedDirs       []string `mapstructure:"trusted_dirs" yaml:"trusted_dirs"`
}

// NewPresetResolver creates a PresetResolver with optional overrides.
func NewPresetResolver(overrides map[Preset]PresetOverride) *PresetResolver {
	return &PresetResolver{overrides: overrides}
}

// Resolve returns the structural configuration for a preset.
// Unknown presets are configuration errors.
func (r *PresetResolver) Resolve(preset Preset, workingDir string) (PermissionConfig, error) {
	if preset == "" {
		preset = PresetStandard
	}
	if !preset.Valid() {
		return PermissionConfig{}, fmt.Errorf("unknown permission preset %q", preset)
	}

	cfg := PermissionConfig{
		Preset:            preset,
		BlockedCommands:   append([]string(nil), defaultBlockedCommands...),
		DangerousCommands: append([]string(nil), defaultDangerousCommands...),
	}

	switch preset {
	case PresetRestricted:
		cfg.AutoApproveReads = true
		cfg.BlockedCommands = append(cfg.BlockedCommands,
			"rm -rf", "sudo ", "git push")
	case PresetStandard:
		cfg.AutoApproveReads = true
	case PresetTrusted:
		cfg.AutoApprove = true
		cfg.AutoApproveReads = true
		cfg.DangerousCommands = nil
	}

	if r != nil && r.overrides != nil {
		if ov, ok := r.overrides[preset]; ok {
			if ov.AutoApprove != nil {
				cfg.AutoApprove = *ov.AutoApprove
			}
			if ov.AutoApproveReads != nil {
				cfg.AutoApproveReads = *ov.AutoApproveReads
			}
			cfg.BlockedCommands = append(cfg.BlockedCommands, ov.BlockedCommands...)
			cfg.DangerousCommands = append(cfg.DangerousCommands, ov.DangerousCommands...)
			if ov.TrustedDirs != nil {
				cfg.TrustedDirs = append([]string(nil), ov.TrustedDirs...)
			}
		}
	}

	return cfg, nil
}

// MergeStrictest combines a parent and child permission config with
// strictest-wins rules: boolean auto-approve flags are ANDed, blocked and
// dangerous command lists unioned, trusted directories intersected.
func MergeStrictest(parent, child PermissionConfig) PermissionConfig {
	merged := PermissionConfig{
		Preset:            child.Preset,
		AutoApprove:       parent.AutoApprove && child.AutoApprove,
		AutoApproveReads:  parent.AutoApproveReads && child.AutoApproveReads,
		BlockedCommands:   unionStrings(parent.BlockedCommands, child.BlockedCommands),
		DangerousCommands: unionStrings(parent.DangerousCommands, child.DangerousCommands),
		TrustedDirs:       intersectStrings(parent.TrustedDirs, child.TrustedDirs),
	}
	return merged
}

// unionStrings returns the sorted set union of two string slices.
func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		seen[s] = true
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// intersectStrings returns the sorted intersection of two string slices.
// An empty slice intersected with anything is empty.
func intersectStrings(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}

	inA := make(map[string]bool, len(a))
	for _, s := range a {
		inA[s] = true
	}

	var out []string
	seen := make(map[string]bool)
	for _, s := range b {
		if inA[s] && !seen[s] {
			out = append(out, s)
			seen[s] = true
		}
	}
	sort.Strings(out)
	return out
}

// matchesAny reports whether the command contains any of the given substrings.
// Matching is case-insensitive, mirroring how commands reach the shell.
func matchesAny(command string, patterns []string) (string, bool) {
	lower := strings.ToLower(command)
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}
