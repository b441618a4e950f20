package pipeline

import (
	"reflect"
	"testing"
)

func TestPresetResolverDefaults(t *testing.T) {
	r := NewPresetResolver(nil)

	std, err := r.Resolve(PresetStandard, "/tmp/w")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if std.AutoApprove || !std.AutoApproveReads {
		t.Error("standard preset should auto-approve reads only")
	}
	if len(std.BlockedCommands) == 0 {
		t.Error("standard preset should carry default blocked commands")
	}

	trusted, _ := r.Resolve(PresetTrusted, "/tmp/w")
	if !trusted.AutoApprove {
		t.Error("trusted preset should auto-approve")
	}
	if len(trusted.DangerousCommands) != 0 {
		t.Error("trusted preset should not warn on dangerous commands")
	}

	restricted, _ := r.Resolve(PresetRestricted, "/tmp/w")
	if restricted.AutoApprove {
		t.Error("restricted preset must not auto-approve")
	}
	if _, hit := matchesAny("sudo reboot", restricted.BlockedCommands); !hit {
		t.Error("restricted preset should block sudo")
	}
}

func TestPresetResolverEmptyDefaultsToStandard(t *testing.T) {
	r := NewPresetResolver(nil)
	cfg, err := r.Resolve("", "/tmp/w")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Preset != PresetStandard {
		t.Errorf("expected standard, got %q", cfg.Preset)
	}
}

func TestPresetResolverUnknown(t *testing.T) {
	r := NewPresetResolver(nil)
	if _, err := r.Resolve("yolo", "/tmp/w"); err == nil {
		t.Fatal("expected error for unknown preset")
	}
}

func TestPresetResolverOverrides(t *testing.T) {
	yes := true
	r := NewPresetResolver(map[Preset]PresetOverride{
		PresetStandard: {
			AutoApprove:     &yes,
			BlockedCommands: []string{"terraform destroy"},
			TrustedDirs:     []string{"/srv/shared"},
		},
	})

	cfg, err := r.Resolve(PresetStandard, "/tmp/w")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.AutoApprove {
		t.Error("override should enable auto-approve")
	}
	if _, hit := matchesAny("terraform destroy -auto-approve", cfg.BlockedCommands); !hit {
		t.Error("override blocked command not applied")
	}
	if !reflect.DeepEqual(cfg.TrustedDirs, []string{"/srv/shared"}) {
		t.Errorf("unexpected trusted dirs: %v", cfg.TrustedDirs)
	}
}

func TestMergeStrictest(t *testing.T) {
	parent := PermissionConfig{
		AutoApprove:      true,
		AutoApproveReads: true,
		BlockedCommands:  []string{"a", "b"},
		TrustedDirs:      []string{"/x", "/y"},
	}
	child := PermissionConfig{
		AutoApprove:      false,
		AutoApproveReads: true,
		BlockedCommands:  []string{"b", "c"},
		TrustedDirs:      []string{"/y", "/z"},
	}

	merged := MergeStrictest(parent, child)

	if merged.AutoApprove {
		t.Error("auto-approve flags must be ANDed")
	}
	if !merged.AutoApproveReads {
		t.Error("both read flags set, AND should keep it")
	}
	if !reflect.DeepEqual(merged.BlockedCommands, []string{"a", "b", "c"}) {
		t.Errorf("expected union [a b c], got %v", merged.BlockedCommands)
	}
	if !reflect.DeepEqual(merged.TrustedDirs, []string{"/y"}) {
		t.Errorf("expected intersection [/y], got %v", merged.TrustedDirs)
	}
}

func TestMergeStrictestEmptyTrustedDirs(t *testing.T) {
	merged := MergeStrictest(
		PermissionConfig{TrustedDirs: []string{"/x"}},
		PermissionConfig{},
	)
	if len(merged.TrustedDirs) != 0 {
		t.Errorf("expected empty intersection, got %v", merged.TrustedDirs)
	}
}

func TestMatchesAnyCaseInsensitive(t *testing.T) {
	if _, hit := matchesAny("SUDO rm", []string{"sudo "}); !hit {
		t.Error("expected case-insensitive match")
	}
	if _, hit := matchesAny("echo hello", []string{"sudo "}); hit {
		t.Error("unexpected match")
	}
}

func TestPathWithin(t *testing.T) {
	tests := []struct {
		dir, target string
		want        bool
	}{
		{"/tmp/w", "/tmp/w", true},
		{"/tmp/w", "/tmp/w/sub/file.go", true},
		{"/tmp/w", "/tmp/other", false},
		{"/tmp/w", "/tmp/w/../escape", false},
		{"/tmp/w", "/", false},
	}
	for _, tt := range tests {
		if got := pathWithin(tt.dir, tt.target); got != tt.want {
			t.Errorf("pathWithin(%q, %q) = %v, want %v", tt.dir, tt.target, got, tt.want)
		}
	}
}
