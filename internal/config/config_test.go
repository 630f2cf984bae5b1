package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mcops/masterclaw/internal/constants"
)

func withStateDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old := os.Getenv(constants.EnvStateDir)
	os.Setenv(constants.EnvStateDir, dir)
	t.Cleanup(func() { os.Setenv(constants.EnvStateDir, old) })
	return dir
}

func TestLoadReturnsEmptyPolicyWhenFileMissing(t *testing.T) {
	withStateDir(t)
	loader, err := NewLoader()
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	policy, err := loader.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(policy.ProtectedPrefixes) != 0 {
		t.Errorf("expected empty policy, got %+v", policy)
	}
}

func TestLoadParsesValidPolicy(t *testing.T) {
	dir := withStateDir(t)
	content := "protectedPrefixes:\n  - mc-critical-\ngatewayBaseURL: https://gateway.internal\n"
	if err := os.WriteFile(filepath.Join(dir, constants.PolicyFileName), []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loader, err := NewLoader()
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	policy, err := loader.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(policy.ProtectedPrefixes) != 1 || policy.ProtectedPrefixes[0] != "mc-critical-" {
		t.Errorf("ProtectedPrefixes = %+v, want [mc-critical-]", policy.ProtectedPrefixes)
	}
}

func TestLoadRejectsInvalidURL(t *testing.T) {
	dir := withStateDir(t)
	content := "gatewayBaseURL: \"not a url\"\n"
	if err := os.WriteFile(filepath.Join(dir, constants.PolicyFileName), []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loader, err := NewLoader()
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if _, err := loader.Load(); err == nil {
		t.Fatalf("expected an invalid gatewayBaseURL to fail validation")
	}
}

func TestProtectedPrefixesUnionsDefaultsWithOperatorList(t *testing.T) {
	p := &Policy{ProtectedPrefixes: []string{"mc-critical-", "mc-data-"}}
	prefixes := ProtectedPrefixes(p)

	want := map[string]bool{"mc-data-": true, "mc-backup-": true, "mc-critical-": true}
	if len(prefixes) != len(want) {
		t.Fatalf("ProtectedPrefixes = %v, want 3 unique entries", prefixes)
	}
	for _, p := range prefixes {
		if !want[p] {
			t.Errorf("unexpected prefix %q", p)
		}
	}
}

func TestProtectedPrefixesNeverDropsDefaultsOnEmptyPolicy(t *testing.T) {
	prefixes := ProtectedPrefixes(&Policy{})
	if len(prefixes) != 2 {
		t.Fatalf("ProtectedPrefixes(empty) = %v, want the 2 code defaults", prefixes)
	}
}

func TestHasChangedDetectsContentChange(t *testing.T) {
	dir := withStateDir(t)
	path := filepath.Join(dir, constants.PolicyFileName)
	if err := os.WriteFile(path, []byte("gatewayBaseURL: https://a.internal\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loader, err := NewLoader()
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if changed, err := loader.HasChanged(); err != nil || changed {
		t.Errorf("HasChanged immediately after Load = (%v, %v), want (false, nil)", changed, err)
	}

	if err := os.WriteFile(path, []byte("gatewayBaseURL: https://b.internal\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if changed, err := loader.HasChanged(); err != nil || !changed {
		t.Errorf("HasChanged after edit = (%v, %v), want (true, nil)", changed, err)
	}
}

func TestRuntimeStateRoundTrip(t *testing.T) {
	withStateDir(t)
	rs := &RuntimeState{GatewayBaseURL: "https://gateway.internal", DebugDefault: true}
	if err := SaveRuntimeState(rs); err != nil {
		t.Fatalf("SaveRuntimeState: %v", err)
	}
	loaded, err := LoadRuntimeState()
	if err != nil {
		t.Fatalf("LoadRuntimeState: %v", err)
	}
	if loaded.GatewayBaseURL != rs.GatewayBaseURL || loaded.DebugDefault != rs.DebugDefault {
		t.Errorf("LoadRuntimeState = %+v, want %+v", loaded, rs)
	}
}
