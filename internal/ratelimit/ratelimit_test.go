package ratelimit

import (
	"os"
	"testing"

	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/errkind"
)

func withStateDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	old := os.Getenv(constants.EnvStateDir)
	os.Setenv(constants.EnvStateDir, dir)
	t.Cleanup(func() { os.Setenv(constants.EnvStateDir, old) })
}

func TestCategoryFromCommandPath(t *testing.T) {
	cases := map[string]string{
		"deploy production": "deploy",
		"status":            "status",
		"exec container sh": "exec",
	}
	for path, want := range cases {
		if got := CategoryFromCommandPath(path); got != want {
			t.Errorf("CategoryFromCommandPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestPolicyForKnownAndDefaultCategories(t *testing.T) {
	if p := PolicyFor("restore"); p.Max != 3 || p.WindowMs != 300000 {
		t.Errorf("restore policy = %+v, want {3 300000}", p)
	}
	if p := PolicyFor("some-unknown-category"); p.Max != 30 || p.WindowMs != 60000 {
		t.Errorf("default policy = %+v, want {30 60000}", p)
	}
}

func TestAdmitAllowsUpToMax(t *testing.T) {
	withStateDir(t)
	lim, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	now := int64(1_700_000_000_000)
	for i := 0; i < 3; i++ {
		if err := lim.Admit("corr", "alice", "restore", now); err != nil {
			t.Fatalf("Admit() attempt %d: %v", i, err)
		}
	}
	if err := lim.Admit("corr", "alice", "restore", now); errkind.KindOf(err) != errkind.RateLimited {
		t.Fatalf("Admit() after max = %v, want RateLimited", err)
	}
}

func TestAdmitIsolatesByUserAndCategory(t *testing.T) {
	withStateDir(t)
	lim, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	now := int64(1_700_000_000_000)
	for i := 0; i < 3; i++ {
		if err := lim.Admit("corr", "alice", "restore", now); err != nil {
			t.Fatalf("alice restore attempt %d: %v", i, err)
		}
	}
	// A different user against the same category is unaffected.
	if err := lim.Admit("corr", "bob", "restore", now); err != nil {
		t.Fatalf("bob restore: %v", err)
	}
	// The same user against a different category is unaffected.
	if err := lim.Admit("corr", "alice", "status", now); err != nil {
		t.Fatalf("alice status: %v", err)
	}
}

func TestAdmitExpiresOldTimestamps(t *testing.T) {
	withStateDir(t)
	lim, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := int64(1_700_000_000_000)
	for i := 0; i < 3; i++ {
		if err := lim.Admit("corr", "alice", "restore", base); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if err := lim.Admit("corr", "alice", "restore", base); errkind.KindOf(err) != errkind.RateLimited {
		t.Fatalf("expected denial before window elapses")
	}
	// restore's windowMs is 300000; advance past it.
	after := base + 300001
	if err := lim.Admit("corr", "alice", "restore", after); err != nil {
		t.Fatalf("Admit() after window elapsed: %v", err)
	}
}

func TestRateLimitValidatorRejectsMalformedState(t *testing.T) {
	cases := []map[string]any{
		{"alice|restore": "not-an-array"},
		{"alice|restore": []any{-1.0}},
		{"alice|restore": []any{"not-a-number"}},
	}
	for _, raw := range cases {
		if err := rateLimitValidator(raw); err == nil {
			t.Errorf("rateLimitValidator(%+v) = nil, want error", raw)
		}
	}
}

func TestRateLimitValidatorRejectsOversizedSequence(t *testing.T) {
	big := make([]any, maxSequenceLen+1)
	for i := range big {
		big[i] = float64(i)
	}
	if err := rateLimitValidator(map[string]any{"alice|restore": big}); err == nil {
		t.Errorf("expected oversized sequence to be rejected")
	}
}
