package containerexec

import (
	"context"
	"testing"

	"github.com/mcops/masterclaw/internal/errkind"
)

func TestRunRejectsContainerOutsidePrefix(t *testing.T) {
	r := New(nil)
	_, err := r.Run(context.Background(), Descriptor{Container: "other-service", Command: []string{"echo", "hi"}})
	if err == nil {
		t.Fatalf("expected non-prefixed container to be rejected")
	}
	if errkind.RuleOf(err) != "CONTAINER_NOT_ALLOWED" {
		t.Errorf("rule = %q, want CONTAINER_NOT_ALLOWED", errkind.RuleOf(err))
	}
}

func TestRunRejectsEmptyCommand(t *testing.T) {
	r := New(nil)
	_, err := r.Run(context.Background(), Descriptor{Container: "mc-gateway", Command: []string{}})
	if errkind.RuleOf(err) != "COMMAND_EMPTY" {
		t.Errorf("rule = %q, want COMMAND_EMPTY", errkind.RuleOf(err))
	}
}

func TestRunRejectsBlockedCommand(t *testing.T) {
	r := New(nil)
	_, err := r.Run(context.Background(), Descriptor{Container: "mc-gateway", Command: []string{"rm", "-rf", "/"}})
	if errkind.RuleOf(err) != "COMMAND_BLOCKED" {
		t.Errorf("rule = %q, want COMMAND_BLOCKED", errkind.RuleOf(err))
	}
}

func TestRunRejectsOversizedCommand(t *testing.T) {
	r := New(nil)
	big := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		big = append(big, string(make([]byte, 500)))
	}
	_, err := r.Run(context.Background(), Descriptor{Container: "mc-gateway", Command: big})
	if errkind.RuleOf(err) != "COMMAND_TOO_LARGE" {
		t.Errorf("rule = %q, want COMMAND_TOO_LARGE", errkind.RuleOf(err))
	}
}

func TestValidateCommandRejectsChaining(t *testing.T) {
	err := validateCommand([]string{"bash", "-c", "echo hi && rm -rf /"})
	if err == nil {
		t.Fatalf("expected chaining to be rejected")
	}
	if errkind.RuleOf(err) != "SHELL_CHAINING" {
		t.Errorf("rule = %q, want SHELL_CHAINING", errkind.RuleOf(err))
	}
}

func TestValidateCommandRejectsSubstitution(t *testing.T) {
	err := validateCommand([]string{"sh", "-c", "echo $(whoami)"})
	if errkind.RuleOf(err) != "SHELL_CHAINING" {
		t.Errorf("rule = %q, want SHELL_CHAINING", errkind.RuleOf(err))
	}
}

func TestValidateCommandRejectsChainingWithNoShellFlagOrShellFirstToken(t *testing.T) {
	// spec.md's E2 scenario: `exec mc-backend :(){ :|:& };:` has shell=false
	// and a first token that is not a shell, so only the universal scan in
	// validateCommand (not validateShellForm) can catch this fork bomb.
	err := validateCommand([]string{":(){", ":|:&", "};:"})
	if err == nil {
		t.Fatalf("expected the fork bomb to be rejected even without shell=true")
	}
	if errkind.RuleOf(err) != "SHELL_CHAINING" {
		t.Errorf("rule = %q, want SHELL_CHAINING", errkind.RuleOf(err))
	}
}

func TestValidateCommandRejectsPlainTokensWithChaining(t *testing.T) {
	err := validateCommand([]string{"echo", "hi; rm -rf /"})
	if err == nil {
		t.Fatalf("expected the embedded ';' to be rejected regardless of shell flag")
	}
	if errkind.RuleOf(err) != "SHELL_CHAINING" {
		t.Errorf("rule = %q, want SHELL_CHAINING", errkind.RuleOf(err))
	}
}

func TestValidateCommandAllowsPlainCommand(t *testing.T) {
	if err := validateCommand([]string{"bash", "-c", "echo hello"}); err != nil {
		t.Errorf("unexpected rejection: %v", err)
	}
}

func TestRunRejectsForkBombBeforeSpawn(t *testing.T) {
	r := New(nil)
	_, err := r.Run(context.Background(), Descriptor{Container: "mc-backend", Command: []string{":(){", ":|:&", "};:"}})
	if err == nil {
		t.Fatalf("expected the fork bomb to be refused before any subprocess is spawned")
	}
	if errkind.RuleOf(err) != "SHELL_CHAINING" {
		t.Errorf("rule = %q, want SHELL_CHAINING", errkind.RuleOf(err))
	}
	if errkind.KindOf(err) != errkind.Security {
		t.Errorf("kind = %q, want Security (maps to exit code 3)", errkind.KindOf(err))
	}
}

func TestValidateShellFormRejectsBlockedSubcommandEmbeddedInDashC(t *testing.T) {
	// "rm -rf /" arrives as a single -c argument token, so only
	// validateShellForm's substring scan (not validateCommand's
	// per-token blocklist check) can catch it.
	err := validateShellForm([]string{"bash", "-c", "rm -rf /"})
	if errkind.RuleOf(err) != "SHELL_BLOCKED_SUBCOMMAND" {
		t.Errorf("rule = %q, want SHELL_BLOCKED_SUBCOMMAND", errkind.RuleOf(err))
	}
}

func TestValidateShellFormAllowsPlainCommand(t *testing.T) {
	if err := validateShellForm([]string{"bash", "-c", "echo hello"}); err != nil {
		t.Errorf("unexpected rejection: %v", err)
	}
}

func TestValidateShellFormIgnoresNonShellFirstToken(t *testing.T) {
	// validateShellForm's own contract is narrow (the -c-embedded blocked
	// subcommand check); the overall command is still refused at the
	// validateCommand layer, covered by TestValidateCommandRejectsPlainTokensWithChaining.
	if err := validateShellForm([]string{"echo", "hi; rm -rf /"}); err != nil {
		t.Errorf("non-shell first token should skip the -c-specific check, got: %v", err)
	}
}

func TestPrlimitPrefixIncludesAllCaps(t *testing.T) {
	argv := prlimitPrefix(DefaultResourceEnvelope)
	joined := ""
	for _, tok := range argv {
		joined += tok + " "
	}
	for _, want := range []string{"--nproc=", "--as=", "--fsize=", "--core=", "--"} {
		if !contains(joined, want) {
			t.Errorf("prlimit argv %q missing %q", joined, want)
		}
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
