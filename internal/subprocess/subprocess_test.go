package subprocess

import (
	"context"
	"testing"
	"time"

	"github.com/mcops/masterclaw/internal/errkind"
)

func TestRunRejectsDisallowedProgram(t *testing.T) {
	_, err := Run(context.Background(), Descriptor{Program: "rm", Args: []string{"-rf", "/"}})
	if err == nil {
		t.Fatalf("expected disallowed program to be rejected")
	}
	if errkind.RuleOf(err) != "PROGRAM_NOT_ALLOWED" {
		t.Errorf("rule = %q, want PROGRAM_NOT_ALLOWED", errkind.RuleOf(err))
	}
}

func TestRunRejectsMalformedEnv(t *testing.T) {
	_, err := Run(context.Background(), Descriptor{Program: "git", Args: []string{"--version"}, Env: []string{"not-an-assignment"}})
	if err == nil {
		t.Fatalf("expected malformed env entry to be rejected")
	}
	if errkind.RuleOf(err) != "ENV_MALFORMED" {
		t.Errorf("rule = %q, want ENV_MALFORMED", errkind.RuleOf(err))
	}
}

func TestRunSucceeds(t *testing.T) {
	res, err := Run(context.Background(), Descriptor{Program: "git", Args: []string{"--version"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.ErrorKind != "" {
		t.Errorf("ErrorKind = %q, want empty", res.ErrorKind)
	}
}

func TestRunTimesOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := Run(ctx, Descriptor{Program: "git", Args: []string{"--version"}, Timeout: time.Nanosecond})
	if err == nil {
		t.Fatalf("expected an extremely short timeout to fire")
	}
}

func TestDecodeExitCode(t *testing.T) {
	cases := []struct {
		code   int
		stderr string
		want   errkind.Kind
	}{
		{0, "", ""},
		{137, "", errkind.Resource},
		{143, "", errkind.Cancelled},
		{152, "", errkind.Resource},
		{153, "", errkind.Resource},
		{159, "", errkind.Security},
		{1, "bash: cannot allocate memory", errkind.Resource},
		{1, "some other failure", errkind.Generic},
	}
	for _, c := range cases {
		if got := DecodeExitCode(c.code, c.stderr); got != c.want {
			t.Errorf("DecodeExitCode(%d, %q) = %q, want %q", c.code, c.stderr, got, c.want)
		}
	}
}

func TestCapturingBufferTruncates(t *testing.T) {
	var buf capturingBuffer
	big := make([]byte, MaxOutputBytes+100)
	for i := range big {
		big[i] = 'a'
	}
	buf.Write(big)
	if !buf.truncated {
		t.Errorf("expected truncated flag to be set")
	}
	if len(buf.String()) != MaxOutputBytes {
		t.Errorf("buffer length = %d, want %d", len(buf.String()), MaxOutputBytes)
	}
}
