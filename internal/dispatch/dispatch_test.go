package dispatch

import (
	"context"
	"os"
	"testing"

	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/errkind"
	"github.com/mcops/masterclaw/internal/ratelimit"
)

func withStateDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	old := os.Getenv(constants.EnvStateDir)
	os.Setenv(constants.EnvStateDir, dir)
	t.Cleanup(func() { os.Setenv(constants.EnvStateDir, old) })
}

func TestResolveCorrelationIDPrefersEnv(t *testing.T) {
	old := os.Getenv(constants.EnvCorrelationID)
	os.Setenv(constants.EnvCorrelationID, "env-corr-id")
	t.Cleanup(func() { os.Setenv(constants.EnvCorrelationID, old) })

	if got := ResolveCorrelationID("header-corr-id"); got != "env-corr-id" {
		t.Errorf("ResolveCorrelationID = %q, want env value", got)
	}
}

func TestResolveCorrelationIDFallsBackToHeaderThenGenerate(t *testing.T) {
	os.Unsetenv(constants.EnvCorrelationID)

	if got := ResolveCorrelationID("header-corr-id"); got != "header-corr-id" {
		t.Errorf("ResolveCorrelationID = %q, want header value", got)
	}
	if got := ResolveCorrelationID(""); got == "" {
		t.Errorf("ResolveCorrelationID() with nothing set should generate a non-empty ID")
	}
}

func TestResolveUserIdentityIsStableAndOpaque(t *testing.T) {
	a := ResolveUserIdentity()
	b := ResolveUserIdentity()
	if a != b {
		t.Errorf("ResolveUserIdentity is not stable: %q != %q", a, b)
	}
	if a == os.Getenv("USER") {
		t.Errorf("ResolveUserIdentity leaked the raw username")
	}
}

func TestDispatchSuccessReturnsOK(t *testing.T) {
	withStateDir(t)
	d := New(nil, nil, nil)
	code := d.Dispatch(context.Background(), []string{"status"}, nil, "", false, false, false,
		func(ctx context.Context, cc *CommandContext) (*Result, error) {
			return &Result{Message: "ok"}, nil
		})
	if code != errkind.ExitOK {
		t.Errorf("exit code = %d, want OK", code)
	}
}

func TestDispatchMapsErrorKindToExitCode(t *testing.T) {
	withStateDir(t)
	d := New(nil, nil, nil)
	code := d.Dispatch(context.Background(), []string{"deploy"}, nil, "", false, false, false,
		func(ctx context.Context, cc *CommandContext) (*Result, error) {
			return nil, errkind.New(errkind.SSRF, "destination refused")
		})
	if code != errkind.ExitSSRF {
		t.Errorf("exit code = %d, want ExitSSRF", code)
	}
}

func TestDispatchDeniesOnRateLimit(t *testing.T) {
	withStateDir(t)
	lim, err := ratelimit.New(nil)
	if err != nil {
		t.Fatalf("ratelimit.New: %v", err)
	}
	d := New(lim, nil, nil)

	var lastCode errkind.ExitCode
	handler := func(ctx context.Context, cc *CommandContext) (*Result, error) {
		return &Result{}, nil
	}
	for i := 0; i < 4; i++ {
		lastCode = d.Dispatch(context.Background(), []string{"restore"}, nil, "", false, false, false, handler)
	}
	if lastCode != errkind.ExitRateLimited {
		t.Errorf("exit code after exceeding restore's max = %d, want ExitRateLimited", lastCode)
	}
}
