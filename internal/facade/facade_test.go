package facade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/httpclient"
)

func withStateDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	old := os.Getenv(constants.EnvStateDir)
	os.Setenv(constants.EnvStateDir, dir)
	t.Cleanup(func() { os.Setenv(constants.EnvStateDir, old) })
}

func TestHealthDecodesSuccessBody(t *testing.T) {
	withStateDir(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-token") != "secret-token" {
			t.Errorf("missing x-api-token header")
		}
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(HealthStatus{Status: "ok", Services: map[string]string{"gateway": "up"}})
	}))
	defer srv.Close()

	c, err := New(httpclient.New(), srv.URL, "secret-token", "ai-service-health")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	status, err := c.Health(context.Background(), "corr-1")
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if status.Status != "ok" {
		t.Errorf("Status = %q, want ok", status.Status)
	}
}

func TestHealthWrapsUpstreamFailure(t *testing.T) {
	withStateDir(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(httpclient.New(), srv.URL, "", "ai-service-health-2")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Health(context.Background(), "corr-2"); err == nil {
		t.Fatalf("expected a 500 response to surface as an error")
	}
}

func TestSessionsDecodesList(t *testing.T) {
	withStateDir(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode([]Session{{ID: "s1", UserID: "u1", StartedAt: "2026-08-03T00:00:00Z"}})
	}))
	defer srv.Close()

	c, err := New(httpclient.New(), srv.URL, "", "ai-service-sessions")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sessions, err := c.Sessions(context.Background(), "corr-3")
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Errorf("Sessions = %+v, want one session with ID s1", sessions)
	}
}
