package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mcops/masterclaw/internal/errkind"
)

func TestDoRejectsNonHTTPScheme(t *testing.T) {
	c := New()
	_, err := c.Do(context.Background(), Descriptor{URL: "file:///etc/passwd"})
	if err == nil {
		t.Fatalf("expected file:// scheme to be rejected")
	}
	if errkind.KindOf(err) != errkind.Validation {
		t.Errorf("kind = %v, want Validation", errkind.KindOf(err))
	}
}

func TestDoRejectsHeaderInjection(t *testing.T) {
	c := New()
	_, err := c.Do(context.Background(), Descriptor{
		URL:     "https://example.com",
		Headers: map[string]string{"X-Evil": "value\r\nX-Injected: yes"},
	})
	if err == nil {
		t.Fatalf("expected CR/LF header value to be rejected")
	}
	if errkind.RuleOf(err) != "HEADER_INJECTION" {
		t.Errorf("rule = %q, want HEADER_INJECTION", errkind.RuleOf(err))
	}
}

func TestDoRejectsLoopbackByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New()
	_, err := c.Do(context.Background(), Descriptor{URL: srv.URL})
	if err == nil {
		t.Fatalf("expected loopback destination to be rejected without AllowPrivateIPs")
	}
	if errkind.KindOf(err) != errkind.SSRF {
		t.Errorf("kind = %v, want SSRF", errkind.KindOf(err))
	}
}

func TestDoAllowsLoopbackWhenOptedIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New()
	resp, err := c.Do(context.Background(), Descriptor{URL: srv.URL, AllowPrivateIPs: true})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("Body = %q, want ok", resp.Body)
	}
}

func TestDoRejectsResponseOverCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer srv.Close()

	c := New()
	_, err := c.Do(context.Background(), Descriptor{
		URL:              srv.URL,
		AllowPrivateIPs:  true,
		MaxResponseBytes: 10,
	})
	if err == nil {
		t.Fatalf("expected response over cap to be rejected")
	}
	if errkind.RuleOf(err) != "RESPONSE_TOO_LARGE" {
		t.Errorf("rule = %q, want RESPONSE_TOO_LARGE", errkind.RuleOf(err))
	}
}

func TestDoReturnsHTTPStatusErrorOn500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New()
	resp, err := c.Do(context.Background(), Descriptor{URL: srv.URL, AllowPrivateIPs: true})
	if err == nil {
		t.Fatalf("expected HTTP 500 to produce an error")
	}
	if errkind.RuleOf(err) != "HTTP_STATUS" {
		t.Errorf("rule = %q, want HTTP_STATUS", errkind.RuleOf(err))
	}
	if resp == nil || resp.StatusCode != 500 {
		t.Errorf("expected Response to still be returned with StatusCode 500, got %v", resp)
	}
	if !RetryableStatus(500) {
		t.Errorf("RetryableStatus(500) = false, want true")
	}
}
