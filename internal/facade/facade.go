// Package facade provides typed accessors over the AI-service REST API
// (spec.md section 4.12): health, cache, sessions, SLO, and insights.
// Each method wraps internal/httpclient with internal/resilience's
// breaker-gated retry, prepends the correlation-ID header, and declares
// its own idempotence.
package facade

import (
	"context"
	"encoding/json"

	"github.com/mcops/masterclaw/internal/errkind"
	"github.com/mcops/masterclaw/internal/httpclient"
	"github.com/mcops/masterclaw/internal/resilience"
)

// Client is the typed facade over the AI-service REST API.
type Client struct {
	http            *httpclient.Client
	baseURL         string
	token           string
	breaker         *resilience.Breaker
	retry           resilience.RetryConfig
	allowPrivateIPs bool
}

// New constructs a facade Client bound to baseURL (resolved from
// config), authenticating with token when non-empty (spec.md section 6:
// "x-api-token when present"). The AI-service ecosystem this facade
// talks to runs on the operator's own infrastructure, often at a
// private address, so requests opt into AllowPrivateIPs — like
// internal/heal's health probes, which do the same for the same reason.
func New(httpClient *httpclient.Client, baseURL, token, breakerTarget string) (*Client, error) {
	breaker, err := resilience.New(breakerTarget, resilience.Config{})
	if err != nil {
		return nil, err
	}
	return &Client{http: httpClient, baseURL: baseURL, token: token, breaker: breaker, allowPrivateIPs: true}, nil
}

func (c *Client) do(ctx context.Context, correlationID, method, path string, idempotent bool) (*httpclient.Response, error) {
	headers := map[string]string{
		"content-type": "application/json",
	}
	if c.token != "" {
		headers["x-api-token"] = c.token
	}

	// lastStatus is updated by the op closure on every attempt so the
	// retry predicate below can see the status code of the attempt that
	// just failed, since only this layer (not internal/resilience) has
	// access to both the error and the raw httpclient.Response.
	var lastStatus int
	isRetryable := func(err error) bool {
		if lastStatus != 0 && httpclient.RetryableStatus(lastStatus) {
			return true
		}
		return resilience.IsRetryableRule(errkind.RuleOf(err))
	}

	resp, err := resilience.Do(ctx, c.breaker, c.retry, idempotent, isRetryable, func(ctx context.Context) (*httpclient.Response, error) {
		r, err := c.http.Do(ctx, httpclient.Descriptor{
			Method:          method,
			URL:             c.baseURL + path,
			Headers:         headers,
			CorrelationID:   correlationID,
			AllowPrivateIPs: c.allowPrivateIPs,
		})
		if r != nil {
			lastStatus = r.StatusCode
		}
		return r, err
	})
	return resp, err
}

// HealthStatus is the decoded shape of GET /health.
type HealthStatus struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// Health calls GET /health. Idempotent: always retried on a retryable
// failure.
func (c *Client) Health(ctx context.Context, correlationID string) (*HealthStatus, error) {
	resp, err := c.do(ctx, correlationID, "GET", "/health", true)
	if err != nil {
		return nil, errkind.Wrap(errkind.Dependency, "health check failed", err)
	}
	var out HealthStatus
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, errkind.Wrap(errkind.Dependency, "health response decode failed", err)
	}
	return &out, nil
}

// CacheStats is the decoded shape of GET /cache.
type CacheStats struct {
	Entries   int   `json:"entries"`
	SizeBytes int64 `json:"sizeBytes"`
}

// CacheStats fetches cache statistics. Idempotent.
func (c *Client) CacheStats(ctx context.Context, correlationID string) (*CacheStats, error) {
	resp, err := c.do(ctx, correlationID, "GET", "/cache", true)
	if err != nil {
		return nil, errkind.Wrap(errkind.Dependency, "cache stats fetch failed", err)
	}
	var out CacheStats
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, errkind.Wrap(errkind.Dependency, "cache stats decode failed", err)
	}
	return &out, nil
}

// ClearCache issues DELETE /cache. Not idempotent by HTTP semantics in
// the general case, but a cache clear is safe to retry since repeating
// it converges to the same empty state, so callers may opt in.
func (c *Client) ClearCache(ctx context.Context, correlationID string, idempotent bool) error {
	_, err := c.do(ctx, correlationID, "DELETE", "/cache", idempotent)
	if err != nil {
		return errkind.Wrap(errkind.Dependency, "cache clear failed", err)
	}
	return nil
}

// Session is one decoded entry from GET /sessions.
type Session struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	StartedAt string `json:"startedAt"`
}

// Sessions lists active sessions. Idempotent.
func (c *Client) Sessions(ctx context.Context, correlationID string) ([]Session, error) {
	resp, err := c.do(ctx, correlationID, "GET", "/sessions", true)
	if err != nil {
		return nil, errkind.Wrap(errkind.Dependency, "sessions fetch failed", err)
	}
	var out []Session
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, errkind.Wrap(errkind.Dependency, "sessions decode failed", err)
	}
	return out, nil
}

// SLOReport is the decoded shape of GET /slo.
type SLOReport struct {
	Name           string  `json:"name"`
	TargetPercent  float64 `json:"targetPercent"`
	ObservedPercent float64 `json:"observedPercent"`
	WindowMinutes  int     `json:"windowMinutes"`
}

// SLO fetches the current SLO report. Idempotent.
func (c *Client) SLO(ctx context.Context, correlationID string) (*SLOReport, error) {
	resp, err := c.do(ctx, correlationID, "GET", "/slo", true)
	if err != nil {
		return nil, errkind.Wrap(errkind.Dependency, "slo fetch failed", err)
	}
	var out SLOReport
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, errkind.Wrap(errkind.Dependency, "slo decode failed", err)
	}
	return &out, nil
}

// Insight is one decoded entry from GET /insights.
type Insight struct {
	ID       string `json:"id"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Insights fetches cost/usage insights. Idempotent.
func (c *Client) Insights(ctx context.Context, correlationID string) ([]Insight, error) {
	resp, err := c.do(ctx, correlationID, "GET", "/insights", true)
	if err != nil {
		return nil, errkind.Wrap(errkind.Dependency, "insights fetch failed", err)
	}
	var out []Insight
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, errkind.Wrap(errkind.Dependency, "insights decode failed", err)
	}
	return out, nil
}
