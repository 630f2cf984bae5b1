// Package httpclient implements the only path by which the core talks
// to other hosts (spec.md section 4.5): URL scheme/host validation, DNS
// rebinding defense, header sanitization, and response-size limits. No
// suitable third-party SSRF-prevention client exists among the example
// pack's dependencies, so this is built directly on net/http with a
// custom DialContext (see DESIGN.md).
package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/mcops/masterclaw/internal/errkind"
)

// DefaultMaxResponseBytes caps a response body (spec.md section 4.5).
const DefaultMaxResponseBytes = 10 * 1024 * 1024

// DefaultTimeout bounds connect + overall request time when a caller
// does not specify one.
const DefaultTimeout = 30 * time.Second

var headerNamePattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Descriptor is one request through the client.
type Descriptor struct {
	Method          string
	URL             string
	Headers         map[string]string
	Body            io.Reader
	TimeoutMillis   int64
	MaxResponseBytes int64
	AllowPrivateIPs bool
	CorrelationID   string
}

// Response is the result of a successful request.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Client is the secure HTTP client. It does not retry; internal/resilience
// wraps it for retry and circuit-breaking.
type Client struct {
	transport *http.Transport
}

// New constructs a Client. The Transport's DialContext resolves the host
// once, validates every resolved address against the private/loopback/
// link-local policy, then dials the chosen address explicitly — so a
// later DNS answer can never redirect the connection (spec.md section
// 4.5 point 2: DNS rebinding defense).
func New() *Client {
	c := &Client{}
	c.transport = &http.Transport{
		DialContext:         c.dialContext,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:        32,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return c
}

type dialPolicyKey struct{}

// Do executes descriptor and returns a typed Response or a typed error
// (spec.md section 4.5: SSRF_VIOLATION, HEADER_INJECTION,
// RESPONSE_TOO_LARGE, TIMEOUT, CONNECT_REFUSED, DNS_FAILURE, TLS_FAILURE,
// HTTP_STATUS(code)).
func (c *Client) Do(ctx context.Context, d Descriptor) (*Response, error) {
	if err := validateURL(d.URL); err != nil {
		return nil, err
	}
	for name, value := range d.Headers {
		if err := validateHeader(name, value); err != nil {
			return nil, err
		}
	}

	timeout := DefaultTimeout
	if d.TimeoutMillis > 0 {
		timeout = time.Duration(d.TimeoutMillis) * time.Millisecond
	}
	ctx = context.WithValue(ctx, dialPolicyKey{}, d.AllowPrivateIPs)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := d.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, d.URL, d.Body)
	if err != nil {
		return nil, errkind.Wrap(errkind.Validation, "failed to construct request", err).WithRule("REQUEST_CONSTRUCTION")
	}
	for name, value := range d.Headers {
		req.Header.Set(name, value)
	}
	if d.CorrelationID != "" {
		req.Header.Set("x-correlation-id", d.CorrelationID)
	}

	httpClient := &http.Client{Transport: c.transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, classifyDoError(err)
	}
	defer resp.Body.Close()

	maxBytes := d.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResponseBytes
	}
	limited := io.LimitReader(resp.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, errkind.Wrap(errkind.Generic, "failed to read response body", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, errkind.Newf(errkind.Resource, "response exceeds %d byte cap", maxBytes).WithRule("RESPONSE_TOO_LARGE")
	}

	result := &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}
	if resp.StatusCode >= 400 {
		return result, errkind.Newf(errkind.Dependency, "upstream returned HTTP %d", resp.StatusCode).WithRule("HTTP_STATUS")
	}
	return result, nil
}

// validateURL rejects non-http(s) schemes and address literals designed
// to confuse naive parsers (spec.md section 4.5 point 1).
func validateURL(raw string) error {
	if raw == "" {
		return errkind.New(errkind.Validation, "request URL is empty").WithRule("EMPTY_URL")
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return errkind.New(errkind.Validation, "only http and https schemes are permitted").WithRule("SCHEME_NOT_ALLOWED")
	}
	if strings.Contains(lower, "[::ffff:") || strings.Contains(raw, "0.0.0.0") {
		return errkind.New(errkind.SSRF, "suspicious address literal").WithRule("SSRF_VIOLATION")
	}
	return nil
}

// validateHeader rejects header-injection attempts (spec.md section
// 4.5 point 3).
func validateHeader(name, value string) error {
	if !headerNamePattern.MatchString(name) {
		return errkind.Newf(errkind.Validation, "header name %q is not permitted", name).WithRule("HEADER_INJECTION")
	}
	if strings.ContainsAny(value, "\r\n") {
		return errkind.Newf(errkind.Validation, "header %q value contains CR/LF", name).WithRule("HEADER_INJECTION")
	}
	return nil
}

// dialContext resolves addr's host once, rejects any resolved address
// in a private/loopback/link-local range unless the request opted into
// allowPrivateIPs, then dials the first acceptable address explicitly —
// the connection is pinned to that address regardless of what a
// subsequent DNS lookup would return.
func (c *Client) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	allowPrivate, _ := ctx.Value(dialPolicyKey{}).(bool)

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errkind.Wrap(errkind.Generic, "failed to split host/port", err).WithRule("DNS_FAILURE")
	}

	var resolver net.Resolver
	ips, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, errkind.Wrap(errkind.Generic, "DNS resolution failed", err).WithRule("DNS_FAILURE")
	}
	if len(ips) == 0 {
		return nil, errkind.New(errkind.Generic, "DNS resolution returned no addresses").WithRule("DNS_FAILURE")
	}

	var chosen net.IP
	for _, ip := range ips {
		if !allowPrivate && isPrivateOrLoopback(ip.IP) {
			continue
		}
		chosen = ip.IP
		break
	}
	if chosen == nil {
		return nil, errkind.Newf(errkind.SSRF, "all resolved addresses for %q are private/loopback/link-local", host).WithRule("SSRF_VIOLATION")
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(chosen.String(), port))
	if err != nil {
		return nil, classifyDialError(err)
	}
	return conn, nil
}

// RetryableStatus reports whether an HTTP status code is one
// internal/resilience should retry for an idempotent request (spec.md
// section 4.7: "HTTP_STATUS(408|429|500|502|503|504)").
func RetryableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// isPrivateOrLoopback reports whether ip falls in a private, loopback,
// or link-local range (spec.md section 4.5 point 2).
func isPrivateOrLoopback(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	return ip.IsPrivate()
}

func classifyDoError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "Client.Timeout"):
		return errkind.Wrap(errkind.Generic, "request timed out", err).WithRule("TIMEOUT")
	case strings.Contains(msg, "connection refused"):
		return errkind.Wrap(errkind.Generic, "connection refused", err).WithRule("CONNECT_REFUSED")
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "DNS_FAILURE"):
		return errkind.Wrap(errkind.Generic, "DNS resolution failed", err).WithRule("DNS_FAILURE")
	case strings.Contains(msg, "tls:"), strings.Contains(msg, "x509:"):
		return errkind.Wrap(errkind.Generic, "TLS handshake failed", err).WithRule("TLS_FAILURE")
	case strings.Contains(msg, "SSRF_VIOLATION"):
		return errkind.Wrap(errkind.SSRF, "request blocked by SSRF policy", err).WithRule("SSRF_VIOLATION")
	default:
		return errkind.Wrap(errkind.Generic, "request failed", err)
	}
}

func classifyDialError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errkind.Wrap(errkind.Generic, "connection attempt timed out", err).WithRule("TIMEOUT")
	}
	if strings.Contains(err.Error(), "connection refused") {
		return errkind.Wrap(errkind.Generic, "connection refused", err).WithRule("CONNECT_REFUSED")
	}
	return errkind.Wrap(errkind.Generic, "dial failed", err)
}
