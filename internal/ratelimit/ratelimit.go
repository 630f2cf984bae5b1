// Package ratelimit implements sliding-window admission control per
// (userIdentity, commandCategory) (spec.md section 4.8), persisted
// through internal/store so admission state survives across
// invocations of the CLI.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/mcops/masterclaw/internal/audit"
	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/errkind"
	"github.com/mcops/masterclaw/internal/logging"
	"github.com/mcops/masterclaw/internal/store"
)

// Policy is the (max, windowMs) pair for one command category.
type Policy struct {
	Max      int
	WindowMs int64
}

// maxSequenceLen is the point past which a category's timestamp list is
// treated as corrupted rather than merely full (spec.md section 4.8:
// "sequences longer than 200 ... treated as corruption -> reset and
// audit-log").
const maxSequenceLen = 200

// defaultPolicies is the category table from spec.md section 4.8.
var defaultPolicies = map[string]Policy{
	"restore":    {Max: 3, WindowMs: 300000},
	"config-fix": {Max: 5, WindowMs: 60000},
	"exec":       {Max: 5, WindowMs: 60000},
	"deploy":     {Max: 5, WindowMs: 300000},
	"update":     {Max: 10, WindowMs: 60000},
	"import":     {Max: 10, WindowMs: 60000},
	"status":     {Max: 60, WindowMs: 60000},
	"logs":       {Max: 60, WindowMs: 60000},
	"validate":   {Max: 60, WindowMs: 60000},
}

// defaultPolicy applies to any category not named in defaultPolicies
// (spec.md section 4.8: "Default | anything else | 30 | 60000").
var defaultPolicy = Policy{Max: 30, WindowMs: 60000}

// CategoryFromCommandPath derives the rate-limit category from a command
// path, which is its first whitespace-separated token (spec.md section
// 4.8: "category is the first token of commandPath").
func CategoryFromCommandPath(commandPath string) string {
	for i, r := range commandPath {
		if r == ' ' {
			return commandPath[:i]
		}
	}
	return commandPath
}

// PolicyFor returns the configured policy for category, falling back to
// defaultPolicy.
func PolicyFor(category string) Policy {
	if p, ok := defaultPolicies[category]; ok {
		return p
	}
	return defaultPolicy
}

// Limiter enforces admission against the category table.
type Limiter struct {
	path  string
	audit *audit.Logger
}

// New constructs a Limiter. auditLogger may be nil in contexts (tests)
// that don't need audit records for corruption resets.
func New(auditLogger *audit.Logger) (*Limiter, error) {
	path, err := store.Path(constants.RateLimitsFileName)
	if err != nil {
		return nil, err
	}
	return &Limiter{path: path, audit: auditLogger}, nil
}

func rateLimitValidator(raw map[string]any) error {
	for category, v := range raw {
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("category %q is not an array", category)
		}
		if len(arr) > maxSequenceLen {
			return fmt.Errorf("category %q has %d entries, exceeds corruption threshold", category, len(arr))
		}
		for _, ts := range arr {
			f, ok := asFiniteNumber(ts)
			if !ok || f < 0 {
				return fmt.Errorf("category %q contains a non-finite or negative timestamp", category)
			}
		}
	}
	return nil
}

func asFiniteNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}

// Admit loads the rate-limit state for (userIdentity, category), drops
// expired timestamps, and either admits (recording now) or denies with
// RATE_LIMITED carrying a retry-after hint.
func (l *Limiter) Admit(correlationID, userIdentity, category string, nowUnixMillis int64) error {
	key := userIdentity + "|" + category
	policy := PolicyFor(category)

	var denyRetryAfter int64 = -1
	// A state file that fails validation is reset by LoadState; record
	// that reset in the audit trail as well.
	validate := func(raw map[string]any) error {
		err := rateLimitValidator(raw)
		if err != nil {
			l.logCorruption(correlationID, key)
		}
		return err
	}
	_, err := store.AtomicUpdate(l.path, validate, map[string]any{}, func(current map[string]any) (map[string]any, error) {
		raw, ok := current[key].([]any)
		if !ok && current[key] != nil {
			l.logCorruption(correlationID, key)
			raw = nil
		}

		timestamps := filterFresh(raw, nowUnixMillis, policy.WindowMs)
		if len(timestamps) > maxSequenceLen {
			l.logCorruption(correlationID, key)
			timestamps = nil
		}

		if len(timestamps) >= policy.Max {
			oldest := timestamps[0]
			denyRetryAfter = policy.WindowMs - (nowUnixMillis - oldest)
			if denyRetryAfter < 0 {
				denyRetryAfter = 0
			}
			current[key] = toAnySlice(timestamps)
			return current, nil
		}

		timestamps = append(timestamps, nowUnixMillis)
		current[key] = toAnySlice(timestamps)
		return current, nil
	})
	if err != nil {
		return err
	}
	if denyRetryAfter >= 0 {
		return errkind.Newf(errkind.RateLimited, "rate limit exceeded for category %q, retry after %dms", category, denyRetryAfter).WithRule("RATE_LIMITED")
	}
	return nil
}

func (l *Limiter) logCorruption(correlationID, key string) {
	logging.SecurityEvent("ratelimit", "rate-limit state corrupted, resetting", map[string]any{"key": key})
	if l.audit != nil {
		_ = l.audit.Append(correlationID, "", audit.CategorySecurityViolation, "rate-limits.json", map[string]any{"key": key, "reason": "corrupted sequence"})
	}
}

// DenyAudit records a RATE_LIMIT_DENIED event for an admission refusal;
// callers invoke it after Admit returns a RATE_LIMITED error, since only
// the caller knows the full command path worth recording.
func (l *Limiter) DenyAudit(correlationID, userIdentity, commandPath string) {
	if l.audit == nil {
		return
	}
	_ = l.audit.Append(correlationID, userIdentity, audit.CategoryRateLimitDenied, commandPath, nil)
}

func filterFresh(raw []any, nowUnixMillis, windowMs int64) []int64 {
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		f, ok := asFiniteNumber(v)
		if !ok {
			continue
		}
		ts := int64(f)
		if nowUnixMillis-ts < windowMs {
			out = append(out, ts)
		}
	}
	return out
}

func toAnySlice(in []int64) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
