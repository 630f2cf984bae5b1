package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mcops/masterclaw/internal/errkind"
)

// RetryConfig tunes Do; zero values take spec.md's defaults.
type RetryConfig struct {
	MaxRetries uint
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Idempotent bool
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	return c
}

// retryableKinds is the set of errkind.Kind values eligible for retry
// (spec.md section 4.7); HTTP_STATUS is handled by callers folding an
// httpclient.RetryableStatus check into the isRetryable they pass to Do.
var retryableKinds = map[errkind.Kind]bool{
	errkind.Generic: true, // covers TIMEOUT/CONNECT_REFUSED/DNS_FAILURE, which are wrapped as Generic by httpclient
}

// IsRetryableRule reports whether a specific rule name from httpclient
// (TIMEOUT, CONNECT_REFUSED, DNS_FAILURE) is retryable. RESPONSE_TOO_LARGE
// and HEADER_INJECTION are deliberately excluded.
func IsRetryableRule(rule string) bool {
	switch rule {
	case "TIMEOUT", "CONNECT_REFUSED", "DNS_FAILURE":
		return true
	default:
		return false
	}
}

// Do runs breaker.Allow, then op through a bounded exponential-backoff
// retry loop, recording the outcome back to breaker on every attempt.
// idempotent gates whether a retry is attempted at all for non-GET-like
// operations (spec.md section 4.7: "the request is idempotent ... POST
// only if caller opts in"). isRetryable classifies op's error; pass nil
// to use the default classification (errkind rule/kind based on
// httpclient's typed errors). Callers that also need to retry on
// specific HTTP status codes (408/429/500/502/503/504) should fold that
// check into their own isRetryable, since the status code itself lives
// on the caller's Response, not on the error.
func Do[T any](ctx context.Context, breaker *Breaker, cfg RetryConfig, idempotent bool, isRetryable func(error) bool, op func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	if isRetryable == nil {
		isRetryable = shouldRetry
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.BaseDelay
	eb.MaxInterval = cfg.MaxDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.3 // gives the delay*[0.7,1.3] jitter spec.md specifies

	return backoff.Retry(ctx, func() (T, error) {
		if err := breaker.Allow(); err != nil {
			var zero T
			return zero, backoff.Permanent(err)
		}

		result, err := op(ctx)
		if err == nil {
			_ = breaker.RecordSuccess()
			return result, nil
		}

		_ = breaker.RecordFailure()

		if !idempotent || !isRetryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(cfg.MaxRetries+1),
	)
}

func shouldRetry(err error) bool {
	rule := errkind.RuleOf(err)
	if rule != "" {
		return IsRetryableRule(rule)
	}
	return retryableKinds[errkind.KindOf(err)]
}
