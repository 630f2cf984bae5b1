// Package resilience implements the circuit breaker and retry wrapper
// around outbound calls (spec.md section 4.7).
package resilience

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/errkind"
	"github.com/mcops/masterclaw/internal/store"
)

// State is one of the three circuit breaker states (spec.md section 4.7).
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config tunes a Breaker's thresholds; zero values take spec.md's
// defaults.
type Config struct {
	FailureThreshold   int
	ResetTimeoutMillis int64
	SuccessThreshold   int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.ResetTimeoutMillis <= 0 {
		c.ResetTimeoutMillis = 10000
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	return c
}

// Breaker is a per-target circuit breaker whose state survives across
// process invocations by persisting through internal/store (spec.md
// section 5: "best-effort" multi-process agreement — see DESIGN.md
// Open Question 2).
type Breaker struct {
	mu     sync.Mutex
	target string
	config Config
	path   string
}

// New returns a Breaker for target (a logical dependency name such as
// "gateway" or "openai"), persisting its state at
// $MC_STATE_DIR/circuits.json under targets[target].
func New(target string, config Config) (*Breaker, error) {
	path, err := store.Path(constants.CircuitsFileName)
	if err != nil {
		return nil, err
	}
	return &Breaker{target: target, config: config.withDefaults(), path: path}, nil
}

type circuitState struct {
	State              string `json:"state"`
	FailureCount       int    `json:"failureCount"`
	SuccessCount       int    `json:"successCount"`
	OpenedAtUnixMillis int64  `json:"openedAtUnixMillis"`
}

func loadCircuitState(raw map[string]any) circuitState {
	cs := circuitState{State: string(StateClosed)}
	if raw == nil {
		return cs
	}
	if s, ok := raw["state"].(string); ok {
		cs.State = s
	}
	if v, ok := numberOf(raw["failureCount"]); ok {
		cs.FailureCount = int(v)
	}
	if v, ok := numberOf(raw["successCount"]); ok {
		cs.SuccessCount = int(v)
	}
	if v, ok := numberOf(raw["openedAtUnixMillis"]); ok {
		cs.OpenedAtUnixMillis = int64(v)
	}
	return cs
}

// numberOf accepts both float64 (a freshly-built in-process map) and
// json.Number (a value just decoded off disk by store.LoadState, which
// decodes numbers with UseNumber() to avoid float64 precision loss).
func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func (cs circuitState) toMap() map[string]any {
	return map[string]any{
		"state":              cs.State,
		"failureCount":       cs.FailureCount,
		"successCount":       cs.SuccessCount,
		"openedAtUnixMillis": cs.OpenedAtUnixMillis,
	}
}

// Allow reports whether a call may proceed, transitioning open→half-open
// when resetTimeoutMillis has elapsed. A CIRCUIT_OPEN error means the
// caller must fail fast without attempting the call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var blocked error
	_, err := store.AtomicUpdate(b.path, nil, map[string]any{}, func(current map[string]any) (map[string]any, error) {
		targets := targetsOf(current)
		cs := loadCircuitState(asMap(targets[b.target]))

		switch State(cs.State) {
		case StateOpen:
			if nowMillis()-cs.OpenedAtUnixMillis >= b.config.ResetTimeoutMillis {
				cs.State = string(StateHalfOpen)
				cs.SuccessCount = 0
			} else {
				blocked = errkind.New(errkind.CircuitOpen, "circuit is open for "+b.target).WithRule("CIRCUIT_OPEN")
			}
		case StateHalfOpen:
			// Half-open admits every caller: no in-flight probe is
			// tracked, so concurrent probes are not limited to one.
			// Each completed call moves the counters through
			// RecordSuccess or RecordFailure.
		}

		targets[b.target] = cs.toMap()
		current["targets"] = targets
		return current, nil
	})
	if err != nil {
		return err
	}
	return blocked
}

// RecordSuccess transitions the breaker on a successful call.
func (b *Breaker) RecordSuccess() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := store.AtomicUpdate(b.path, nil, map[string]any{}, func(current map[string]any) (map[string]any, error) {
		targets := targetsOf(current)
		cs := loadCircuitState(asMap(targets[b.target]))
		switch State(cs.State) {
		case StateHalfOpen:
			cs.SuccessCount++
			if cs.SuccessCount >= b.config.SuccessThreshold {
				cs.State = string(StateClosed)
				cs.FailureCount = 0
				cs.SuccessCount = 0
			}
		default:
			cs.State = string(StateClosed)
			cs.FailureCount = 0
		}
		targets[b.target] = cs.toMap()
		current["targets"] = targets
		return current, nil
	})
	return err
}

// RecordFailure transitions the breaker on a failed call.
func (b *Breaker) RecordFailure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := store.AtomicUpdate(b.path, nil, map[string]any{}, func(current map[string]any) (map[string]any, error) {
		targets := targetsOf(current)
		cs := loadCircuitState(asMap(targets[b.target]))
		switch State(cs.State) {
		case StateHalfOpen:
			cs.State = string(StateOpen)
			cs.OpenedAtUnixMillis = nowMillis()
			cs.SuccessCount = 0
		default:
			cs.FailureCount++
			if cs.FailureCount >= b.config.FailureThreshold {
				cs.State = string(StateOpen)
				cs.OpenedAtUnixMillis = nowMillis()
			}
		}
		targets[b.target] = cs.toMap()
		current["targets"] = targets
		return current, nil
	})
	return err
}

func targetsOf(current map[string]any) map[string]any {
	if t, ok := current["targets"].(map[string]any); ok {
		return t
	}
	return map[string]any{}
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

func nowMillis() int64 {
	return timeNow().UnixMilli()
}

// timeNow is overridable in tests.
var timeNow = time.Now
