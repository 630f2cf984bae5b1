// Package errkind defines the error taxonomy shared by every layer of the
// MasterClaw core and the single place that maps a Kind to a process exit
// code (spec.md section 6 and section 7). Components bubble a Kind; only
// the dispatcher converts Kind to an exit code and user-visible text.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is a coarse error classification, not a Go type hierarchy. It is
// the only thing the dispatcher switches on.
type Kind string

const (
	Generic     Kind = "GENERIC"
	Usage       Kind = "USAGE"
	Validation  Kind = "VALIDATION"
	Absent      Kind = "NOT_FOUND"
	RateLimited Kind = "RATE_LIMITED"
	CircuitOpen Kind = "CIRCUIT_OPEN"
	SSRF        Kind = "SSRF_VIOLATION"
	Resource    Kind = "RESOURCE_LIMIT"
	Cancelled   Kind = "CANCELLED"
	Integrity   Kind = "INTEGRITY"
	Budget      Kind = "BUDGET"
	Security    Kind = "SECURITY"
	Dependency  Kind = "DEPENDENCY"
	Concurrency Kind = "CONCURRENCY"
)

// ExitCode is the fixed enumeration from spec.md section 6.
type ExitCode int

const (
	ExitOK            ExitCode = 0
	ExitGeneric       ExitCode = 1
	ExitUsage         ExitCode = 2
	ExitValidation    ExitCode = 3
	ExitNotFound      ExitCode = 4
	ExitRateLimited   ExitCode = 5
	ExitCircuitOpen   ExitCode = 6
	ExitSSRF          ExitCode = 7
	ExitResourceLimit ExitCode = 8
	ExitCancelled     ExitCode = 9
	ExitIntegrity     ExitCode = 10
	ExitBudget        ExitCode = 11
)

// exitCodes maps each Kind to its fixed exit code. Security and
// Dependency/Concurrency are "meta" kinds used internally by components
// before being refined into a more specific Kind (SSRF, CircuitOpen,
// RateLimited, ...); if one escapes unrefined it still maps to something
// sane rather than panicking the dispatcher.
var exitCodes = map[Kind]ExitCode{
	Generic:     ExitGeneric,
	Usage:       ExitUsage,
	Validation:  ExitValidation,
	Absent:      ExitNotFound,
	RateLimited: ExitRateLimited,
	CircuitOpen: ExitCircuitOpen,
	SSRF:        ExitSSRF,
	Resource:    ExitResourceLimit,
	Cancelled:   ExitCancelled,
	Integrity:   ExitIntegrity,
	Budget:      ExitBudget,
	Security:    ExitValidation,
	Dependency:  ExitGeneric,
	Concurrency: ExitGeneric,
}

// ExitCodeFor returns the exit code for a Kind, defaulting to ExitGeneric
// for an unrecognized Kind rather than failing.
func ExitCodeFor(k Kind) ExitCode {
	if code, ok := exitCodes[k]; ok {
		return code
	}
	return ExitGeneric
}

// Error is the structured error type returned by every layer below the
// dispatcher. Rule names the specific check that fired (e.g.
// "SHELL_CHAINING", "PATH_TRAVERSAL") and is safe to surface to the
// operator; it never carries the raw rejected input.
type Error struct {
	Kind  Kind
	Rule  string
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a Kind-tagged error with no specific rule.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

// Newf is New with formatting.
func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error.
func Wrap(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Msg: msg, Cause: cause}
}

// WithRule attaches the name of the specific validation rule that fired.
func (e *Error) WithRule(rule string) *Error {
	e.Rule = rule
	return e
}

// KindOf extracts the Kind carried by err, walking the unwrap chain.
// Returns Generic if no *Error is found anywhere in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Generic
}

// RuleOf extracts the originating rule name, if any.
func RuleOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Rule
	}
	return ""
}
