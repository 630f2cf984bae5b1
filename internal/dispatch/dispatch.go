// Package dispatch is the single entry point every command passes
// through (spec.md section 4.9): it resolves a correlation ID, builds
// a CommandContext, enforces the rate limiter, invokes the handler, and
// converts the outcome to an exit code and human/JSON output.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcops/masterclaw/internal/audit"
	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/errkind"
	"github.com/mcops/masterclaw/internal/logging"
	"github.com/mcops/masterclaw/internal/metrics"
	"github.com/mcops/masterclaw/internal/primitives"
	"github.com/mcops/masterclaw/internal/ratelimit"
)

// OutputMode is CommandContext's rendering target.
type OutputMode string

const (
	OutputHuman OutputMode = "human"
	OutputJSON  OutputMode = "json"
)

// CommandContext is created when the dispatcher resolves a subcommand
// and destroyed when the handler returns (spec.md section 3).
type CommandContext struct {
	CorrelationID string
	UserIdentity  string
	StartedAt     time.Time
	CommandPath   []string
	Flags         map[string]any
	OutputMode    OutputMode
	DebugEnabled  bool
	Quiet         bool
}

// Result is a handler's successful outcome.
type Result struct {
	Message string
	Data    map[string]any
}

// Handler is invoked by Dispatch after admission checks pass. It returns
// a Result on success or an *errkind.Error (any error is acceptable; the
// dispatcher classifies it via errkind.KindOf) on failure.
type Handler func(ctx context.Context, cc *CommandContext) (*Result, error)

// Dispatcher wires the rate limiter and audit logger into every
// invocation. A nil Limiter or Audit disables that concern (used by
// tests and by commands that run before state directories exist).
type Dispatcher struct {
	Limiter *ratelimit.Limiter
	Audit   *audit.Logger
	Metrics *metrics.Registry
	Out     *os.File
	Err     *os.File
}

// New constructs a Dispatcher writing to os.Stdout/os.Stderr. metricsReg
// may be nil, in which case metric recording is a no-op.
func New(limiter *ratelimit.Limiter, auditLogger *audit.Logger, metricsReg *metrics.Registry) *Dispatcher {
	return &Dispatcher{Limiter: limiter, Audit: auditLogger, Metrics: metricsReg, Out: os.Stdout, Err: os.Stderr}
}

// ResolveCorrelationID implements spec.md's "env -> header -> generate"
// resolution order.
func ResolveCorrelationID(headerValue string) string {
	if v := os.Getenv(constants.EnvCorrelationID); v != "" {
		if err := primitives.ValidateCorrelationID(v); err == nil {
			return v
		}
	}
	if headerValue != "" {
		if err := primitives.ValidateCorrelationID(headerValue); err == nil {
			return headerValue
		}
	}
	return logging.NewCorrelationID()
}

// ResolveUserIdentity returns a stable, non-reversible identity derived
// from the OS user and hostname (spec.md section 3: "stable hash of OS
// user + host"). It never errors: unresolvable components degrade to
// the literal string "unknown" rather than failing the command.
func ResolveUserIdentity() string {
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	if user == "" {
		user = "unknown"
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	sum := sha256.Sum256([]byte(user + "@" + host))
	return hex.EncodeToString(sum[:])[:16]
}

// resolveOutputMode implements MC_JSON_OUTPUT and an explicit --json flag.
func resolveOutputMode(jsonFlag bool) OutputMode {
	if jsonFlag || os.Getenv(constants.EnvJSONOutput) == "1" {
		return OutputJSON
	}
	return OutputHuman
}

// Dispatch runs the full pipeline described in spec.md section 4.9:
// resolve correlation ID, build CommandContext, rate-limit admission,
// invoke handler, render outcome, and return the process exit code.
// Callers are responsible for calling logging.Flush() on every exit
// path; Dispatch itself never calls os.Exit.
func (d *Dispatcher) Dispatch(ctx context.Context, commandPath []string, flags map[string]any, headerCorrelationID string, jsonFlag, debugFlag, quietFlag bool, handler Handler) errkind.ExitCode {
	cc := &CommandContext{
		CorrelationID: ResolveCorrelationID(headerCorrelationID),
		UserIdentity:  ResolveUserIdentity(),
		StartedAt:     time.Now(),
		CommandPath:   commandPath,
		Flags:         flags,
		OutputMode:    resolveOutputMode(jsonFlag),
		DebugEnabled:  debugFlag || os.Getenv(constants.EnvDebug) == "1",
		Quiet:         quietFlag,
	}

	path := joinCommandPath(commandPath)
	category := ratelimit.CategoryFromCommandPath(path)
	if d.Limiter != nil {
		if err := d.Limiter.Admit(cc.CorrelationID, cc.UserIdentity, category, time.Now().UnixMilli()); err != nil {
			d.Limiter.DenyAudit(cc.CorrelationID, cc.UserIdentity, path)
			d.Metrics.RecordRateLimitDenial(category)
			return d.record(cc, path, d.renderError(cc, err))
		}
	}

	result, err := handler(ctx, cc)
	if err != nil {
		return d.record(cc, path, d.renderError(cc, err))
	}
	d.renderSuccess(cc, result)
	return d.record(cc, path, errkind.ExitOK)
}

// record reports a terminal exit code's status and the command's total
// latency to the metrics registry, then returns code unchanged so callers
// can return directly.
func (d *Dispatcher) record(cc *CommandContext, path string, code errkind.ExitCode) errkind.ExitCode {
	status := "ok"
	if code != errkind.ExitOK {
		status = "error"
	}
	d.Metrics.RecordCommand(path, status, time.Since(cc.StartedAt).Seconds())
	return code
}

func joinCommandPath(commandPath []string) string {
	out := ""
	for i, tok := range commandPath {
		if i > 0 {
			out += " "
		}
		out += tok
	}
	return out
}

// errorOutput is the JSON error shape from spec.md section 4.9.
type errorOutput struct {
	Timestamp     string         `json:"ts"`
	Category      string         `json:"category"`
	ExitCode      int            `json:"exitCode"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlationID"`
	Details       map[string]any `json:"details,omitempty"`
}

func (d *Dispatcher) renderError(cc *CommandContext, err error) errkind.ExitCode {
	kind := errkind.KindOf(err)
	code := errkind.ExitCodeFor(kind)

	if cc.OutputMode == OutputJSON {
		out := errorOutput{
			Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
			Category:      string(kind),
			ExitCode:      int(code),
			Message:       err.Error(),
			CorrelationID: cc.CorrelationID,
			Details:       primitives.MaskSensitive(map[string]any{"rule": errkind.RuleOf(err)}).(map[string]any),
		}
		enc, marshalErr := json.Marshal(out)
		if marshalErr == nil {
			fmt.Fprintln(d.errOut(), string(enc))
		}
	} else {
		fmt.Fprintln(d.errOut(), HumanMessage(kind, err))
	}

	logging.WithCorrelationID(cc.CorrelationID).WithField("exitCode", code).Error(err.Error())
	return code
}

func (d *Dispatcher) renderSuccess(cc *CommandContext, result *Result) {
	if result == nil {
		result = &Result{}
	}
	if cc.OutputMode == OutputJSON {
		enc, err := json.Marshal(map[string]any{
			"ts":            time.Now().UTC().Format(time.RFC3339Nano),
			"correlationID": cc.CorrelationID,
			"message":       result.Message,
			"data":          result.Data,
		})
		if err == nil {
			fmt.Fprintln(d.out(), string(enc))
		}
		return
	}
	if result.Message != "" && !cc.Quiet {
		fmt.Fprintln(d.out(), result.Message)
	}
}

func (d *Dispatcher) out() *os.File {
	if d.Out != nil {
		return d.Out
	}
	return os.Stdout
}

func (d *Dispatcher) errOut() *os.File {
	if d.Err != nil {
		return d.Err
	}
	return os.Stderr
}

// HumanMessage renders spec.md section 7's default human-readable
// message for a Kind, falling back to the raw error text for kinds with
// no canned message.
func HumanMessage(kind errkind.Kind, err error) string {
	switch kind {
	case errkind.CircuitOpen:
		return "Service is temporarily unavailable. Retry shortly."
	case errkind.SSRF:
		return "Request blocked: destination not permitted."
	case errkind.Resource:
		return "Command exceeded resource limits (memory/process count). See hint."
	case errkind.RateLimited:
		return "Too many requests; try again shortly."
	case errkind.Integrity:
		return "On-disk state failed integrity check; reset required."
	default:
		return err.Error()
	}
}

// InstallExitHandling arms SIGINT/SIGTERM handling so logging.Flush is
// always called before the process exits (spec.md section 4.3:
// "mandatory flush on process exit for SIGINT, SIGTERM, unhandled
// rejection, and uncaught exception"). It returns a cleanup func callers
// defer immediately: `defer dispatch.InstallExitHandling()()`.
func InstallExitHandling() func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigCh:
			logging.Flush()
			os.Exit(int(errkind.ExitCancelled))
		case <-done:
		}
	}()

	return func() {
		close(done)
		signal.Stop(sigCh)
		if r := recover(); r != nil {
			logging.Flush()
			panic(r)
		}
		logging.Flush()
	}
}
