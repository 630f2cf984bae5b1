// Package logging provides the structured JSON logger shared by every
// command and internal package (spec.md section 4.3). All log output
// goes to stderr so that stdout stays reserved for a command's own
// JSON or human-readable result.
package logging

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mcops/masterclaw/internal/primitives"
)

var (
	mu      sync.Mutex
	base    = logrus.New()
	writer  *bufio.Writer
	current *logrus.Entry
)

func init() {
	writer = bufio.NewWriter(os.Stderr)
	base.SetOutput(writer)
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetLevel(logrus.InfoLevel)
	current = base.WithFields(logrus.Fields{})
}

// Configure sets the base log level and output format. jsonOutput
// selects logrus's JSONFormatter; otherwise a compact text formatter is
// used (intended for an operator's interactive terminal, not for a
// machine consumer piping mc's stderr).
func Configure(jsonOutput bool, debug bool) {
	mu.Lock()
	defer mu.Unlock()
	if jsonOutput {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if debug {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
}

// SetOutput redirects log output; used by tests to capture log lines.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	writer = bufio.NewWriter(w)
	base.SetOutput(writer)
}

// NewCorrelationID generates a fresh top-level correlation ID (spec.md
// section 4.3 / GLOSSARY: "CorrelationID").
func NewCorrelationID() string {
	return uuid.NewString()
}

// ChildCorrelationID derives a child ID for a sub-operation spawned
// under parent, following the "parent:suffix" grammar so a child's
// lineage is recoverable from the ID alone.
func ChildCorrelationID(parent, suffix string) string {
	return parent + ":" + suffix
}

// WithCorrelationID returns a logger entry annotated with correlationID,
// propagated into every field written through it.
func WithCorrelationID(correlationID string) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()
	return base.WithField("correlation_id", correlationID)
}

// For returns a logger entry scoped to a component name, the shape most
// internal packages use directly.
func For(component string) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()
	return base.WithField("component", component)
}

// SecurityEvent logs a structured warning for a security-relevant
// condition that must never crash the caller: a corrupt state file, a
// rejected path, a stripped dangerous key, a blocked subprocess
// argument. fields is masked through primitives.MaskSensitive before it
// reaches the formatter, so a field named "token" or "password" never
// reaches a log file in the clear (spec.md section 4.3, section 8
// property 3).
func SecurityEvent(component, msg string, fields map[string]any) {
	masked, _ := primitives.MaskSensitive(fields).(map[string]any)
	entry := For(component).WithField("event_type", "security")
	logrusFields := make(logrus.Fields, len(masked))
	for k, v := range masked {
		logrusFields[k] = v
	}
	entry.WithFields(logrusFields).Warn(msg)
}

// Flush drains any buffered log output. It must be called on every exit
// path — normal return, os.Exit, signal, and recovered panic — or the
// last few log lines of a short-lived command can be lost (spec.md
// section 4.9: "mandatory flush on exit").
func Flush() {
	mu.Lock()
	defer mu.Unlock()
	if writer != nil {
		writer.Flush()
	}
}
