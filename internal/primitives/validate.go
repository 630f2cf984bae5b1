package primitives

import (
	"regexp"
	"strings"

	"github.com/mcops/masterclaw/internal/errkind"
)

// MaxPathBytes is the maximum accepted length for a validated path
// (spec.md section 4.1).
const MaxPathBytes = 4096

// defaultIdentifierPattern is the identifier grammar ValidateIdentifier
// applies when the caller supplies no pattern.
var defaultIdentifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// shellMetacharacters are refused anywhere in a validated path.
const shellMetacharacters = ";|&$`()[]{}<>\\\n"

// traversalPatterns catches literal and encoded path-traversal sequences.
// Percent- and hex-encoded forms are checked because a value that reaches
// validatePath may have arrived via a URL or HTTP header one layer up
// (original_source/masterclaw_core/security.py PATH_TRAVERSAL_PATTERNS).
var traversalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.\.[/\\]`),
	regexp.MustCompile(`[/\\]\.\.`),
	regexp.MustCompile(`(?i)%2e%2e`),
	regexp.MustCompile(`(?i)%2f`),
	regexp.MustCompile(`(?i)%5c`),
	regexp.MustCompile(`(?i)0x2e0x2e`),
}

// PathOptions configures ValidatePath.
type PathOptions struct {
	AllowAbsolute bool
}

// ValidatePath rejects a path that contains traversal sequences (literal
// or encoded), a null byte, any shell metacharacter, exceeds MaxPathBytes,
// or is absolute when AllowAbsolute is false (spec.md section 4.1,
// section 8 property 1).
func ValidatePath(p string, opts PathOptions) error {
	if len(p) == 0 {
		return errkind.New(errkind.Validation, "path is empty").WithRule("EMPTY_PATH")
	}
	if len(p) > MaxPathBytes {
		return errkind.New(errkind.Validation, "path exceeds maximum length").WithRule("PATH_TOO_LONG")
	}
	if strings.ContainsRune(p, 0) {
		return errkind.New(errkind.Validation, "path contains a null byte").WithRule("NULL_BYTE")
	}
	for _, pat := range traversalPatterns {
		if pat.MatchString(p) {
			return errkind.New(errkind.Validation, "path contains a traversal sequence").WithRule("PATH_TRAVERSAL")
		}
	}
	if strings.ContainsAny(p, shellMetacharacters) {
		return errkind.New(errkind.Validation, "path contains a shell metacharacter").WithRule("SHELL_METACHARACTER")
	}
	isAbsolute := strings.HasPrefix(p, "/")
	if isAbsolute && !opts.AllowAbsolute {
		return errkind.New(errkind.Validation, "absolute paths are not permitted here").WithRule("ABSOLUTE_PATH")
	}
	return nil
}

// IdentifierOptions configures ValidateIdentifier.
type IdentifierOptions struct {
	MaxLen  int
	Pattern *regexp.Regexp
}

// ValidateIdentifier rejects a non-conforming identifier: too long, empty,
// or not matching the (default or caller-supplied) pattern (spec.md
// section 4.1). Length defaults to 64 when MaxLen is zero.
func ValidateIdentifier(s string, opts IdentifierOptions) error {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 64
	}
	pattern := opts.Pattern
	if pattern == nil {
		pattern = defaultIdentifierPattern
	}
	if s == "" {
		return errkind.New(errkind.Validation, "identifier is empty").WithRule("EMPTY_IDENTIFIER")
	}
	if len(s) > maxLen {
		return errkind.Newf(errkind.Validation, "identifier exceeds maximum length of %d", maxLen).WithRule("IDENTIFIER_TOO_LONG")
	}
	if !pattern.MatchString(s) {
		return errkind.New(errkind.Validation, "identifier contains invalid characters").WithRule("IDENTIFIER_PATTERN")
	}
	return nil
}

// CorrelationIDPattern is the grammar for spec.md's CorrelationID type:
// an opaque string of 1-64 characters from [A-Za-z0-9_-]. A derived
// "parent:suffix" ID contains ':' and so does not match it.
var CorrelationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateCorrelationID validates a single (non-derived) correlation ID
// segment against CorrelationIDPattern.
func ValidateCorrelationID(id string) error {
	if !CorrelationIDPattern.MatchString(id) {
		return errkind.New(errkind.Validation, "correlation ID has invalid format").WithRule("CORRELATION_ID_PATTERN")
	}
	return nil
}
