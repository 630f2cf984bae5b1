// Package config loads and hot-reloads the operator policy file
// (policy.yaml), loads/saves the runtime config state (config.json)
// through internal/store, and validates both with struct tags.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/errkind"
	"github.com/mcops/masterclaw/internal/store"
)

// RateLimitOverride is one per-category (max, windowMs) entry parsed and
// validated from policy.yaml. ratelimit.PolicyFor does not read these
// entries: admission always uses the built-in category table.
type RateLimitOverride struct {
	Category string `yaml:"category" validate:"required"`
	Max      int    `yaml:"max" validate:"required,gt=0"`
	WindowMs int64  `yaml:"windowMs" validate:"required,gt=0"`
}

// Policy is the operator-editable policy.yaml shape.
type Policy struct {
	ProtectedPrefixes []string             `yaml:"protectedPrefixes" validate:"dive,min=1"`
	RateLimits        []RateLimitOverride  `yaml:"rateLimits" validate:"dive"`
	GatewayBaseURL    string               `yaml:"gatewayBaseURL" validate:"omitempty,url"`
}

var validate = validator.New()

// defaultProtectedPrefixes ships in code and is never replaced by an
// operator's policy.yaml, only unioned with it (Open Question 3 in
// DESIGN.md).
var defaultProtectedPrefixes = []string{"mc-data-", "mc-backup-"}

// Loader reads and validates policy.yaml, tracking its content hash so
// Watcher can detect real changes and ignore spurious fsnotify events
// (same technique as Loader.HasChanged in the grounding source).
type Loader struct {
	path     string
	lastHash string
}

// NewLoader resolves policy.yaml under $MC_STATE_DIR.
func NewLoader() (*Loader, error) {
	path, err := store.Path(constants.PolicyFileName)
	if err != nil {
		return nil, err
	}
	return &Loader{path: path}, nil
}

// Load reads policy.yaml, returning an empty-but-valid Policy if the
// file does not exist (an operator who never wrote one gets pure
// defaults, not an error).
func (l *Loader) Load() (*Policy, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			l.lastHash = ""
			return &Policy{}, nil
		}
		return nil, errkind.Wrap(errkind.Integrity, "failed to read policy.yaml", err).WithRule("POLICY_READ_FAILED")
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errkind.Wrap(errkind.Validation, "failed to parse policy.yaml", err).WithRule("POLICY_PARSE_FAILED")
	}
	if err := validate.Struct(p); err != nil {
		return nil, validationError(err)
	}

	l.lastHash = hashOf(data)
	return &p, nil
}

// HasChanged reports whether policy.yaml's content differs from the
// last Load, without re-parsing it.
func (l *Loader) HasChanged() (bool, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return l.lastHash != "", nil
		}
		return false, err
	}
	current := hashOf(data)
	return current != l.lastHash, nil
}

// Path returns the resolved policy.yaml path, for Watcher.
func (l *Loader) Path() string {
	return l.path
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ProtectedPrefixes returns the default protected-prefix set unioned
// with p's operator-supplied list (never subtraction — an empty or
// absent policy.yaml can never make a protected resource prunable).
func ProtectedPrefixes(p *Policy) []string {
	seen := make(map[string]bool, len(defaultProtectedPrefixes)+len(p.ProtectedPrefixes))
	out := make([]string, 0, len(defaultProtectedPrefixes)+len(p.ProtectedPrefixes))
	for _, prefix := range defaultProtectedPrefixes {
		if !seen[prefix] {
			seen[prefix] = true
			out = append(out, prefix)
		}
	}
	for _, prefix := range p.ProtectedPrefixes {
		if !seen[prefix] {
			seen[prefix] = true
			out = append(out, prefix)
		}
	}
	return out
}

// validationError wraps validator.ValidationErrors with a masked,
// operator-safe message (no raw field values, only field names and tags).
func validationError(err error) error {
	if verrs, ok := err.(validator.ValidationErrors); ok {
		msg := ""
		for i, fe := range verrs {
			if i > 0 {
				msg += "; "
			}
			msg += fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
		}
		return errkind.New(errkind.Validation, msg).WithRule("POLICY_INVALID")
	}
	return errkind.Wrap(errkind.Validation, "policy validation failed", err).WithRule("POLICY_INVALID")
}
