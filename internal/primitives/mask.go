package primitives

import "regexp"

// sensitiveKeyPattern matches map keys that should have their values
// masked before logging, auditing or hashing (spec.md section 4.1).
var sensitiveKeyPattern = regexp.MustCompile(`(?i)token|password|secret|key|apikey`)

// MaskValue masks a single sensitive string, preserving the first and
// last 4 characters when the string is long enough, otherwise masking it
// entirely.
func MaskValue(s string) string {
	if len(s) <= 8 {
		if s == "" {
			return s
		}
		return "****"
	}
	return s[:4] + "…" + s[len(s)-4:]
}

// IsSensitiveKey reports whether a map key name should trigger masking of
// its value.
func IsSensitiveKey(key string) bool {
	return sensitiveKeyPattern.MatchString(key)
}

// MaskSensitive recursively walks obj (maps, slices and scalars built from
// encoding/json-style decoding, or any map[string]any tree) and replaces
// the value of any key matching sensitiveKeyPattern with a masked form.
// The input is not mutated; a deep copy with masked leaves is returned.
func MaskSensitive(obj any) any {
	return maskValue(obj, false)
}

func maskValue(v any, parentSensitive bool) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			sensitive := IsSensitiveKey(k)
			out[k] = maskValue(v, sensitive)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = maskValue(item, parentSensitive)
		}
		return out
	case string:
		if parentSensitive {
			return MaskValue(val)
		}
		return val
	default:
		return val
	}
}
