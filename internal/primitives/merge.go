package primitives

import "strings"

// dangerousKeys are the JSON-object keys that, on a prototype-based
// runtime, would let an attacker pollute a shared object prototype. Go
// has no such prototype chain, but the on-disk ConfigTree format is
// shared with the Python "core" service this CLI operates, so the same
// keys are refused here to keep the two state representations
// interchangeable and equally safe (spec.md section 3, section 8
// property 3).
var dangerousKeys = []string{"__proto__", "constructor", "prototype"}

// DangerousKey reports whether k equals, or contains as a substring, one
// of the forbidden keys.
func DangerousKey(k string) bool {
	for _, bad := range dangerousKeys {
		if k == bad || strings.Contains(k, bad) {
			return true
		}
	}
	return false
}

// StripDangerousKeys returns a copy of m with any dangerous key (and its
// subtree) removed, recursively.
func StripDangerousKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if DangerousKey(k) {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = StripDangerousKeys(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// SafeDeepMerge recursively merges source into target, skipping dangerous
// keys entirely and never mutating target. Nested maps are merged key by
// key; any other value type in source overwrites the corresponding value
// in target. SafeDeepMerge(x, SafeDeepMerge(x, y)) == SafeDeepMerge(x, y)
// for any y free of dangerous keys, since merging is idempotent per key.
func SafeDeepMerge(target, source map[string]any) map[string]any {
	out := make(map[string]any, len(target)+len(source))
	for k, v := range target {
		if DangerousKey(k) {
			continue
		}
		out[k] = v
	}
	for k, v := range source {
		if DangerousKey(k) {
			continue
		}
		if nestedSrc, ok := v.(map[string]any); ok {
			if nestedDst, ok := out[k].(map[string]any); ok {
				out[k] = SafeDeepMerge(nestedDst, nestedSrc)
				continue
			}
			out[k] = SafeDeepMerge(map[string]any{}, nestedSrc)
			continue
		}
		out[k] = v
	}
	return out
}
