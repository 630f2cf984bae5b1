// Package store implements the persistent state substrate (spec.md
// section 4.2): atomic, owner-only JSON state files used by rate
// limiting, circuit breakers, audit, configuration and events. Every
// reader either sees the prior complete file or the new complete file,
// never a partial write.
package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/errkind"
	"github.com/mcops/masterclaw/internal/logging"
	"github.com/mcops/masterclaw/internal/primitives"
)

// MaxFileBytes caps how much of a state file is read into memory
// (spec.md section 4.2: "byte cap of 10 MiB").
const MaxFileBytes = 10 * 1024 * 1024

// MaxDepth caps the nesting depth accepted while decoding a state file
// (spec.md section 4.2: "depth cap of 64").
const MaxDepth = 64

// Validator inspects a freshly decoded value and returns an error if it
// fails structural validation. Returning a non-nil error causes LoadState
// to fall back to the zero value and emit a security-event log rather
// than propagate a parse failure into the dispatcher.
type Validator func(raw map[string]any) error

// Dir ensures the state directory exists with owner-only access and
// returns its path.
func Dir() (string, error) {
	dir := os.Getenv(constants.EnvStateDir)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errkind.Wrap(errkind.Generic, "failed to resolve home directory", err)
		}
		dir = filepath.Join(home, constants.DefaultStateDirName)
	}
	if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
		return "", errkind.Wrap(errkind.Generic, "failed to create state directory", err)
	}
	if err := os.Chmod(dir, constants.DirPermissions); err != nil {
		return "", errkind.Wrap(errkind.Generic, "failed to set state directory permissions", err)
	}
	return dir, nil
}

// Path joins the state directory with a file name (one of the
// constants.*FileName values).
func Path(name string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// LoadState reads path, decodes it as JSON into a map[string]any with a
// depth and byte cap, strips dangerous keys, runs validator over the
// result, and returns it. Any failure (missing file, oversized file,
// invalid JSON, failed validation) returns defaultValue; every failure
// other than a missing file also logs a single security event — LoadState never returns an error to the
// caller, because a corrupt state file must never crash the dispatcher
// (spec.md section 4.2).
func LoadState(path string, validator Validator, defaultValue map[string]any) map[string]any {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.SecurityEvent("store", "failed to open state file, using default", map[string]any{"path": path, "error": err.Error()})
		}
		return cloneMap(defaultValue)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		logging.SecurityEvent("store", "failed to stat state file, using default", map[string]any{"path": path})
		return cloneMap(defaultValue)
	}
	if info.Size() > MaxFileBytes {
		logging.SecurityEvent("store", "state file exceeds size cap, using default", map[string]any{"path": path, "size": info.Size()})
		return cloneMap(defaultValue)
	}

	limited := io.LimitReader(f, MaxFileBytes+1)
	dec := json.NewDecoder(limited)
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		logging.SecurityEvent("store", "state file contains invalid JSON, using default", map[string]any{"path": path, "error": err.Error()})
		return cloneMap(defaultValue)
	}

	if depthOf(raw, 0) > MaxDepth {
		logging.SecurityEvent("store", "state file exceeds nesting depth cap, using default", map[string]any{"path": path})
		return cloneMap(defaultValue)
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		logging.SecurityEvent("store", "state file root is not an object, using default", map[string]any{"path": path})
		return cloneMap(defaultValue)
	}

	obj = stripDangerousDeep(obj)

	if validator != nil {
		if err := validator(obj); err != nil {
			logging.SecurityEvent("store", "state file failed validation, using default", map[string]any{"path": path, "error": err.Error()})
			return cloneMap(defaultValue)
		}
	}

	return obj
}

// SaveState writes value to path atomically: it writes to a temp file in
// the same directory, fsyncs, renames over the destination, then
// verifies the final permission is owner-only, emitting a security event
// if a race (e.g. a hostile umask) left it otherwise (spec.md section
// 4.2).
func SaveState(path string, value map[string]any) error {
	value = stripDangerousDeep(value)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errkind.Wrap(errkind.Generic, "failed to create temp file for atomic write", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(constants.FilePermissions); err != nil {
		tmp.Close()
		return errkind.Wrap(errkind.Generic, "failed to set temp file permissions", err)
	}

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		tmp.Close()
		return errkind.Wrap(errkind.Generic, "failed to encode state", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errkind.Wrap(errkind.Generic, "failed to fsync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return errkind.Wrap(errkind.Generic, "failed to close temp file", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return errkind.Wrap(errkind.Generic, "failed to rename temp file into place", err)
	}
	cleanup = false

	info, err := os.Stat(path)
	if err != nil {
		return errkind.Wrap(errkind.Generic, "failed to stat written state file", err)
	}
	if info.Mode().Perm() != constants.FilePermissions {
		logging.SecurityEvent("store", "state file permission drifted from owner-only after write", map[string]any{
			"path": path,
			"mode": fmt.Sprintf("%#o", info.Mode().Perm()),
		})
		if err := os.Chmod(path, constants.FilePermissions); err != nil {
			return errkind.Wrap(errkind.Generic, "failed to restore state file permissions", err)
		}
	}

	return nil
}

// Transform is a pure function applied by AtomicUpdate: it receives the
// current state (already validated and dangerous-key-stripped) and
// returns the next state. A Transform must not have side effects other
// than its return value — atomicUpdate is the only thing allowed to
// write.
type Transform func(current map[string]any) (map[string]any, error)

// AtomicUpdate loads path, applies transform, and saves the result, all
// under an advisory per-file lock (see AcquireLock) so concurrent
// invocations serialize rather than race (spec.md section 4.2 / section
// 5). A failed transform leaves the prior state on disk untouched.
func AtomicUpdate(path string, validator Validator, defaultValue map[string]any, transform Transform) (map[string]any, error) {
	lock, err := AcquireLock(path)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	current := LoadState(path, validator, defaultValue)
	next, err := transform(current)
	if err != nil {
		return nil, err
	}
	if err := SaveState(path, next); err != nil {
		return nil, err
	}
	return next, nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stripDangerousDeep(m map[string]any) map[string]any {
	return primitives.StripDangerousKeys(m)
}

func depthOf(v any, current int) int {
	if current > MaxDepth*2 {
		// Already far past the cap; stop recursing to bound cost on a
		// maliciously deep document.
		return current
	}
	switch vv := v.(type) {
	case map[string]any:
		max := current
		for _, child := range vv {
			if d := depthOf(child, current+1); d > max {
				max = d
			}
		}
		return max
	case []any:
		max := current
		for _, child := range vv {
			if d := depthOf(child, current+1); d > max {
				max = d
			}
		}
		return max
	default:
		return current
	}
}
