package config

import (
	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/store"
)

// RuntimeState is the mutable, process-shared state persisted at
// config.json (distinct from the operator-edited policy.yaml): the
// gateway base URL and the default debug toggle, which survive across
// invocations.
type RuntimeState struct {
	GatewayBaseURL string `json:"gatewayBaseURL"`
	DebugDefault   bool   `json:"debugDefault"`
}

func runtimeValidator(raw map[string]any) error {
	return nil
}

// LoadRuntimeState reads config.json, falling back to an empty state on
// any problem (store.LoadState never errors by design).
func LoadRuntimeState() (*RuntimeState, error) {
	path, err := store.Path(constants.ConfigFileName)
	if err != nil {
		return nil, err
	}
	raw := store.LoadState(path, runtimeValidator, map[string]any{})
	rs := &RuntimeState{}
	if v, ok := raw["gatewayBaseURL"].(string); ok {
		rs.GatewayBaseURL = v
	}
	if v, ok := raw["debugDefault"].(bool); ok {
		rs.DebugDefault = v
	}
	return rs, nil
}

// SaveRuntimeState atomically persists rs to config.json, merging into
// whatever config.json already holds (e.g. the "secrets" tree written
// by `mc secrets`) rather than clobbering it.
func SaveRuntimeState(rs *RuntimeState) error {
	path, err := store.Path(constants.ConfigFileName)
	if err != nil {
		return err
	}
	_, err = store.AtomicUpdate(path, runtimeValidator, map[string]any{}, func(current map[string]any) (map[string]any, error) {
		current["gatewayBaseURL"] = rs.GatewayBaseURL
		current["debugDefault"] = rs.DebugDefault
		return current, nil
	})
	return err
}
