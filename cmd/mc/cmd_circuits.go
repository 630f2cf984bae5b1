package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/dispatch"
	"github.com/mcops/masterclaw/internal/metrics"
	"github.com/mcops/masterclaw/internal/store"
)

func newCircuitsCmd(app *App) *cobra.Command {
	list := &cobra.Command{
		Use:   "list",
		Short: "List circuit breaker states by target",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"circuits", "list"}, nil, circuitsListHandler(app))
		},
	}
	reset := &cobra.Command{
		Use:   "reset <target>",
		Short: "Force a circuit breaker back to closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"circuits", "reset"}, map[string]any{"target": args[0]}, circuitsResetHandler(app, args[0]))
		},
	}

	root := &cobra.Command{
		Use:   "circuits",
		Short: "Inspect and reset circuit breaker state",
	}
	root.AddCommand(list, reset)
	return root
}

func circuitsListHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		path, err := store.Path(constants.CircuitsFileName)
		if err != nil {
			return nil, err
		}
		raw := store.LoadState(path, nil, map[string]any{})
		targets, _ := raw["targets"].(map[string]any)

		entries := make([]map[string]any, 0, len(targets))
		for target, v := range targets {
			cs, ok := v.(map[string]any)
			if !ok {
				continue
			}
			entry := map[string]any{"target": target}
			if state, ok := cs["state"].(string); ok {
				entry["state"] = state
				if app.Metrics != nil {
					app.Metrics.SetCircuitState(target, circuitStateValue(state))
				}
			}
			if failures, ok := cs["failureCount"]; ok {
				entry["failureCount"] = failures
			}
			entries = append(entries, entry)
		}
		return &dispatch.Result{
			Message: fmt.Sprintf("%d circuit(s)", len(entries)),
			Data:    map[string]any{"circuits": entries},
		}, nil
	}
}

func circuitsResetHandler(app *App, target string) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		path, err := store.Path(constants.CircuitsFileName)
		if err != nil {
			return nil, err
		}
		_, err = store.AtomicUpdate(path, nil, map[string]any{}, func(current map[string]any) (map[string]any, error) {
			targets, ok := current["targets"].(map[string]any)
			if !ok {
				return current, nil
			}
			delete(targets, target)
			current["targets"] = targets
			return current, nil
		})
		if err != nil {
			return nil, err
		}
		if app.Metrics != nil {
			app.Metrics.SetCircuitState(target, metrics.CircuitClosed)
		}
		return &dispatch.Result{Message: "reset " + target}, nil
	}
}

func circuitStateValue(state string) metrics.CircuitState {
	switch state {
	case "open":
		return metrics.CircuitOpen
	case "half-open":
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}
