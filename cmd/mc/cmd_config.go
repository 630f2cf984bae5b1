package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mcops/masterclaw/internal/audit"
	"github.com/mcops/masterclaw/internal/config"
	"github.com/mcops/masterclaw/internal/dispatch"
	"github.com/mcops/masterclaw/internal/errkind"
)

func newConfigCmd(app *App) *cobra.Command {
	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a single resolved config value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"config", "get"}, map[string]any{"key": args[0]}, configGetHandler(app, args[0]))
		},
	}
	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a runtime config value (gatewayBaseURL, debugDefault)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"config", "set"}, map[string]any{"key": args[0], "value": args[1]}, configSetHandler(app, args[0], args[1]))
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "Print the full runtime config state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"config", "list"}, nil, configListHandler(app))
		},
	}

	root := &cobra.Command{
		Use:   "config",
		Short: "Read or update the runtime config state (config.json)",
	}
	root.AddCommand(get, set, list)
	return root
}

func configGetHandler(app *App, key string) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		rs, err := config.LoadRuntimeState()
		if err != nil {
			return nil, err
		}
		value, ok := runtimeStateValue(rs, key)
		if !ok {
			return nil, errkind.Newf(errkind.Absent, "unknown config key %q", key).WithRule("CONFIG_KEY_UNKNOWN")
		}
		return &dispatch.Result{Message: toDisplayString(value), Data: map[string]any{key: value}}, nil
	}
}

func configSetHandler(app *App, key, value string) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		rs, err := config.LoadRuntimeState()
		if err != nil {
			return nil, err
		}
		if err := setRuntimeStateValue(rs, key, value); err != nil {
			return nil, err
		}
		if err := config.SaveRuntimeState(rs); err != nil {
			return nil, err
		}
		if app.Audit != nil {
			_ = app.Audit.Append(cc.CorrelationID, cc.UserIdentity, audit.CategoryConfigChange, key, map[string]any{"key": key})
		}
		return &dispatch.Result{Message: "updated " + key}, nil
	}
}

func configListHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		rs, err := config.LoadRuntimeState()
		if err != nil {
			return nil, err
		}
		return &dispatch.Result{
			Data: map[string]any{
				"gatewayBaseURL": rs.GatewayBaseURL,
				"debugDefault":   rs.DebugDefault,
			},
		}, nil
	}
}

func runtimeStateValue(rs *config.RuntimeState, key string) (any, bool) {
	switch key {
	case "gatewayBaseURL":
		return rs.GatewayBaseURL, true
	case "debugDefault":
		return rs.DebugDefault, true
	default:
		return nil, false
	}
}

func setRuntimeStateValue(rs *config.RuntimeState, key, value string) error {
	switch key {
	case "gatewayBaseURL":
		rs.GatewayBaseURL = value
		return nil
	case "debugDefault":
		rs.DebugDefault = value == "true" || value == "1"
		return nil
	default:
		return errkind.Newf(errkind.Validation, "unknown config key %q", key).WithRule("CONFIG_KEY_UNKNOWN")
	}
}

func toDisplayString(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case bool:
		if vv {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
