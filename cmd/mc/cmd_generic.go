package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcops/masterclaw/internal/dispatch"
	"github.com/mcops/masterclaw/internal/errkind"
)

// newUniformCommands builds the command category spec.md lists as
// "uniform instances of the dispatcher contract": each is a thin handler
// proving the same rate-limit/audit/render pipeline generalizes to any
// command path, backed by internal/facade where a corresponding REST
// accessor exists and a minimal stub result otherwise.
func newUniformCommands(app *App) []*cobra.Command {
	return []*cobra.Command{
		newUniformCmd(app, "deploy", "Trigger a deployment of the AI-service ecosystem", uniformStubHandler("deploy")),
		newUniformCmd(app, "cost", "Show cost/usage insights", facadeInsightsHandler(app)),
		newUniformCmd(app, "slo", "Show the current SLO report", facadeSLOHandler(app)),
		newUniformCmd(app, "session", "List active sessions", facadeSessionsHandler(app)),
		newUniformCmd(app, "memory", "Show gateway cache statistics", facadeCacheStatsHandler(app)),
		newUniformCmd(app, "search", "Search operational records", uniformStubHandler("search")),
		newUniformCmd(app, "workflow", "Run an operator-defined workflow", uniformStubHandler("workflow")),
		newUniformCmd(app, "dashboard", "Print a summary dashboard", uniformStubHandler("dashboard")),
		newUniformCmd(app, "template", "Render an operator template", uniformStubHandler("template")),
		newUniformCmd(app, "troubleshoot", "Run a guided troubleshooting check", uniformStubHandler("troubleshoot")),
	}
}

func newUniformCmd(app *App, use, short string, handler dispatch.Handler) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{use}, nil, handler)
		},
	}
}

// uniformStubHandler backs a command category spec.md names but for
// which the AI-service ecosystem exposes no corresponding REST accessor
// in internal/facade; it still runs the full dispatcher pipeline (rate
// limiting, audit, correlation ID, human/JSON rendering), which is the
// property these commands exist to demonstrate.
func uniformStubHandler(name string) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		return &dispatch.Result{
			Message: fmt.Sprintf("%s acknowledged (correlation %s)", name, cc.CorrelationID),
			Data:    map[string]any{"command": name},
		}, nil
	}
}

func requireFacade(app *App) error {
	if app.Facade == nil {
		return errkind.New(errkind.Validation, "gatewayBaseURL is not configured; run 'mc config set gatewayBaseURL <url>'").WithRule("GATEWAY_NOT_CONFIGURED")
	}
	return nil
}

func facadeInsightsHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		if err := requireFacade(app); err != nil {
			return nil, err
		}
		insights, err := app.Facade.Insights(ctx, cc.CorrelationID)
		if err != nil {
			return nil, err
		}
		return &dispatch.Result{
			Message: fmt.Sprintf("%d insight(s)", len(insights)),
			Data:    map[string]any{"insights": insights},
		}, nil
	}
}

func facadeSLOHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		if err := requireFacade(app); err != nil {
			return nil, err
		}
		report, err := app.Facade.SLO(ctx, cc.CorrelationID)
		if err != nil {
			return nil, err
		}
		return &dispatch.Result{
			Message: fmt.Sprintf("%s: %.2f%% observed (target %.2f%%)", report.Name, report.ObservedPercent, report.TargetPercent),
			Data: map[string]any{
				"name":            report.Name,
				"targetPercent":   report.TargetPercent,
				"observedPercent": report.ObservedPercent,
				"windowMinutes":   report.WindowMinutes,
			},
		}, nil
	}
}

func facadeSessionsHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		if err := requireFacade(app); err != nil {
			return nil, err
		}
		sessions, err := app.Facade.Sessions(ctx, cc.CorrelationID)
		if err != nil {
			return nil, err
		}
		return &dispatch.Result{
			Message: fmt.Sprintf("%d active session(s)", len(sessions)),
			Data:    map[string]any{"sessions": sessions},
		}, nil
	}
}

func facadeCacheStatsHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		if err := requireFacade(app); err != nil {
			return nil, err
		}
		stats, err := app.Facade.CacheStats(ctx, cc.CorrelationID)
		if err != nil {
			return nil, err
		}
		return &dispatch.Result{
			Message: fmt.Sprintf("%d cache entries, %d bytes", stats.Entries, stats.SizeBytes),
			Data:    map[string]any{"entries": stats.Entries, "sizeBytes": stats.SizeBytes},
		}, nil
	}
}
