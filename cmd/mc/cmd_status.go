package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcops/masterclaw/internal/dispatch"
	"github.com/mcops/masterclaw/internal/errkind"
	"github.com/mcops/masterclaw/internal/heal"
)

func newStatusCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of the AI-service ecosystem and the core's own state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"status"}, nil, statusHandler(app))
		},
	}
	return cmd
}

func newHealthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the gateway's /health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"health"}, nil, healthHandler(app))
		},
	}
	return cmd
}

func statusHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		issues := app.HealScanner.Scan(ctx)
		plan := heal.BuildPlan(issues)

		data := map[string]any{
			"issueCount":   len(issues),
			"fixableCount": len(plan.Fixable),
			"manualCount":  len(plan.Manual),
			"issues":       issueSummaries(issues),
		}

		msg := fmt.Sprintf("%d issue(s) found (%d fixable, %d require manual attention)", len(issues), len(plan.Fixable), len(plan.Manual))
		return &dispatch.Result{Message: msg, Data: data}, nil
	}
}

func healthHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		if app.Facade == nil {
			return nil, errkind.New(errkind.Validation, "gatewayBaseURL is not configured; run 'mc config set gatewayBaseURL <url>'").WithRule("GATEWAY_NOT_CONFIGURED")
		}
		health, err := app.Facade.Health(ctx, cc.CorrelationID)
		if err != nil {
			return nil, err
		}
		return &dispatch.Result{
			Message: fmt.Sprintf("gateway status: %s", health.Status),
			Data: map[string]any{
				"status":   health.Status,
				"services": health.Services,
			},
		}, nil
	}
}
