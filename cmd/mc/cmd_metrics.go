package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mcops/masterclaw/internal/dispatch"
)

func newMetricsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print a one-shot Prometheus text-exposition snapshot of this invocation's command, rate-limit and circuit metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"metrics"}, nil, metricsHandler(app))
		},
	}
	return cmd
}

func metricsHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		snapshot, err := app.Metrics.Snapshot()
		if err != nil {
			return nil, err
		}
		return &dispatch.Result{Message: snapshot, Data: map[string]any{"snapshot": snapshot}}, nil
	}
}
