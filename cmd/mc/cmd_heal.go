package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcops/masterclaw/internal/audit"
	"github.com/mcops/masterclaw/internal/dispatch"
	"github.com/mcops/masterclaw/internal/heal"
)

func newScanCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a read-only scan for docker, service, disk, memory, config and circuit issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"scan"}, nil, scanHandler(app))
		},
	}
	return cmd
}

func newHealCmd(app *App) *cobra.Command {
	plan := &cobra.Command{
		Use:   "plan",
		Short: "Show the dry-run action plan a scan would produce",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"heal", "plan"}, nil, healPlanHandler(app))
		},
	}
	apply := &cobra.Command{
		Use:   "apply",
		Short: "Apply the fixable subset of the current scan (restarts services, fixes permissions, resets circuits, prunes unprotected docker artifacts)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !forceOrConfirm(cmd, "Apply fixes for every fixable issue found by a scan?") {
				return nil
			}
			return app.dispatch(cmd, []string{"heal", "apply"}, nil, healApplyHandler(app))
		},
	}

	root := &cobra.Command{
		Use:   "heal",
		Short: "Scan, plan and apply self-heal actions",
	}
	root.AddCommand(plan, apply)
	return root
}

func newPruneCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove unused docker images, containers, volumes and networks not in the protected prefix set",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !forceOrConfirm(cmd, "Prune all unprotected, unused docker artifacts?") {
				return nil
			}
			return app.dispatch(cmd, []string{"prune"}, nil, pruneHandler(app))
		},
	}
	return cmd
}

func scanHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		issues := app.HealScanner.Scan(ctx)
		return &dispatch.Result{
			Message: fmt.Sprintf("%d issue(s) found", len(issues)),
			Data:    map[string]any{"issues": issueSummaries(issues)},
		}, nil
	}
}

func healPlanHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		issues := app.HealScanner.Scan(ctx)
		plan := heal.BuildPlan(issues)
		return &dispatch.Result{
			Message: fmt.Sprintf("%d fixable, %d manual", len(plan.Fixable), len(plan.Manual)),
			Data: map[string]any{
				"fixable": issueSummaries(plan.Fixable),
				"manual":  issueSummaries(plan.Manual),
			},
		}, nil
	}
}

func healApplyHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		issues := app.HealScanner.Scan(ctx)
		plan := heal.BuildPlan(issues)
		results, err := app.HealApplier.Apply(ctx, plan)
		if err != nil {
			return nil, err
		}
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		if app.Audit != nil {
			_ = app.Audit.Append(cc.CorrelationID, cc.UserIdentity, audit.CategoryCommandExec, "heal-apply", map[string]any{
				"actionCount": len(results),
				"failed":      failed,
			})
		}
		return &dispatch.Result{
			Message: fmt.Sprintf("applied %d action(s), %d failed", len(results), failed),
			Data:    map[string]any{"results": actionResultSummaries(results)},
		}, nil
	}
}

func pruneHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		issues := app.HealScanner.Scan(ctx)
		var artifacts []heal.Issue
		for _, issue := range issues {
			if issue.Category == heal.CategoryDockerArtifact && issue.Fixable {
				artifacts = append(artifacts, issue)
			}
		}
		plan := heal.Plan{Fixable: artifacts}
		results, err := app.HealApplier.Apply(ctx, plan)
		if err != nil {
			return nil, err
		}
		if app.Audit != nil {
			_ = app.Audit.Append(cc.CorrelationID, cc.UserIdentity, audit.CategoryCommandExec, "prune", map[string]any{"actionCount": len(results)})
		}
		return &dispatch.Result{
			Message: fmt.Sprintf("pruned %d artifact(s)", len(results)),
			Data:    map[string]any{"results": actionResultSummaries(results)},
		}, nil
	}
}

func issueSummaries(issues []heal.Issue) []map[string]any {
	out := make([]map[string]any, 0, len(issues))
	for _, issue := range issues {
		out = append(out, map[string]any{
			"category":  string(issue.Category),
			"severity":  string(issue.Severity),
			"subject":   issue.Subject,
			"detail":    issue.Detail,
			"fixable":   issue.Fixable,
			"protected": issue.Protected,
		})
	}
	return out
}

func actionResultSummaries(results []heal.ActionResult) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		entry := map[string]any{
			"category": string(r.Issue.Category),
			"subject":  r.Issue.Subject,
			"ok":       r.Err == nil,
		}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
		}
		out = append(out, entry)
	}
	return out
}
