package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcops/masterclaw/internal/dispatch"
	"github.com/mcops/masterclaw/internal/errkind"
)

func newAuditCmd(app *App) *cobra.Command {
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Walk the audit log and verify its HMAC signature chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"audit", "verify"}, nil, auditVerifyHandler(app))
		},
	}

	root := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and verify the audit log",
	}
	root.AddCommand(verify)
	return root
}

func auditVerifyHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		if app.Audit == nil {
			return nil, errkind.New(errkind.Generic, "audit logger is not initialized").WithRule("AUDIT_UNAVAILABLE")
		}
		result, err := app.Audit.Verify()
		if err != nil {
			return nil, err
		}
		if !result.Valid {
			return nil, errkind.Newf(errkind.Integrity, "audit log signature mismatch at record %d: %s", result.FailedIndex, result.FailedReason).WithRule("AUDIT_CHAIN_BROKEN")
		}
		return &dispatch.Result{
			Message: fmt.Sprintf("audit log valid, %d record(s)", result.RecordCount),
			Data:    map[string]any{"valid": result.Valid, "recordCount": result.RecordCount},
		}, nil
	}
}
