package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcops/masterclaw/internal/audit"
	"github.com/mcops/masterclaw/internal/backup"
	"github.com/mcops/masterclaw/internal/dispatch"
)

func newBackupCmd(app *App) *cobra.Command {
	create := &cobra.Command{
		Use:   "create",
		Short: "Snapshot config, policy, rate-limit, circuit and event state into a new backup archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"backup", "create"}, nil, backupCreateHandler(app))
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List backup archives, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"backup", "list"}, nil, backupListHandler(app))
		},
	}

	root := &cobra.Command{
		Use:   "backup",
		Short: "Create and list state backups",
	}
	root.AddCommand(create, list)
	return root
}

func newRestoreCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <backup-name>",
		Short: "Restore config, policy, rate-limit, circuit and event state from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !forceOrConfirm(cmd, fmt.Sprintf("Restore state from %q? This overwrites the current config, policy, rate-limit, circuit and event files.", name)) {
				return nil
			}
			return app.dispatch(cmd, []string{"restore"}, map[string]any{"name": name}, restoreHandler(app, name))
		},
	}
	return cmd
}

func backupCreateHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		manifest, err := backup.Create()
		if err != nil {
			return nil, err
		}
		if app.Audit != nil {
			_ = app.Audit.Append(cc.CorrelationID, cc.UserIdentity, audit.CategoryBackupOp, manifest.Name, map[string]any{
				"files":     manifest.Files,
				"sizeBytes": manifest.SizeBytes,
			})
		}
		return &dispatch.Result{
			Message: fmt.Sprintf("created %s (%s, %d file(s))", manifest.Name, manifest.HumanSize(), len(manifest.Files)),
			Data: map[string]any{
				"name":      manifest.Name,
				"sizeBytes": manifest.SizeBytes,
				"files":     manifest.Files,
			},
		}, nil
	}
}

func backupListHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		manifests, err := backup.List()
		if err != nil {
			return nil, err
		}
		entries := make([]map[string]any, 0, len(manifests))
		for _, m := range manifests {
			entries = append(entries, map[string]any{
				"name":      m.Name,
				"createdAt": m.CreatedAt,
				"sizeBytes": m.SizeBytes,
				"size":      m.HumanSize(),
			})
		}
		return &dispatch.Result{
			Message: fmt.Sprintf("%d backup(s)", len(manifests)),
			Data:    map[string]any{"backups": entries},
		}, nil
	}
}

func restoreHandler(app *App, name string) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		restored, err := backup.Restore(name)
		if app.Audit != nil {
			_ = app.Audit.Append(cc.CorrelationID, cc.UserIdentity, audit.CategoryRestoreOp, name, map[string]any{
				"restoredFiles": restored,
				"failed":        err != nil,
			})
		}
		if err != nil {
			return nil, err
		}
		return &dispatch.Result{
			Message: fmt.Sprintf("restored %d file(s) from %s", len(restored), name),
			Data:    map[string]any{"restoredFiles": restored},
		}, nil
	}
}
