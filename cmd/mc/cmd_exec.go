package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcops/masterclaw/internal/containerexec"
	"github.com/mcops/masterclaw/internal/dispatch"
)

func newExecCmd(app *App) *cobra.Command {
	var shell bool
	var timeoutMillis int64

	cmd := &cobra.Command{
		Use:   "exec <container> -- <command...>",
		Short: "Run a command inside a whitelisted mc- container under the default resource envelope",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			container := args[0]
			command := args[1:]
			flags := map[string]any{"container": container, "command": command, "shell": shell}
			return app.dispatch(cmd, []string{"exec"}, flags, execHandler(app, container, command, shell, timeoutMillis))
		},
	}
	cmd.Flags().BoolVar(&shell, "shell", false, "run command through a shell (still denies chaining/substitution constructs)")
	cmd.Flags().Int64Var(&timeoutMillis, "timeout-ms", 0, "override the default exec timeout in milliseconds")
	return cmd
}

func execHandler(app *App, container string, command []string, shell bool, timeoutMillis int64) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		res, err := app.ContainerRunner.Run(ctx, containerexec.Descriptor{
			Container:     container,
			Command:       command,
			Shell:         shell,
			TimeoutMillis: timeoutMillis,
			CorrelationID: cc.CorrelationID,
			UserIdentity:  cc.UserIdentity,
		})
		if err != nil {
			return nil, err
		}

		data := map[string]any{
			"stdout":   res.Stdout,
			"stderr":   res.Stderr,
			"exitCode": res.ExitCode,
		}
		msg := fmt.Sprintf("exit code %d", res.ExitCode)
		if res.ResourceViolation != nil {
			data["resourceViolation"] = map[string]any{
				"kind":        string(res.ResourceViolation.Kind),
				"description": res.ResourceViolation.Description,
				"hint":        res.ResourceViolation.Hint,
			}
			msg = fmt.Sprintf("exit code %d (resource limit hit: %s)", res.ExitCode, res.ResourceViolation.Description)
		}
		return &dispatch.Result{Message: msg, Data: data}, nil
	}
}
