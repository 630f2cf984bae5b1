package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcops/masterclaw/internal/dispatch"
	"github.com/mcops/masterclaw/internal/errkind"
	"github.com/mcops/masterclaw/internal/subprocess"
)

// logsContainerPrefix mirrors internal/containerexec's whitelist: logs
// may only be read from a well-known mc- service container, never an
// arbitrary name an operator could use to probe the host.
const logsContainerPrefix = "mc-"

func newLogsCmd(app *App) *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:   "logs <container>",
		Short: "Tail the recent log output of a whitelisted mc- service container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"logs"}, map[string]any{"container": args[0]}, logsHandler(args[0], tail))
		},
	}
	cmd.Flags().IntVar(&tail, "tail", 200, "number of trailing log lines to fetch")
	return cmd
}

func logsHandler(container string, tail int) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		if !strings.HasPrefix(container, logsContainerPrefix) {
			return nil, errkind.Newf(errkind.Validation, "container %q is not in the allowed prefix %q", container, logsContainerPrefix).WithRule("CONTAINER_NOT_ALLOWED")
		}
		if tail <= 0 || tail > 10000 {
			return nil, errkind.New(errkind.Validation, "--tail must be between 1 and 10000").WithRule("TAIL_OUT_OF_RANGE")
		}

		res, err := subprocess.Run(ctx, subprocess.Descriptor{
			Program: "docker",
			Args:    []string{"logs", "--tail", strconv.Itoa(tail), container},
			Timeout: 15 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return &dispatch.Result{
			Message: res.Stdout,
			Data:    map[string]any{"stdout": res.Stdout, "stderr": res.Stderr, "exitCode": res.ExitCode},
		}, nil
	}
}
