// Command mc is the MasterClaw operations CLI: a single dispatcher-backed
// command tree over the core's safety layer (rate limiting, circuit
// breaking, audit logging, container-exec, and heal/prune).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcops/masterclaw/internal/dispatch"
	"github.com/mcops/masterclaw/internal/errkind"
	"github.com/mcops/masterclaw/internal/logging"
)

func main() {
	app, err := newApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, "mc: failed to initialize:", err)
		os.Exit(int(errkind.ExitGeneric))
	}

	rootCmd := newRootCmd(app)

	defer dispatch.InstallExitHandling()()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		// Only cobra-level errors (unknown command, bad flag) reach
		// here; every command's own handler failure is already
		// rendered and recorded in app.ExitCode by app.dispatch.
		fmt.Fprintln(os.Stderr, err)
		logging.Flush()
		os.Exit(int(errkind.ExitUsage))
	}

	logging.Flush()
	os.Exit(int(app.ExitCode))
}

func newRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "mc",
		Short:         "MasterClaw operations CLI",
		Long:          "MasterClaw is an operations toolkit for a small AI-service ecosystem: deploy, backup/restore, container-exec, and self-heal, all behind one rate-limited, audited command dispatcher.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().Bool("json", false, "force JSON output")
	root.PersistentFlags().Bool("quiet", false, "suppress human-readable status messages")
	root.PersistentFlags().Bool("debug", false, "enable debug-level logging")
	root.PersistentFlags().Bool("force", false, "skip the interactive confirmation for a dangerous operation")
	root.PersistentFlags().String("correlation-id", "", "correlation ID to use instead of generating one (overridden by MC_CORRELATION_ID)")

	root.AddCommand(
		newStatusCmd(app),
		newHealthCmd(app),
		newConfigCmd(app),
		newSecretsCmd(app),
		newEventsCmd(app),
		newAuditCmd(app),
		newRateLimitCmd(app),
		newCircuitsCmd(app),
		newBackupCmd(app),
		newRestoreCmd(app),
		newLogsCmd(app),
		newExecCmd(app),
		newHealCmd(app),
		newPruneCmd(app),
		newScanCmd(app),
		newMetricsCmd(app),
	)
	root.AddCommand(newUniformCommands(app)...)

	return root
}
