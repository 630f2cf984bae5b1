package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mcops/masterclaw/internal/audit"
	"github.com/mcops/masterclaw/internal/config"
	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/containerexec"
	"github.com/mcops/masterclaw/internal/dispatch"
	"github.com/mcops/masterclaw/internal/errkind"
	"github.com/mcops/masterclaw/internal/facade"
	"github.com/mcops/masterclaw/internal/heal"
	"github.com/mcops/masterclaw/internal/httpclient"
	"github.com/mcops/masterclaw/internal/metrics"
	"github.com/mcops/masterclaw/internal/prompt"
	"github.com/mcops/masterclaw/internal/ratelimit"
)

// confirmFn is overridable in tests; production code always goes
// through internal/prompt.Confirm.
var confirmFn = prompt.Confirm

// version is stamped by the release process; left as a literal default
// for a development build.
var version = "0.1.0"

// App holds every dependency a command handler needs. It is built once
// in main and threaded into each cobra command's closure, the same
// "build managers up front, pass them to RunE" shape the teacher uses
// in cmd/claude-env/main.go.
type App struct {
	Dispatcher      *dispatch.Dispatcher
	Audit           *audit.Logger
	Limiter         *ratelimit.Limiter
	Metrics         *metrics.Registry
	ConfigLoader    *config.Loader
	Policy          *config.Policy
	HTTPClient      *httpclient.Client
	ContainerRunner *containerexec.Runner
	HealScanner     *heal.Scanner
	HealApplier     *heal.Applier
	Facade          *facade.Client

	// ExitCode carries the outcome of the last dispatched command; main
	// reads it after cobra's Execute returns, since dispatch.Dispatch
	// already renders the command's own error/success output and must
	// not also have cobra print a second, differently-shaped message.
	ExitCode errkind.ExitCode
}

// newApp wires every layer in dependency order: the store-backed audit
// log and rate limiter, metrics and policy first, then the L10-L12
// subsystems, and last the L9 dispatcher that ties them together.
func newApp() (*App, error) {
	auditLogger, err := audit.Open()
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.New(auditLogger)
	if err != nil {
		return nil, err
	}

	metricsReg := metrics.New()

	configLoader, err := config.NewLoader()
	if err != nil {
		return nil, err
	}
	policy, err := configLoader.Load()
	if err != nil {
		return nil, err
	}
	heal.ProtectedPrefixes = config.ProtectedPrefixes(policy)

	httpClient := httpclient.New()
	containerRunner := containerexec.New(auditLogger)

	services := []heal.ServiceEndpoint{
		{Name: "core-api", HealthURL: policy.GatewayBaseURL + "/health"},
	}
	healScanner, err := heal.NewScanner(httpClient, services)
	if err != nil {
		return nil, err
	}
	healApplier := &heal.Applier{HTTPClient: httpClient}

	var facadeClient *facade.Client
	if policy.GatewayBaseURL != "" {
		facadeClient, err = facade.New(httpClient, policy.GatewayBaseURL, os.Getenv(constants.EnvGatewayToken), "gateway")
		if err != nil {
			return nil, err
		}
	}

	d := dispatch.New(limiter, auditLogger, metricsReg)

	return &App{
		Dispatcher:      d,
		Audit:           auditLogger,
		Limiter:         limiter,
		Metrics:         metricsReg,
		ConfigLoader:    configLoader,
		Policy:          policy,
		HTTPClient:      httpClient,
		ContainerRunner: containerRunner,
		HealScanner:     healScanner,
		HealApplier:     healApplier,
		Facade:          facadeClient,
	}, nil
}

// dispatch runs handler through the dispatcher and records the result
// in a.ExitCode instead of returning an error to cobra: dispatch.Dispatch
// already wrote the human/JSON error output itself, so letting cobra's
// own error path fire too would print the failure twice.
func (a *App) dispatch(cmd *cobra.Command, commandPath []string, flags map[string]any, handler dispatch.Handler) error {
	jsonFlag, _ := cmd.Flags().GetBool("json")
	debugFlag, _ := cmd.Flags().GetBool("debug")
	quietFlag, _ := cmd.Flags().GetBool("quiet")
	correlationHeader, _ := cmd.Flags().GetString("correlation-id")

	a.ExitCode = a.Dispatcher.Dispatch(cmd.Context(), commandPath, flags, correlationHeader, jsonFlag, debugFlag, quietFlag, handler)
	return nil
}

// forceOrConfirm implements spec.md section 6's "dangerous operations
// require --force or an interactive confirmation" rule.
func forceOrConfirm(cmd *cobra.Command, question string) bool {
	force, _ := cmd.Flags().GetBool("force")
	if force {
		return true
	}
	return confirmFn(question)
}
