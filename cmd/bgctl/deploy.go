package main

import (
	"context"

	"github.com/cuemby/bgctl/pkg/types"
	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a new release to the standby environment and switch traffic to it",
	Long: `Deploy builds and starts the standby environment, waits until every
health endpoint reports healthy, runs the smoke test battery and asks for
confirmation before switching production traffic to it.

A failed health or smoke gate leaves the standby running for inspection
and traffic untouched.

Exit codes:
  0  traffic switched to the new release
  1  health or smoke gate failed, switch declined or failed, interrupted
  2  build or start failed, registry unavailable, invalid configuration
  3  partial switch: the proxy serves the new release, the registry does not record it

Examples:
  # Interactive deploy
  bgctl deploy

  # Non-interactive deploy of prebuilt images
  bgctl deploy --yes --no-build`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := commandOptions(cmd)
		opts.autoConfirm, _ = cmd.Flags().GetBool("yes")
		opts.noBuild, _ = cmd.Flags().GetBool("no-build")
		opts.healthTimeout, _ = cmd.Flags().GetDuration("timeout")
		opts.healthInterval, _ = cmd.Flags().GetDuration("interval")

		return runOperation(cmd, types.OperationDeploy, opts, func(ctx context.Context, a *app) (*types.DeploymentAttempt, error) {
			return a.orch.Deploy(ctx)
		})
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Switch traffic back to the previously active environment",
	Long: `Rollback re-validates the previous environment with the health gate
and switches traffic back to it. It never rebuilds or restarts anything:
the previous environment must still be running.

Exit codes:
  0  traffic switched back
  1  previous environment not running or unhealthy, switch failed
  3  partial switch: the proxy serves the previous environment, the registry does not record it`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := commandOptions(cmd)
		opts.healthTimeout, _ = cmd.Flags().GetDuration("timeout")

		return runOperation(cmd, types.OperationRollback, opts, func(ctx context.Context, a *app) (*types.DeploymentAttempt, error) {
			return a.orch.Rollback(ctx)
		})
	},
}

func init() {
	deployCmd.Flags().BoolP("yes", "y", false, "Switch traffic without asking once all gates pass")
	deployCmd.Flags().Bool("no-build", false, "Start the standby from prebuilt images")
	deployCmd.Flags().Duration("timeout", 0, "Health gate timeout (default from configuration)")
	deployCmd.Flags().Duration("interval", 0, "Health gate polling interval (default from configuration)")

	rollbackCmd.Flags().Duration("timeout", 0, "Health gate timeout (default from configuration)")
}

func commandOptions(cmd *cobra.Command) appOptions {
	return appOptions{
		in:  cmd.InOrStdin(),
		out: cmd.OutOrStdout(),
	}
}

// runOperation wires the application, streams progress events while op
// runs and turns its outcome into an exit code
func runOperation(cmd *cobra.Command, op types.Operation, opts appOptions, fn func(ctx context.Context, a *app) (*types.DeploymentAttempt, error)) error {
	a, err := loadApp(cmd, opts)
	if err != nil {
		return errorExit(op, err)
	}
	defer a.flushMetrics()

	out := cmd.OutOrStdout()
	a.broker.Start()
	sub := a.broker.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		a.printer.run(sub)
	}()

	attempt, _ := fn(cmd.Context(), a)

	a.broker.Stop()
	<-printed

	printReport(out, attempt)
	if code := exitCode(op, attempt.Outcome); code != 0 {
		return &exitError{code: code, err: attempt.Err, reported: true}
	}
	return nil
}
