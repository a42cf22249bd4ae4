package main

import (
	"context"

	"github.com/cuemby/bgctl/pkg/types"
	"github.com/spf13/cobra"
)

var switchTrafficCmd = &cobra.Command{
	Use:   "switch-traffic <blue|green>",
	Short: "Point production traffic at an environment without deploying",
	Long: `switch-traffic renders the proxy configuration for the target
environment, validates it, reloads the proxy and records the target as
active. There is no health gate: the target is trusted as is.

When the proxy was reloaded but the registry write failed the switch is
partial. Re-run the command once the cause is fixed, or pass
--registry-only to record the target without touching the proxy again.

Exit codes:
  0  traffic switched
  1  switch failed, proxy and registry unchanged
  2  partial switch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := types.ParseEnvironment(args[0])
		if err != nil {
			return &exitError{code: 1, err: err}
		}
		registryOnly, _ := cmd.Flags().GetBool("registry-only")

		return runOperation(cmd, types.OperationSwitchTraffic, commandOptions(cmd), func(ctx context.Context, a *app) (*types.DeploymentAttempt, error) {
			if registryOnly {
				return a.orch.RecordActive(ctx, target)
			}
			return a.orch.SwitchTraffic(ctx, target)
		})
	},
}

func init() {
	switchTrafficCmd.Flags().Bool("registry-only", false, "Only record the target as active; do not touch the proxy")
}
