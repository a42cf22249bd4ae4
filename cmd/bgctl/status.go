package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/bgctl/pkg/deploy"
	"github.com/cuemby/bgctl/pkg/types"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active environment and whether each environment is running",
	Long: `status prints the active and standby environments, whether each one
is running and where the proxy configuration currently routes. It never
changes anything and always exits 0; problems are printed instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := loadApp(cmd, commandOptions(cmd))
		if err != nil {
			return errorExit(types.OperationStatus, err)
		}
		defer a.flushMetrics()

		st := a.orch.Status(cmd.Context())
		if asJSON {
			return writeStatusJSON(cmd.OutOrStdout(), st)
		}
		writeStatus(cmd.OutOrStdout(), st)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "Print status as JSON")
}

func writeStatusJSON(out io.Writer, st *deploy.Status) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return &exitError{code: 0, err: fmt.Errorf("failed to encode status: %w", err)}
	}
	return nil
}

func writeStatus(out io.Writer, st *deploy.Status) {
	bold := color.New(color.Bold)

	if st.RegistryErr != "" {
		failColor.Fprintf(out, "Active:  unknown (%s)\n", st.RegistryErr)
	} else {
		fmt.Fprint(out, "Active:  ")
		bold.Fprintln(out, st.Active)
		fmt.Fprintf(out, "Standby: %s\n", st.Standby)
	}

	switch {
	case st.ProxyErr != "":
		warnColor.Fprintf(out, "Proxy:   unknown (%s)\n", st.ProxyErr)
	case st.Drift:
		warnColor.Fprintf(out, "Proxy:   %s (DRIFT: registry records %s; re-run switch-traffic to reconcile)\n", st.ProxyTarget, st.Active)
	default:
		fmt.Fprintf(out, "Proxy:   %s\n", st.ProxyTarget)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%-8s %-24s %s\n", "ENV", "PROJECT", "STATE")
	for _, es := range st.Environments {
		name := string(es.Name)
		if es.Name == st.Active {
			name += "*"
		}
		fmt.Fprintf(out, "%-8s %-24s ", name, es.Project)
		switch {
		case es.Error != "":
			warnColor.Fprintf(out, "unknown (%s)\n", es.Error)
		case es.Running:
			okColor.Fprintln(out, "running")
		default:
			dimColor.Fprintln(out, "stopped")
		}
	}
}
