package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/bgctl/pkg/config"
	"github.com/cuemby/bgctl/pkg/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Global flags
var (
	configPath string
	logLevel   string
	logJSON    bool
)

func main() {
	os.Exit(run())
}

func run() int {
	// SIGINT/SIGTERM cancel the running operation; whatever the registry and
	// proxy last durably wrote is kept
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if !exitErr.reported {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.err)
		}
		return exitErr.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "bgctl",
	Short: "bgctl - blue/green deployments for compose applications",
	Long: `bgctl runs two identical copies of an application, blue and green.
One serves production traffic while the other is the standby that
receives new releases. A deploy builds and starts the standby, waits for
it to become healthy, runs smoke tests and, once confirmed, re-points the
reverse proxy at it. The previous environment stays running so a
rollback is a single traffic switch.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; a missing file is not an error
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		initLogging(cmd, "", false)
		return nil
	},
}

// initLogging configures the global logger. Flags win over the configuration
// file, which wins over the defaults.
func initLogging(cmd *cobra.Command, level string, jsonOutput bool) {
	if cmd.Flags().Changed("log-level") || level == "" {
		level = logLevel
	}
	if cmd.Flags().Changed("log-json") {
		jsonOutput = logJSON
	}
	log.Init(log.Config{
		Level:      log.ParseLevel(level),
		JSONOutput: jsonOutput,
		Output:     os.Stderr,
	})
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"bgctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	defaultConfig := os.Getenv("BGCTL_CONFIG")
	if defaultConfig == "" {
		defaultConfig = config.DefaultPath
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "Path to the bgctl configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(switchTrafficCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bgctl version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}
