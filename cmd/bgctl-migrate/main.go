package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/cuemby/bgctl/pkg/config"
	"github.com/cuemby/bgctl/pkg/log"
	"github.com/cuemby/bgctl/pkg/storage"
	"github.com/cuemby/bgctl/pkg/types"
	"github.com/spf13/cobra"
)

type options struct {
	flagFile     string
	registryPath string
	backupPath   string
	lockTimeout  time.Duration
	dryRun       bool
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var opts options

var rootCmd = &cobra.Command{
	Use:   "bgctl-migrate",
	Short: "Import a legacy active-environment flag file into the bgctl registry",
	Long: `bgctl-migrate reads the plain-text file that older deployment scripts
used to record the active environment ("blue" or "green") and writes it
into the bgctl registry. An existing registry database is backed up first.

Examples:
  # Show what would be imported
  bgctl-migrate --flag-file /opt/app/.active_env --dry-run

  # Import into the default registry
  bgctl-migrate --flag-file /opt/app/.active_env`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Init(log.Config{Level: log.InfoLevel, Output: os.Stderr})
		return migrate(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	rootCmd.Flags().StringVar(&opts.flagFile, "flag-file", "", "Legacy file holding the active environment name (required)")
	rootCmd.Flags().StringVar(&opts.registryPath, "registry", config.Default().Registry.Path, "Registry database to write")
	rootCmd.Flags().StringVar(&opts.backupPath, "backup", "", "Backup path for an existing registry (default: <registry>.backup)")
	rootCmd.Flags().DurationVar(&opts.lockTimeout, "lock-timeout", storage.DefaultLockTimeout, "How long to wait for the registry lock")
	rootCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show what would be migrated without making changes")
	_ = rootCmd.MarkFlagRequired("flag-file")
}

func migrate(ctx context.Context, out io.Writer, o options) error {
	logger := log.WithComponent("migrate")

	env, err := readFlagFile(o.flagFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Legacy flag file: %s (active=%s)\n", o.flagFile, env)
	fmt.Fprintf(out, "Registry:         %s\n", o.registryPath)

	_, statErr := os.Stat(o.registryPath)
	exists := statErr == nil
	if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return fmt.Errorf("failed to inspect registry: %w", statErr)
	}

	backup := o.backupPath
	if backup == "" {
		backup = o.registryPath + ".backup"
	}

	if o.dryRun {
		fmt.Fprintln(out, "\n[DRY RUN] Would perform the following operations:")
		if exists {
			fmt.Fprintf(out, "1. Back up %s to %s\n", o.registryPath, backup)
		} else {
			fmt.Fprintf(out, "1. Create %s\n", o.registryPath)
		}
		fmt.Fprintf(out, "2. Record %s as the active environment\n", env)
		fmt.Fprintln(out, "\nRun without --dry-run to perform the migration.")
		return nil
	}

	// The backup is taken under the registry lock so a concurrent switch
	// cannot be caught mid-write.
	var backupTo string
	if exists {
		backupTo = backup
	}
	registry := storage.NewBoltRegistry(o.registryPath, o.lockTimeout)
	if err := registry.Import(ctx, env, backupTo); err != nil {
		return fmt.Errorf("failed to import active environment: %w", err)
	}
	if exists {
		logger.Info().Str("backup", backup).Msg("Registry backed up")
		fmt.Fprintf(out, "✓ Backup created: %s\n", backup)
	}
	logger.Info().Str("active", string(env)).Str("registry", o.registryPath).Msg("Legacy pointer imported")

	fmt.Fprintf(out, "✓ Active environment recorded: %s\n", env)
	fmt.Fprintf(out, "The legacy file %s was left in place; remove it once bgctl owns deployments.\n", o.flagFile)
	return nil
}

// readFlagFile parses the legacy file. It holds a single environment name,
// optionally surrounded by whitespace.
func readFlagFile(path string) (types.Environment, error) {
	if path == "" {
		return "", errors.New("--flag-file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read flag file: %w", err)
	}
	env, err := types.ParseEnvironment(string(data))
	if err != nil {
		return "", fmt.Errorf("flag file %s: %w", path, err)
	}
	return env, nil
}
