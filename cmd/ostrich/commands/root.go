package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shakenfist/ostrich/pkg/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// defaultConfigPath is used when neither --config nor OSTRICH_CONFIG is set.
const defaultConfigPath = "~/.ostrich/config.yml"

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ostrich",
		Short: "Ostrich - resumable step runner",
		Long: `Ostrich runs a plan of installation steps in dependency order.

Every completed step is recorded in a state document, so an interrupted
run resumes where it stopped. Each execution writes its output to a
compressed log that can be listed, printed and followed.

Features:
  - Shell commands with process tree tracing
  - Patches, regexp and YAML structural edits
  - Operator questions whose answers feed later stages
  - Retries with a configurable delay
  - Execution history in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("OSTRICH_CONFIG")
	if defaultConfig == "" {
		defaultConfig = defaultConfigPath
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStateCommand())
	rootCmd.AddCommand(newLogsCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

// loadConfig reads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ostrich %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", buildDate)
		},
	}
}
