package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shakenfist/ostrich/pkg/logs"
	"github.com/shakenfist/ostrich/pkg/telemetry"
)

func newLogsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List, print and follow step logs",
		Long: `Every step execution writes its output to a compressed log named
<counter>-<step>.gz in the log directory. These commands read them.`,
	}

	cmd.AddCommand(newLogsListCommand())
	cmd.AddCommand(newLogsShowCommand())
	cmd.AddCommand(newLogsFollowCommand())

	return cmd
}

func newLogsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List step logs in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			entries, err := logs.List(cfg.Logs.Dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, muted("no logs in "+cfg.Logs.Dir))
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					strconv.Itoa(e.Counter),
					e.Step,
					e.ModTime.Format("2006-01-02 15:04:05"),
					strconv.FormatInt(e.Size, 10),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"#", "STEP", "MODIFIED", "BYTES"}, rows))
			return nil
		},
	}
}

func newLogsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <log>",
		Short: "Print a step log",
		Long: `Print a decompressed step log. The log may be named by its id
(000012-install), its execution counter (12) or a step name, which picks
the most recent execution of that step.`,
		Example: `  # Print the latest execution of a step
  ostrich logs show install-packages`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			entry, err := logs.Find(cfg.Logs.Dir, args[0])
			if err != nil {
				return err
			}
			return logs.Copy(cmd.OutOrStdout(), entry.Path)
		},
	}
}

func newLogsFollowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "follow",
		Short: "Follow step logs as a run writes them",
		Long: `Print the newest step log and keep printing output as it is written,
switching to each new log as the runner starts the next execution. Useful
from a second terminal while the interactive display owns the first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
			if err != nil {
				return err
			}
			return logs.NewFollower(cfg.Logs.Dir, cmd.OutOrStdout(), logger).Follow(cmd.Context())
		},
	}
}
