package commands

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and edit saved runner state",
		Long: `Inspect and edit the state document that lets a run resume.

The state records which steps completed and their outcomes, the shared
context, and the execution counter used to name logs.`,
	}

	cmd.AddCommand(newStateShowCommand())
	cmd.AddCommand(newStateForgetCommand())
	cmd.AddCommand(newStateResetCommand())

	return cmd
}

func newStateShowCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show completed steps and the shared context",
		Example: `  # Summarise the saved state
  ostrich state show

  # Print the raw state document
  ostrich state show --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStateStore(cfg)
			if err != nil {
				return err
			}
			defer store.close()

			state, err := store.loadState(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "    ")
				return enc.Encode(state)
			}

			names := make([]string, 0, len(state.Complete))
			for name := range state.Complete {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				outcome := state.Complete[name]
				rows = append(rows, []string{name, statusText(outcome.String(), outcome.Truthy())})
			}

			fmt.Fprintln(out, infoMsg("State in %s", store.describe))
			fmt.Fprintf(out, "%s %d\n", muted("executions:"), state.Counter)
			fmt.Fprintf(out, "%s %d\n", muted("context version:"), state.KwargsVersion)
			if len(rows) == 0 {
				fmt.Fprintln(out, muted("no completed steps"))
				return nil
			}
			fmt.Fprintln(out, renderTable([]string{"STEP", "OUTCOME"}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the state document as JSON")
	return cmd
}

func newStateForgetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget <step>...",
		Short: "Forget completed steps so they run again",
		Long: `Remove steps from the completed set. The next run executes them
again when their stage is reached.`,
		Example: `  # Re-run the package installation step
  ostrich state forget install-packages`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStateStore(cfg)
			if err != nil {
				return err
			}
			defer store.close()

			ctx := cmd.Context()
			state, err := store.loadState(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			changed := false
			for _, name := range args {
				if _, ok := state.Complete[name]; !ok {
					fmt.Fprintln(out, warnMsg("%s is not complete", name))
					continue
				}
				delete(state.Complete, name)
				changed = true
				log.Debug().Str("step", name).Msg("Forgot completed step")
				fmt.Fprintln(out, successMsg("Forgot %s", name))
			}
			if !changed {
				return nil
			}
			return store.Save(ctx, state)
		},
	}
	return cmd
}

func newStateResetCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard all saved state",
		Long: `Delete the state document. The next run starts from the first step
with a fresh shared context.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to discard state without --yes")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStateStore(cfg)
			if err != nil {
				return err
			}
			defer store.close()

			if err := store.remove(cmd.Context()); err != nil {
				return fmt.Errorf("failed to remove state: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), successMsg("Removed state in %s", store.describe))
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm discarding the state")
	return cmd
}
