package commands

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shakenfist/ostrich/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit int
		step  string
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show past runs and their step executions",
		Long: `Show the execution journal. Without arguments the most recent runs are
listed; with a run id every step attempt of that run is shown.`,
		Example: `  # List recent runs
  ostrich history

  # Show the attempts of one run
  ostrich history 6f1c2a4e-93b0-4d59-a3f4-0c8f3a1d2b7e

  # Show every recorded attempt of one step
  ostrich history --step install-packages`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("the execution journal is disabled in %s", configPath)
			}

			ctx := cmd.Context()
			journal, err := stores.OpenJournal(ctx, cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer journal.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 && step == "" {
				runs, err := journal.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				printRuns(out, runs)
				return nil
			}

			filter := stores.ExecutionFilter{Step: step, Limit: limit}
			if len(args) == 1 {
				run, err := journal.GetRun(ctx, args[0])
				if errors.Is(err, stores.ErrRunNotFound) {
					return fmt.Errorf("no run %s in the journal", args[0])
				}
				if err != nil {
					return err
				}
				printRunSummary(out, run)
				filter.RunID = run.ID
				if !cmd.Flags().Changed("limit") {
					filter.Limit = 0
				}
			}

			execs, err := journal.ListExecutions(ctx, filter)
			if err != nil {
				return err
			}
			printExecutions(out, execs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows to show (0 for all)")
	cmd.Flags().StringVar(&step, "step", "", "only show executions of this step")

	return cmd
}

func printRuns(out io.Writer, runs []*stores.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, muted("no runs recorded"))
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			runDuration(run),
			statusText(string(run.Status), run.Status != stores.RunStatusFailed),
			run.PlanPath,
		})
	}
	fmt.Fprintln(out, renderTable([]string{"RUN", "STARTED", "DURATION", "STATUS", "PLAN"}, rows))
}

func printRunSummary(out io.Writer, run *stores.Run) {
	fmt.Fprintln(out, infoMsg("Run %s", run.ID))
	fmt.Fprintf(out, "%s %s\n", muted("plan:    "), run.PlanPath)
	fmt.Fprintf(out, "%s %s\n", muted("started: "), run.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "%s %s\n", muted("status:  "), statusText(string(run.Status), run.Status != stores.RunStatusFailed))
	if run.Error != nil {
		fmt.Fprintf(out, "%s %s\n", muted("error:   "), *run.Error)
	}
}

func printExecutions(out io.Writer, execs []*stores.ExecutionRecord) {
	if len(execs) == 0 {
		fmt.Fprintln(out, muted("no executions recorded"))
		return
	}
	rows := make([][]string, 0, len(execs))
	for _, e := range execs {
		rows = append(rows, []string{
			strconv.Itoa(e.Counter),
			e.Step,
			strconv.Itoa(e.Attempt),
			statusText(e.Outcome, e.Truthy),
			e.Duration.Round(time.Millisecond).String(),
			e.LogID,
		})
	}
	fmt.Fprintln(out, renderTable([]string{"#", "STEP", "ATTEMPT", "OUTCOME", "DURATION", "LOG"}, rows))
}

func runDuration(run *stores.Run) string {
	if run.CompletedAt == nil {
		return "-"
	}
	return run.CompletedAt.Sub(run.StartedAt).Round(time.Second).String()
}
