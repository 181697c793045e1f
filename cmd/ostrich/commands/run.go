package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/shakenfist/ostrich/pkg/config"
	"github.com/shakenfist/ostrich/pkg/emitter"
	"github.com/shakenfist/ostrich/pkg/engine"
	"github.com/shakenfist/ostrich/pkg/plan"
	"github.com/shakenfist/ostrich/pkg/stores"
	"github.com/shakenfist/ostrich/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		planPath string
		display  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a plan, resuming from saved state",
		Long: `Run the stages of a plan in order. Steps already recorded as complete
in the state document are skipped, so re-running after a failure or an
interrupt resumes where the previous run stopped.

The run stops with a non-zero exit status when a step exhausts its
retries or when no pending step can make progress.`,
		Example: `  # Run a plan with the interactive display
  ostrich run --plan install.yml

  # Run with plain output suitable for CI logs
  ostrich run --plan install.yml --display stream`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if display != "" {
				cfg.Display.Mode = display
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return runPlan(cmd.Context(), cfg, planPath, cmd.OutOrStdout(), cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "plan file to run")
	cmd.Flags().StringVar(&display, "display", "", "output mode: interactive, stream or silent")
	_ = cmd.MarkFlagRequired("plan")

	return cmd
}

func runPlan(ctx context.Context, cfg *config.Config, planPath string, out io.Writer, in io.Reader) error {
	p, err := plan.Load(planPath)
	if err != nil {
		return err
	}
	if abs, err := filepath.Abs(planPath); err == nil {
		planPath = abs
	}

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	em := newEmitter(cfg, out, in)
	if _, ok := em.(*emitter.Display); ok {
		if o := cfg.Telemetry.Logging.Output; o == "" || o == "stderr" {
			cfg.Telemetry.Logging.Output = cfg.LogFile()
		}
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()
	ctx = tel.WithContext(ctx)
	tel.Metrics.StartMetricsServer(ctx, tel.Logger)

	store, err := openStateStore(cfg)
	if err != nil {
		return err
	}
	defer store.close()

	runID := uuid.NewString()
	logger := tel.Logger.WithRunID(runID)
	logger.Infof("running %s with state in %s", planPath, store.describe)

	opts := []engine.Option{
		engine.WithEmitter(em),
		engine.WithLogger(logger),
		engine.WithMetrics(tel.Metrics),
		engine.WithTracer(tel.Tracer),
		engine.WithInitialContext(cfg.Defaults),
	}

	var journal *stores.SQLiteJournal
	if cfg.Journal.Enabled {
		journal, err = stores.OpenJournal(ctx, cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer journal.Close()
		if err := journal.StartRun(ctx, runID, planPath, time.Now()); err != nil {
			return err
		}
		opts = append(opts, engine.WithJournal(journal, runID))
	}

	runErr := func() error {
		defer em.Close()
		ctx, span := tel.Tracer.StartRunSpan(ctx, runID)
		defer span.End()

		r, err := engine.New(ctx, store, opts...)
		if err != nil {
			telemetry.RecordError(span, err)
			return err
		}
		err = engine.RunStages(ctx, r, p.EngineStages(plan.Options{
			PatchesDir:   cfg.Patches.Dir,
			ArchiveDir:   cfg.Patches.ArchiveDir,
			PollInterval: cfg.Display.PollInterval,
		})...)
		if err != nil {
			telemetry.RecordError(span, err)
			return err
		}
		telemetry.RecordSuccess(span)
		fmt.Fprintln(out, successMsg("Run %s complete, %d steps done", runID, len(r.CompletedNames())))
		return nil
	}()

	if journal != nil {
		status := stores.RunStatusCompleted
		switch {
		case runErr != nil && ctx.Err() != nil:
			status = stores.RunStatusCancelled
		case runErr != nil:
			status = stores.RunStatusFailed
		}
		finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := journal.FinishRun(finishCtx, runID, status, runErr); err != nil {
			logger.WithError(err).Warn("failed to record run result")
		}
	}

	if runErr != nil {
		reportFailure(out, runErr)
		return runErr
	}
	return nil
}

// newEmitter picks the emitter for the configured display mode. The
// interactive display needs a terminal; without one the plain stream is
// used instead.
func newEmitter(cfg *config.Config, out io.Writer, in io.Reader) emitter.Emitter {
	switch cfg.Display.Mode {
	case config.DisplaySilent:
		return emitter.NewStream(io.Discard, in, cfg.Logs.Dir)
	case config.DisplayInteractive:
		if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return emitter.NewDisplay(f, in, cfg.Logs.Dir)
		}
	}
	return emitter.NewStream(out, in, cfg.Logs.Dir)
}

// reportFailure names the steps responsible for a fatal error.
func reportFailure(w io.Writer, err error) {
	var engErr *engine.EngineError
	switch {
	case engine.IsDeadlock(err):
		fmt.Fprintln(w, errorMsg("No pending step could run. Outstanding steps:"))
		for _, name := range engine.OutstandingSteps(err) {
			fmt.Fprintf(w, "    %s\n", name)
		}
	case engine.IsRetriesExhausted(err) && errors.As(err, &engErr):
		fmt.Fprintln(w, errorMsg("Step %s failed too many times", engErr.Step))
		fmt.Fprintln(w, muted("    see: ostrich logs show "+engErr.Step))
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(w, warnMsg("Run interrupted; progress so far is saved"))
	default:
		fmt.Fprintln(w, errorMsg("Run failed: %v", err))
	}
}
