package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/client-runner/internal/lifecycle"
	"github.com/shinji-kodama/client-runner/internal/model"
	"github.com/shinji-kodama/client-runner/internal/schedule"
)

// scheduleFlags holds the flags for the schedule command.
type scheduleFlags struct {
	cron        string
	every       time.Duration
	immediately bool
	metricsAddr string
}

// NewScheduleCommand creates the "schedule" subcommand.
func NewScheduleCommand() *cobra.Command {
	flags := &scheduleFlags{}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the client periodically in process",
		Long: `Run the client periodically until interrupted. Every activation is a
separate invocation with its own run ID. An activation that fires while the
previous one is still running is rescheduled, never overlapped.

The process stops with exit code 7 when an inspection report requests
termination.

Examples:
  client-runner schedule --cron "*/5 * * * *"
  client-runner schedule --every 10m --immediately --metrics-addr :9108`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchedule(cmd.Context(), cmd.ErrOrStderr(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.cron, "cron", "", "Cron expression (5 fields or @descriptor)")
	cmd.Flags().DurationVar(&flags.every, "every", 0, "Fixed interval between runs")
	cmd.Flags().BoolVar(&flags.immediately, "immediately", false, "Start the first run right away")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	cmd.MarkFlagsMutuallyExclusive("cron", "every")

	return cmd
}

func runSchedule(ctx context.Context, stderr io.Writer, flags *scheduleFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	spec := schedule.Spec{Cron: flags.cron, Every: flags.every, Immediately: flags.immediately}
	if err := spec.Validate(); err != nil {
		return model.WrapCLIError(model.ExitConfigInvalid, "invalid schedule", err)
	}

	res, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr)
	if err != nil {
		return err
	}
	if res.Effective.ExecutionOverridden {
		logger.WarnContext(ctx, "parallel execution overridden to consistent: ports are fixed")
	}

	rt, err := newRuntime(ctx, res, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var terminated atomic.Bool
	var sched *schedule.Scheduler
	tick := func(ctx context.Context) {
		result, err := rt.runOnce(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "client run failed",
				"run_id", result.RunID,
				"outcome", lifecycle.OutcomeOf(result, err),
				"exit_code", int(model.ExitCodeFor(err)),
				"error", err,
			)
			return
		}
		if result.MustTerminate {
			terminated.Store(true)
			cancel()
			return
		}
		logger.DebugContext(ctx, "next run scheduled", "at", sched.NextRun())
	}

	sched, err = schedule.New(ctx, spec, tick, logger)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigInvalid, "failed to create scheduler", err)
	}

	if flags.metricsAddr != "" {
		srv := &http.Server{
			Addr:              flags.metricsAddr,
			Handler:           rt.recorder.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "metrics server failed", "addr", flags.metricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.InfoContext(ctx, "scheduler started",
		"module", res.Effective.ModuleName,
		"cron", flags.cron,
		"every", flags.every,
	)
	if err := sched.Run(ctx); err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "scheduler shutdown failed", err)
	}

	if terminated.Load() {
		return model.NewCLIError(model.ExitTerminated, "termination requested by inspection report")
	}
	logger.InfoContext(context.Background(), "scheduler stopped")
	return nil
}
