package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/client-runner/internal/lifecycle"
	"github.com/shinji-kodama/client-runner/internal/model"
)

// runFlags holds the flags for the run command.
type runFlags struct {
	dryRun bool
}

// NewRunCommand creates the "run" subcommand.
func NewRunCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one invocation of the client",
		Long: `Run one invocation of the client: acquire ports, check for a duplicate
instance, initiate tasks and inspect them until the run is clean or the
retry ceiling is reached. Pool ports are released before the command exits.

Exit codes:
  0 success or escalation, 2 invalid configuration, 3 port allocation failed,
  4 port count mismatch, 5 already running, 6 task failure,
  7 termination requested by the inspection report.

Examples:
  client-runner run
  client-runner run --config reports.yaml --module reports-eu
  client-runner run --dry-run --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), flags)
		},
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print the effective configuration without touching the pool")

	return cmd
}

func runRun(ctx context.Context, stdout, stderr io.Writer, flags *runFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := loadConfig()
	if err != nil {
		return err
	}
	if flags.dryRun {
		return printEffective(stdout, res)
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

	result, err := rt.runOnce(ctx)
	if err != nil {
		return err
	}

	if err := printRunResult(stdout, res.Effective.ModuleName, result); err != nil {
		return err
	}
	if result.MustTerminate {
		return model.NewCLIError(model.ExitTerminated, "termination requested by inspection report")
	}
	return nil
}

// runView is the JSON shape of a finished run.
type runView struct {
	RunID             string            `json:"runId"`
	Module            string            `json:"module"`
	Outcome           string            `json:"outcome"`
	Ports             []string          `json:"ports"`
	RecursionAttempts int               `json:"recursionAttempts"`
	AlreadyRunning    bool              `json:"alreadyRunning"`
	Escalated         bool              `json:"escalated"`
	MustTerminate     bool              `json:"mustTerminate"`
	InspectionMessage string            `json:"inspectionMessage"`
	CreatedTasks      []model.TaskRef   `json:"createdTasks"`
	ReleaseError      string            `json:"releaseError,omitempty"`
	Trace             []lifecycle.State `json:"trace"`
}

func newRunView(module string, r lifecycle.Result) runView {
	v := runView{
		RunID:             r.RunID,
		Module:            module,
		Outcome:           lifecycle.OutcomeOf(r, nil),
		Ports:             []string{},
		MustTerminate:     r.MustTerminate,
		InspectionMessage: r.Outcome.InspectionMessage,
		CreatedTasks:      r.Outcome.CreatedTasks,
		Trace:             r.Trace,
	}
	if r.Ports != nil {
		v.Ports = r.Ports.Endpoints()
	}
	if r.State != nil {
		v.RecursionAttempts = r.State.RecursionAttempts
		v.AlreadyRunning = r.State.AlreadyRunning
		v.Escalated = r.State.RecursionExhausted
	}
	if r.ReleaseErr != nil {
		v.ReleaseError = r.ReleaseErr.Error()
	}
	if v.CreatedTasks == nil {
		v.CreatedTasks = []model.TaskRef{}
	}
	if v.Trace == nil {
		v.Trace = []lifecycle.State{}
	}
	return v
}

func printRunResult(w io.Writer, module string, r lifecycle.Result) error {
	v := newRunView(module, r)
	if jsonOutput {
		return printJSON(w, v)
	}

	_, _ = fmt.Fprintf(w, "Run %s of %s: %s\n", v.RunID, v.Module, v.Outcome)
	_, _ = fmt.Fprintf(w, "  Ports:              %s\n", FormatEndpoints(v.Ports))
	_, _ = fmt.Fprintf(w, "  Recursion attempts: %d\n", v.RecursionAttempts)
	if v.AlreadyRunning {
		_, _ = fmt.Fprintln(w, "  Duplicate:          another instance was running")
	}
	if v.InspectionMessage != "" {
		_, _ = fmt.Fprintf(w, "  Inspection:         %s\n", v.InspectionMessage)
	}
	if len(v.CreatedTasks) > 0 {
		_, _ = fmt.Fprintf(w, "  Repeated tasks:     %s\n", model.FormatTaskRefs(v.CreatedTasks))
	}
	if v.ReleaseError != "" {
		_, _ = fmt.Fprintf(w, "  Release:            %s\n", v.ReleaseError)
	}
	return nil
}

// FormatEndpoints joins endpoints with commas, or returns "-" when empty.
func FormatEndpoints(endpoints []string) string {
	if len(endpoints) == 0 {
		return "-"
	}
	out := endpoints[0]
	for _, e := range endpoints[1:] {
		out += ", " + e
	}
	return out
}
