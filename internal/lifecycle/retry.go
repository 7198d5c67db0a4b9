package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shinji-kodama/client-runner/internal/model"
	"github.com/shinji-kodama/client-runner/internal/task"
)

// State is a state of the inspection loop.
type State string

const (
	StateInspect   State = "INSPECT"
	StateRetryWait State = "RETRY_WAIT"
	StateEscalate  State = "ESCALATE"
	StateDone      State = "DONE"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryResult is what the loop hands back to the orchestrator.
type RetryResult struct {
	// Outcome is the last inspection.
	Outcome model.InspectionOutcome
	// MustTerminate asks the caller to stop the process once cleanup ran.
	MustTerminate bool
	// Trace lists every state entered, in order.
	Trace []State
}

// RetryController runs the inspect / retry-or-stop loop.
type RetryController struct {
	module    string
	policy    model.RetryPolicy
	initiator task.Initiator
	inspector task.Inspector
	alerter   task.Alerter
	sleep     Sleeper
	logger    *slog.Logger
	observer  Observer
}

// Run starts in INSPECT right after the first task initiation and returns
// once DONE is reached. Ports and run permission are reused as they are;
// only task initiation is repeated.
func (r *RetryController) Run(ctx context.Context, state *model.RunState, ports *model.PortSet) (RetryResult, error) {
	var res RetryResult
	var outcome model.InspectionOutcome

	current := StateInspect
	for {
		res.Trace = append(res.Trace, current)

		switch current {
		case StateInspect:
			var err error
			outcome, err = r.inspector.Inspect(ctx)
			if err != nil {
				return res, asTaskError("inspect", err)
			}
			if !outcome.HasCreatedTasks() {
				r.alert(ctx, "All good. Inspection message: "+outcome.InspectionMessage)
				current = StateDone
				continue
			}
			state.RecursionAttempts++
			if state.RecursionAttempts < r.policy.MaxRecursionAttempts {
				current = StateRetryWait
			} else {
				current = StateEscalate
			}

		case StateRetryWait:
			r.logger.WarnContext(ctx, fmt.Sprintf("Client %s start to init tasks repeatedly. | %s",
				r.module, repeatedTasks(outcome.CreatedTasks)),
				"attempt", state.RecursionAttempts,
				"backoff", r.policy.Backoff(),
			)
			r.observer.ObserveRetry()

			if err := r.sleep(ctx, r.policy.Backoff()); err != nil {
				return res, err
			}
			if err := r.initiator.InitTasks(ctx, ports, outcome.CreatedTasks); err != nil {
				return res, asTaskError("init", err)
			}
			current = StateInspect

		case StateEscalate:
			msg := fmt.Sprintf("Client %s exceeded max recursion attempts constant (%d) and finished. | %s",
				r.module, r.policy.MaxRecursionAttempts, repeatedTasks(outcome.CreatedTasks))
			r.alert(ctx, msg)
			r.logger.WarnContext(ctx, msg, "attempts", state.RecursionAttempts)
			r.observer.ObserveEscalation()

			state.RecursionExhausted = true
			current = StateDone

		case StateDone:
			res.Outcome = outcome
			res.MustTerminate = outcome.MustTerminateProcess
			return res, nil
		}
	}
}

// alert never fails the run; delivery problems are logged.
func (r *RetryController) alert(ctx context.Context, msg string) {
	if r.alerter == nil {
		return
	}
	if err := r.alerter.SendAttentionMail(ctx, msg); err != nil {
		r.logger.ErrorContext(ctx, "failed to send attention mail", "error", err)
	}
}

func repeatedTasks(tasks []model.TaskRef) string {
	return "Repeated tasks: " + model.FormatTaskRefs(tasks)
}

func asTaskError(op string, err error) error {
	var taskErr *model.TaskError
	if errors.As(err, &taskErr) {
		return err
	}
	return &model.TaskError{Op: op, Err: err}
}
