package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shinji-kodama/client-runner/internal/logging"
	"github.com/shinji-kodama/client-runner/internal/model"
	"github.com/shinji-kodama/client-runner/internal/port"
	"github.com/shinji-kodama/client-runner/internal/proctable"
	"github.com/shinji-kodama/client-runner/internal/task"
)

// releaseTimeout bounds the port release that ends every invocation.
const releaseTimeout = 30 * time.Second

// Deps are the collaborators of a Lifecycle. Only Initiator and Inspector
// are required.
type Deps struct {
	// Pool provides dynamic ports. May be nil for fixed installations.
	Pool port.Pool
	// Table backs the duplicate-run guard. nil disables the lookup.
	Table     proctable.Table
	Initiator task.Initiator
	Inspector task.Inspector
	// Alerter receives completion and escalation messages. May be nil.
	Alerter task.Alerter
	// Sleep defaults to a context-aware timer.
	Sleep Sleeper
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
	// Observer defaults to a no-op.
	Observer Observer
}

// Lifecycle orchestrates client invocations for one effective
// configuration. It keeps no per-invocation state, so Handle may be called
// repeatedly (for example by the scheduler), each call being a fresh run.
type Lifecycle struct {
	cfg       model.EffectiveConfig
	allocator *port.Allocator
	guard     *DuplicateRunGuard
	initiator task.Initiator
	retry     *RetryController
	logger    *slog.Logger
	observer  Observer
}

// New creates a Lifecycle.
func New(cfg model.EffectiveConfig, deps Deps) (*Lifecycle, error) {
	if deps.Initiator == nil || deps.Inspector == nil {
		return nil, errors.New("lifecycle requires a task initiator and inspector")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = contextSleep
	}

	return &Lifecycle{
		cfg:       cfg,
		allocator: port.NewAllocator(deps.Pool, cfg.ResourceClass, cfg.PortHost),
		guard:     NewDuplicateRunGuard(deps.Table),
		initiator: deps.Initiator,
		retry: &RetryController{
			module:    cfg.ModuleName,
			policy:    cfg.Retry,
			initiator: deps.Initiator,
			inspector: deps.Inspector,
			alerter:   deps.Alerter,
			sleep:     sleep,
			logger:    logger,
			observer:  observer,
		},
		logger:   logger,
		observer: observer,
	}, nil
}

// Result describes a finished invocation.
type Result struct {
	RunID string
	State *model.RunState
	// Ports is the set acquired for the run, nil when acquisition failed.
	Ports *model.PortSet
	// Released is true when pool ports were held and release was attempted.
	Released bool
	// ReleaseErr is the non-fatal release failure, if any.
	ReleaseErr error
	// MustTerminate asks the caller to exit the process now. Ports were
	// already released.
	MustTerminate bool
	Outcome       model.InspectionOutcome
	Trace         []State
}

// Handle runs one invocation.
//
// Fatal errors (*model.PortAllocationError, *model.PortCountMismatchError,
// model.ErrAlreadyRunning under the abort policy, *model.TaskError, a
// failed process-table lookup, context cancellation) are returned. Ports
// acquired before the failure are released before Handle returns; a
// release problem is logged and reported in Result.ReleaseErr only.
func (l *Lifecycle) Handle(ctx context.Context, runID string) (res Result, err error) {
	start := time.Now()
	state := model.NewRunState(runID, l.cfg.ExecutionMode)
	res = Result{RunID: runID, State: state}

	ctx = logging.ContextAttrs(ctx,
		slog.String("module", l.cfg.ModuleName),
		slog.String("run_id", runID),
	)

	defer func() {
		outcome := OutcomeOf(res, err)
		l.observer.ObserveRun(outcome, time.Since(start))
		l.logger.InfoContext(ctx, "client run finished",
			"outcome", outcome,
			"recursion_attempts", state.RecursionAttempts,
			"duration", time.Since(start),
		)
	}()

	if l.cfg.ExecutionOverridden {
		l.logger.InfoContext(ctx, "fixed port installation forces consistent execution")
	}

	// handlePorts
	ports, err := l.allocator.Acquire(ctx, l.cfg.PortInstallation, l.cfg.RequiredPorts, l.cfg.FixedPortsCopy())
	if err != nil {
		l.logger.ErrorContext(ctx, "port acquisition failed", "error", err)
		return res, err
	}
	res.Ports = ports
	l.logger.DebugContext(ctx, "ports acquired",
		"installation", ports.Mode(),
		"endpoints", ports.Endpoints(),
	)

	defer func() {
		if !ports.HoldsPoolPorts() {
			return
		}
		res.Released = true
		// Release must run even when the invocation was cancelled.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		res.ReleaseErr = l.release(relCtx, ports)
	}()

	// prepareExecution
	mayProceed, err := l.guard.Resolve(ctx, state, l.cfg.ModuleName)
	if err != nil {
		l.logger.ErrorContext(ctx, "duplicate-run check failed", "error", err)
		return res, err
	}
	if !mayProceed {
		if l.cfg.DuplicatePolicy == model.DuplicateAbort {
			l.logger.WarnContext(ctx, "client is already running, aborting")
			return res, fmt.Errorf("%w: %s", model.ErrAlreadyRunning, l.cfg.ModuleName)
		}
		l.logger.WarnContext(ctx, "client is already running, proceeding by policy",
			"duplicate_policy", l.cfg.DuplicatePolicy)
	}

	if err := port.ValidateCount(ports, l.cfg.RequiredPorts); err != nil {
		l.logger.ErrorContext(ctx, "port count check failed", "error", err)
		return res, err
	}

	// initTasks
	if err := l.initiator.InitTasks(ctx, ports, nil); err != nil {
		err = asTaskError("init", err)
		l.logger.ErrorContext(ctx, "task initiation failed", "error", err)
		return res, err
	}

	retry, err := l.retry.Run(ctx, state, ports)
	res.Outcome = retry.Outcome
	res.MustTerminate = retry.MustTerminate
	res.Trace = retry.Trace
	if err != nil {
		l.logger.ErrorContext(ctx, "inspection loop failed", "error", err)
		return res, err
	}
	if res.MustTerminate {
		l.logger.WarnContext(ctx, "inspector requested process termination")
	}
	return res, nil
}

func (l *Lifecycle) release(ctx context.Context, ports *model.PortSet) error {
	err := l.allocator.Release(ctx, ports)
	if err == nil {
		l.logger.DebugContext(ctx, "ports released", "ports", model.FormatPorts(ports.Held()))
		return nil
	}

	stillUsed := ports.Held()
	var incomplete *model.PortReleaseIncompleteError
	if errors.As(err, &incomplete) {
		stillUsed = incomplete.Ports
	}
	l.logger.ErrorContext(ctx, "Not all already used port's statuses were freed",
		"used_ports", model.FormatPorts(stillUsed),
		"error", err,
	)
	l.observer.ObserveReleaseFailure(len(stillUsed))
	return err
}

// OutcomeOf classifies a finished invocation into one of the Outcome labels.
func OutcomeOf(res Result, err error) string {
	var taskErr *model.TaskError
	switch {
	case err == nil && res.MustTerminate:
		return OutcomeTerminated
	case err == nil && res.State.RecursionExhausted:
		return OutcomeEscalated
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, model.ErrAlreadyRunning):
		return OutcomeAlreadyRunning
	case errors.Is(err, model.ErrPortAllocation):
		return OutcomePortAllocationFailed
	case errors.Is(err, model.ErrPortCountMismatch):
		return OutcomePortCountMismatch
	case errors.As(err, &taskErr):
		return OutcomeTaskFailed
	default:
		return OutcomeError
	}
}
