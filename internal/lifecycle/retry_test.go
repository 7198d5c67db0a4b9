package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/client-runner/internal/model"
)

type retryFixture struct {
	ctrl      *RetryController
	initiator *fakeInitiator
	inspector *fakeInspector
	alerter   *fakeAlerter
	sleeper   *recordingSleeper
	observer  *fakeObserver
	logs      *bytes.Buffer
}

func newRetryFixture(max int, outcomes ...model.InspectionOutcome) *retryFixture {
	f := &retryFixture{
		initiator: &fakeInitiator{},
		inspector: &fakeInspector{outcomes: outcomes},
		alerter:   &fakeAlerter{},
		sleeper:   &recordingSleeper{},
		observer:  &fakeObserver{},
		logs:      &bytes.Buffer{},
	}
	f.ctrl = &RetryController{
		module:    "moduleX",
		policy:    model.RetryPolicy{MaxRecursionAttempts: max, MaxGetTaskAttempts: 10, AdditionalSleepTime: 10},
		initiator: f.initiator,
		inspector: f.inspector,
		alerter:   f.alerter,
		sleep:     f.sleeper.sleep,
		logger:    slog.New(slog.NewTextHandler(f.logs, nil)),
		observer:  f.observer,
	}
	return f
}

func TestRetry_CleanFirstInspection(t *testing.T) {
	f := newRetryFixture(3, clean("40 tasks done"))
	state := model.NewRunState("r", model.ExecutionConsistent)

	res, err := f.ctrl.Run(context.Background(), state, nil)
	require.NoError(t, err)

	assert.Equal(t, []State{StateInspect, StateDone}, res.Trace)
	assert.Equal(t, []string{"All good. Inspection message: 40 tasks done"}, f.alerter.messages)
	assert.Zero(t, state.RecursionAttempts)
	assert.Empty(t, f.initiator.calls)
	assert.Empty(t, f.sleeper.slept)
}

// TestRetry_EscalatesAtMax covers attempts 1 and 2 retrying and attempt 3
// escalating with MAX=3.
func TestRetry_EscalatesAtMax(t *testing.T) {
	f := newRetryFixture(3,
		repeated("t1", "t2"),
		repeated("t2"),
		repeated("t2"),
	)
	state := model.NewRunState("r", model.ExecutionConsistent)
	ports := model.NewDynamicPortSet("127.0.0.1", []int{20001})

	res, err := f.ctrl.Run(context.Background(), state, ports)
	require.NoError(t, err)

	assert.Equal(t, []State{
		StateInspect, StateRetryWait,
		StateInspect, StateRetryWait,
		StateInspect, StateEscalate,
		StateDone,
	}, res.Trace)
	assert.Equal(t, 3, state.RecursionAttempts)
	assert.True(t, state.RecursionExhausted)

	assert.Equal(t, []time.Duration{20 * time.Second, 20 * time.Second}, f.sleeper.slept)
	require.Len(t, f.initiator.calls, 2)
	assert.Equal(t, []model.TaskRef{"t1", "t2"}, f.initiator.calls[0].repeated)
	assert.Equal(t, []string{"tcp://127.0.0.1:20001"}, f.initiator.calls[0].endpoints, "same ports are reused")
	assert.Equal(t, []model.TaskRef{"t2"}, f.initiator.calls[1].repeated)

	require.Len(t, f.alerter.messages, 1)
	assert.Equal(t,
		"Client moduleX exceeded max recursion attempts constant (3) and finished. | Repeated tasks: [t2]",
		f.alerter.messages[0])

	logs := f.logs.String()
	assert.Contains(t, logs, "Client moduleX start to init tasks repeatedly. | Repeated tasks: [t1, t2]")
	assert.Contains(t, logs, "exceeded max recursion attempts constant (3)")

	assert.Equal(t, 2, f.observer.retries)
	assert.Equal(t, 1, f.observer.escalations)
}

func TestRetry_RecoversAfterRetry(t *testing.T) {
	f := newRetryFixture(3, repeated("t1"), clean("fixed"))
	state := model.NewRunState("r", model.ExecutionConsistent)

	res, err := f.ctrl.Run(context.Background(), state, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, state.RecursionAttempts)
	assert.False(t, state.RecursionExhausted)
	assert.Equal(t, StateDone, res.Trace[len(res.Trace)-1])
	assert.Equal(t, []string{"All good. Inspection message: fixed"}, f.alerter.messages)
}

// TestRetry_MaxOneEscalatesImmediately verifies the strict comparison.
func TestRetry_MaxOneEscalatesImmediately(t *testing.T) {
	f := newRetryFixture(1, repeated("t1"))
	state := model.NewRunState("r", model.ExecutionConsistent)

	res, err := f.ctrl.Run(context.Background(), state, nil)
	require.NoError(t, err)
	assert.Equal(t, []State{StateInspect, StateEscalate, StateDone}, res.Trace)
	assert.Empty(t, f.initiator.calls)
}

func TestRetry_MustTerminate(t *testing.T) {
	f := newRetryFixture(3, model.InspectionOutcome{InspectionMessage: "stop", MustTerminateProcess: true})

	res, err := f.ctrl.Run(context.Background(), model.NewRunState("r", model.ExecutionConsistent), nil)
	require.NoError(t, err)
	assert.True(t, res.MustTerminate)
}

func TestRetry_AlertFailureIsNotFatal(t *testing.T) {
	f := newRetryFixture(3, clean("ok"))
	f.alerter.err = errors.New("smtp down")

	_, err := f.ctrl.Run(context.Background(), model.NewRunState("r", model.ExecutionConsistent), nil)
	require.NoError(t, err)
	assert.Contains(t, f.logs.String(), "smtp down")
}

func TestRetry_InspectError(t *testing.T) {
	f := newRetryFixture(3)
	f.inspector.err = errors.New("report unreadable")

	_, err := f.ctrl.Run(context.Background(), model.NewRunState("r", model.ExecutionConsistent), nil)
	var taskErr *model.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "inspect", taskErr.Op)
}

func TestRetry_ReinitError(t *testing.T) {
	f := newRetryFixture(3, repeated("t1"))
	f.initiator.err = errors.New("exit status 1")

	_, err := f.ctrl.Run(context.Background(), model.NewRunState("r", model.ExecutionConsistent), nil)
	var taskErr *model.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "init", taskErr.Op)
}

func TestRetry_SleepCancelled(t *testing.T) {
	f := newRetryFixture(3, repeated("t1"))
	f.ctrl.sleep = contextSleep
	f.ctrl.policy = model.RetryPolicy{MaxRecursionAttempts: 3, MaxGetTaskAttempts: 60}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ctrl.Run(ctx, model.NewRunState("r", model.ExecutionConsistent), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.initiator.calls)
}

func TestContextSleep(t *testing.T) {
	require.NoError(t, contextSleep(context.Background(), time.Millisecond))
	require.NoError(t, contextSleep(context.Background(), 0))
}
