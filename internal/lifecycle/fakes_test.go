package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/shinji-kodama/client-runner/internal/model"
)

type fakePool struct {
	ports      []int
	requestErr error
	notFreed   []int

	requested []int
	released  [][]int
}

func (p *fakePool) RequestFreePorts(_ context.Context, count int, _ string) ([]int, error) {
	p.requested = append(p.requested, count)
	if p.requestErr != nil {
		return nil, p.requestErr
	}
	return p.ports, nil
}

func (p *fakePool) ReleasePorts(_ context.Context, ports []int, _ string) ([]int, error) {
	p.released = append(p.released, ports)
	return p.notFreed, nil
}

type fakeTable struct {
	running bool
	err     error
	calls   int
}

func (t *fakeTable) IsProcessRunning(context.Context, string) (bool, error) {
	t.calls++
	return t.running, t.err
}

type initCall struct {
	endpoints []string
	repeated  []model.TaskRef
}

type fakeInitiator struct {
	err   error
	calls []initCall
}

func (i *fakeInitiator) InitTasks(_ context.Context, ports *model.PortSet, repeated []model.TaskRef) error {
	var eps []string
	if ports != nil {
		eps = ports.Endpoints()
	}
	i.calls = append(i.calls, initCall{endpoints: eps, repeated: repeated})
	return i.err
}

// fakeInspector returns the scripted outcomes in order, then repeats the
// last one.
type fakeInspector struct {
	outcomes []model.InspectionOutcome
	err      error
	calls    int
}

func (i *fakeInspector) Inspect(context.Context) (model.InspectionOutcome, error) {
	i.calls++
	if i.err != nil {
		return model.InspectionOutcome{}, i.err
	}
	idx := i.calls - 1
	if idx >= len(i.outcomes) {
		idx = len(i.outcomes) - 1
	}
	return i.outcomes[idx], nil
}

type fakeAlerter struct {
	err      error
	messages []string
}

func (a *fakeAlerter) SendAttentionMail(_ context.Context, msg string) error {
	a.messages = append(a.messages, msg)
	return a.err
}

type recordingSleeper struct {
	slept []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}

type fakeObserver struct {
	runs            []string
	retries         int
	escalations     int
	releaseFailures []int
}

func (o *fakeObserver) ObserveRun(outcome string, _ time.Duration) { o.runs = append(o.runs, outcome) }
func (o *fakeObserver) ObserveRetry()                               { o.retries++ }
func (o *fakeObserver) ObserveEscalation()                          { o.escalations++ }
func (o *fakeObserver) ObserveReleaseFailure(n int)                 { o.releaseFailures = append(o.releaseFailures, n) }

var errPoolExhausted = errors.New("pool exhausted: 2 of 3 port(s) free")

func clean(msg string) model.InspectionOutcome {
	return model.InspectionOutcome{InspectionMessage: msg}
}

func repeated(tasks ...model.TaskRef) model.InspectionOutcome {
	return model.InspectionOutcome{CreatedTasks: tasks}
}
