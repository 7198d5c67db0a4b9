package lifecycle

import "time"

// Run outcomes reported to the Observer.
const (
	OutcomeSuccess              = "success"
	OutcomeEscalated            = "escalated"
	OutcomeTerminated           = "terminated"
	OutcomeAlreadyRunning       = "already_running"
	OutcomePortAllocationFailed = "port_allocation_failed"
	OutcomePortCountMismatch    = "port_count_mismatch"
	OutcomeTaskFailed           = "task_failed"
	OutcomeError                = "error"
)

// Observer receives lifecycle events, e.g. for metrics.
type Observer interface {
	ObserveRun(outcome string, duration time.Duration)
	ObserveRetry()
	ObserveEscalation()
	ObserveReleaseFailure(ports int)
}

type nopObserver struct{}

func (nopObserver) ObserveRun(string, time.Duration) {}
func (nopObserver) ObserveRetry()                    {}
func (nopObserver) ObserveEscalation()               {}
func (nopObserver) ObserveReleaseFailure(int)        {}
