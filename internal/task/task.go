package task

import (
	"context"

	"github.com/shinji-kodama/client-runner/internal/model"
)

// Initiator starts task creation. repeated is empty on the first call and
// carries the tasks reported by the previous inspection on re-initiation.
type Initiator interface {
	InitTasks(ctx context.Context, ports *model.PortSet, repeated []model.TaskRef) error
}

// Inspector returns the outcome of the most recent task creation.
type Inspector interface {
	Inspect(ctx context.Context) (model.InspectionOutcome, error)
}

// Alerter delivers attention messages to operators.
type Alerter interface {
	SendAttentionMail(ctx context.Context, message string) error
}
