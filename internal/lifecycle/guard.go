package lifecycle

import (
	"context"
	"fmt"

	"github.com/shinji-kodama/client-runner/internal/model"
	"github.com/shinji-kodama/client-runner/internal/proctable"
)

// DuplicateRunGuard decides whether this invocation may proceed given
// other running instances of the same client.
type DuplicateRunGuard struct {
	table proctable.Table
}

// NewDuplicateRunGuard creates a guard. A nil table disables the lookup:
// consistent runs are then always allowed.
func NewDuplicateRunGuard(table proctable.Table) *DuplicateRunGuard {
	return &DuplicateRunGuard{table: table}
}

// Resolve returns true when the invocation may proceed.
//
// Parallel runs always proceed. Consistent runs query the process table
// the first time only; state.DuplicateCheckPerformed makes every later
// call within the same invocation return true without a query, so a run
// never detects its own retries. A lookup error is returned as is and
// still counts as the one check.
func (g *DuplicateRunGuard) Resolve(ctx context.Context, state *model.RunState, name string) (bool, error) {
	if state.ExecutionMode == model.ExecutionParallel {
		return true, nil
	}
	if state.DuplicateCheckPerformed {
		return true, nil
	}
	state.DuplicateCheckPerformed = true

	if g.table == nil {
		return true, nil
	}

	running, err := g.table.IsProcessRunning(ctx, name)
	if err != nil {
		return false, fmt.Errorf("duplicate-run check for %q: %w", name, err)
	}
	state.AlreadyRunning = running
	return !running, nil
}
