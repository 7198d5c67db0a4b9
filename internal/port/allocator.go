package port

import (
	"context"

	"github.com/shinji-kodama/client-runner/internal/model"
)

// Allocator acquires and releases the PortSet of one client run.
//
// It holds the pool contract plus the two values that never change within
// a run: the pool resource class and the host used to qualify endpoints.
type Allocator struct {
	pool          Pool
	resourceClass string
	host          string
}

// NewAllocator creates an Allocator. pool may be nil for configurations
// that only ever use fixed ports; a DYNAMIC acquisition then fails with a
// PortAllocationError.
func NewAllocator(pool Pool, resourceClass, host string) *Allocator {
	return &Allocator{
		pool:          pool,
		resourceClass: resourceClass,
		host:          host,
	}
}

// Acquire obtains the ports for a run.
//
//   - PortsDynamic: requests requiredCount free ports from the pool. The
//     returned set holds them (they must be released) and exposes them as
//     tcp://host:port endpoints.
//   - PortsFixed: wraps a copy of fixed. Nothing is held from the pool;
//     popping past the end of the list fails with PortAllocationError.
//
// Any pool failure is returned as a PortAllocationError and nothing is
// held, so the caller has nothing to release.
func (a *Allocator) Acquire(ctx context.Context, mode model.PortInstallationMode, requiredCount int, fixed []string) (*model.PortSet, error) {
	switch mode {
	case model.PortsFixed:
		return model.NewFixedPortSet(fixed), nil

	case model.PortsDynamic:
		if a.pool == nil {
			return nil, &model.PortAllocationError{
				Requested:     requiredCount,
				ResourceClass: a.resourceClass,
				Reason:        "no port pool configured",
			}
		}
		ports, err := a.pool.RequestFreePorts(ctx, requiredCount, a.resourceClass)
		if err != nil {
			return nil, &model.PortAllocationError{
				Requested:     requiredCount,
				ResourceClass: a.resourceClass,
				Err:           err,
			}
		}
		return model.NewDynamicPortSet(a.host, ports), nil

	default:
		return nil, &model.PortAllocationError{
			Requested: requiredCount,
			Reason:    "unknown port installation mode " + string(mode),
		}
	}
}

// Release returns every pool port held by set.
//
// Returns nil when everything was freed (or nothing was held, as for fixed
// ports), otherwise a *model.PortReleaseIncompleteError naming exactly the
// ports that remain marked used. The error is non-fatal: callers log it.
func (a *Allocator) Release(ctx context.Context, set *model.PortSet) error {
	if !set.HoldsPoolPorts() {
		return nil
	}
	held := set.Held()
	if a.pool == nil {
		return &model.PortReleaseIncompleteError{Ports: held}
	}

	notFreed, err := a.pool.ReleasePorts(ctx, held, a.resourceClass)
	if err != nil {
		return &model.PortReleaseIncompleteError{Ports: held, Err: err}
	}
	if len(notFreed) > 0 {
		return &model.PortReleaseIncompleteError{Ports: notFreed}
	}
	return nil
}

// ValidateCount checks that a run holds exactly requiredCount pool ports.
// Only meaningful for DYNAMIC sets; FIXED assignment is externally
// guaranteed and always passes.
func ValidateCount(set *model.PortSet, requiredCount int) error {
	if set == nil || set.Mode() != model.PortsDynamic {
		return nil
	}
	if set.HeldCount() != requiredCount {
		return &model.PortCountMismatchError{Held: set.HeldCount(), Required: requiredCount}
	}
	return nil
}
