package port

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Pool is the shared port pool as seen by one client.
//
// RequestFreePorts either claims exactly count ports of the resource class
// and marks them used, or fails without claiming anything.
//
// ReleasePorts marks ports free again and returns the ports it could not
// confirm freed (unknown to the pool, or owned by nobody). An error means
// the pool could not be asked at all; the caller treats every port as
// still used in that case.
type Pool interface {
	RequestFreePorts(ctx context.Context, count int, resourceClass string) ([]int, error)
	ReleasePorts(ctx context.Context, ports []int, resourceClass string) ([]int, error)
}

// LocalPool is an in-process Pool over a port range. Availability is
// checked with a Prober (the host Scanner by default) and "used" status is
// kept in memory, so it only coordinates runs inside one process, e.g.
// ticks of `client-runner schedule`. Cross-process coordination needs the
// redis backend.
type LocalPool struct {
	prober     Prober
	rangeStart int
	rangeEnd   int

	mu   sync.Mutex
	used map[string]map[int]struct{}
}

// NewLocalPool creates a LocalPool over [rangeStart, rangeEnd].
func NewLocalPool(prober Prober, rangeStart, rangeEnd int) *LocalPool {
	return &LocalPool{
		prober:     prober,
		rangeStart: rangeStart,
		rangeEnd:   rangeEnd,
		used:       make(map[string]map[int]struct{}),
	}
}

// RequestFreePorts claims count ports that are neither marked used for the
// resource class nor bound on the host. Ports are picked in ascending
// order. If fewer than count are found nothing is claimed.
func (p *LocalPool) RequestFreePorts(ctx context.Context, count int, resourceClass string) ([]int, error) {
	if count <= 0 {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	used := p.used[resourceClass]
	picked := make([]int, 0, count)
	for next := p.rangeStart; next <= p.rangeEnd && len(picked) < count; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		port, err := p.prober.FindAvailablePort(next, p.rangeEnd, "tcp")
		if err != nil {
			break
		}
		next = port + 1
		if _, taken := used[port]; taken {
			continue
		}
		picked = append(picked, port)
	}

	if len(picked) < count {
		return nil, fmt.Errorf("pool exhausted: %d of %d port(s) free in range %d-%d",
			len(picked), count, p.rangeStart, p.rangeEnd)
	}

	if used == nil {
		used = make(map[int]struct{}, count)
		p.used[resourceClass] = used
	}
	for _, port := range picked {
		used[port] = struct{}{}
	}
	return picked, nil
}

// ReleasePorts unmarks ports. Ports that were not marked used are
// returned as not freed.
func (p *LocalPool) ReleasePorts(_ context.Context, ports []int, resourceClass string) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	used := p.used[resourceClass]
	var notFreed []int
	for _, port := range ports {
		if _, ok := used[port]; !ok {
			notFreed = append(notFreed, port)
			continue
		}
		delete(used, port)
	}
	return notFreed, nil
}

// Used returns the ports currently marked used for the resource class,
// sorted ascending.
func (p *LocalPool) Used(resourceClass string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]int, 0, len(p.used[resourceClass]))
	for port := range p.used[resourceClass] {
		out = append(out, port)
	}
	sort.Ints(out)
	return out
}
