package port

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// busyProber reports the listed ports as bound on the host.
type busyProber map[int]bool

func (b busyProber) FindAvailablePort(startPort, endPort int, _ string) (int, error) {
	for port := startPort; port <= endPort; port++ {
		if !b[port] {
			return port, nil
		}
	}
	return 0, errors.New("no available port")
}

// TestLocalPool_RequestSkipsBusyAndUsed verifies that host-bound ports and
// ports already claimed for the class are skipped.
func TestLocalPool_RequestSkipsBusyAndUsed(t *testing.T) {
	ctx := context.Background()
	pool := NewLocalPool(busyProber{20001: true}, 20000, 20010)

	first, err := pool.RequestFreePorts(ctx, 2, "reports")
	require.NoError(t, err)
	assert.Equal(t, []int{20000, 20002}, first)

	second, err := pool.RequestFreePorts(ctx, 2, "reports")
	require.NoError(t, err)
	assert.Equal(t, []int{20003, 20004}, second)

	assert.Equal(t, []int{20000, 20002, 20003, 20004}, pool.Used("reports"))
}

// TestLocalPool_ClassesAreIndependent verifies bookkeeping is per class.
func TestLocalPool_ClassesAreIndependent(t *testing.T) {
	ctx := context.Background()
	pool := NewLocalPool(busyProber{}, 20000, 20000)

	a, err := pool.RequestFreePorts(ctx, 1, "a")
	require.NoError(t, err)
	b, err := pool.RequestFreePorts(ctx, 1, "b")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// TestLocalPool_ExhaustedClaimsNothing verifies the all-or-nothing rule.
func TestLocalPool_ExhaustedClaimsNothing(t *testing.T) {
	ctx := context.Background()
	pool := NewLocalPool(busyProber{}, 20000, 20001)

	_, err := pool.RequestFreePorts(ctx, 3, "reports")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool exhausted: 2 of 3")
	assert.Empty(t, pool.Used("reports"))
}

// TestLocalPool_Release verifies released ports become claimable again and
// unknown ports are reported as not freed.
func TestLocalPool_Release(t *testing.T) {
	ctx := context.Background()
	pool := NewLocalPool(busyProber{}, 20000, 20001)

	ports, err := pool.RequestFreePorts(ctx, 2, "reports")
	require.NoError(t, err)

	notFreed, err := pool.ReleasePorts(ctx, append(ports, 29999), "reports")
	require.NoError(t, err)
	assert.Equal(t, []int{29999}, notFreed)
	assert.Empty(t, pool.Used("reports"))

	again, err := pool.RequestFreePorts(ctx, 2, "reports")
	require.NoError(t, err)
	assert.Equal(t, ports, again)
}

func TestLocalPool_ZeroCount(t *testing.T) {
	pool := NewLocalPool(busyProber{}, 20000, 20001)
	ports, err := pool.RequestFreePorts(context.Background(), 0, "reports")
	require.NoError(t, err)
	assert.Empty(t, ports)
}

func TestLocalPool_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewLocalPool(busyProber{}, 20000, 20001)
	_, err := pool.RequestFreePorts(ctx, 1, "reports")
	assert.ErrorIs(t, err, context.Canceled)
}

// TestLocalPool_SkipsPortsBoundOnHost binds a port inside the range and
// verifies the pool hands out the ports around it.
func TestLocalPool_SkipsPortsBoundOnHost(t *testing.T) {
	scanner := NewScanner("")
	base, err := scanner.FindAvailablePort(53000, 53100, "tcp")
	require.NoError(t, err)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", base+1))
	if err != nil {
		t.Skip("could not bind test port")
	}
	defer func() { _ = ln.Close() }()

	pool := NewLocalPool(scanner, base, base+10)
	ports, err := pool.RequestFreePorts(context.Background(), 2, "reports")
	require.NoError(t, err)
	assert.Equal(t, base, ports[0])
	assert.NotContains(t, ports, base+1)
}
