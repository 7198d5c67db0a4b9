package port

import (
	"fmt"
	"net"
	"strconv"
)

// Prober finds free ports on the host. Scanner is the real implementation;
// tests substitute fakes so pool logic can run without binding sockets.
type Prober interface {
	FindAvailablePort(startPort, endPort int, protocol string) (int, error)
}

// Scanner checks whether specific ports are available on the host machine.
//
// It uses the operating system's network stack (net.Listen / net.ListenPacket)
// to determine if a port is free. This asks the OS directly, rather than
// parsing /proc/net/* or relying on external commands like `lsof` or `ss`
// which may require elevated permissions.
//
// A Scanner only answers "is it free right now". Nothing is reserved: the
// LocalPool keeps its own record of ports handed out to runs, and the redis
// pool coordinates between processes.
type Scanner struct {
	// bindHost is the address probed. Empty means all interfaces, which is
	// the strictest check: a port bound on any interface is reported busy.
	bindHost string
}

// NewScanner creates a Scanner.
//
// Parameters:
//   - bindHost: the address to probe, or "" for all interfaces. Clients
//     usually listen on 0.0.0.0, so "" catches the most conflicts.
func NewScanner(bindHost string) *Scanner {
	return &Scanner{bindHost: bindHost}
}

// IsPortAvailable checks whether a single port is free on the host.
//
// For TCP, it attempts net.Listen; for UDP, net.ListenPacket. If the bind
// succeeds the port is available and the listener is closed immediately,
// since it was only needed to test availability.
//
// Parameters:
//   - port: the port number to check (1-65535)
//   - protocol: "tcp" or "udp"
//
// Returns true if the port is free, false if it is already in use, out of
// range, or the protocol is unknown (treated as unavailable to fail safe).
func (s *Scanner) IsPortAvailable(port int, protocol string) bool {
	if port < 1 || port > 65535 {
		return false
	}
	addr := net.JoinHostPort(s.bindHost, strconv.Itoa(port))

	switch protocol {
	case "tcp":
		// Fails with "address already in use" when another process holds it.
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return false
		}
		_ = listener.Close()
		return true

	case "udp":
		// UDP is connectionless, so ListenPacket replaces Listen.
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true

	default:
		return false
	}
}

// FindAvailablePort scans [startPort, endPort] (inclusive) and returns the
// first port available for the given protocol.
//
// The search is sequential from startPort upward, so the same free port is
// selected consistently, which keeps allocations reproducible in logs.
// LocalPool calls it repeatedly, resuming one past the last hit, to collect
// the ports of a run.
//
// Parameters:
//   - startPort, endPort: the inclusive range to search
//   - protocol: "tcp" or "udp"
//
// Returns an error if no available port is found in the entire range. The
// pool turns that into a PortAllocationError (exit code 3).
func (s *Scanner) FindAvailablePort(startPort, endPort int, protocol string) (int, error) {
	for port := startPort; port <= endPort; port++ {
		if s.IsPortAvailable(port, protocol) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available %s port found in range %d-%d", protocol, startPort, endPort)
}
