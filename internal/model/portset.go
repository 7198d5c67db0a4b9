package model

// PortSet is the ordered set of ports held by one client run. It is owned
// exclusively by the running invocation and released at the end of the run.
//
// Two views are kept:
//   - held: ports drawn from the shared pool (DYNAMIC only). These are what
//     must be returned to the pool on every exit path.
//   - endpoints: connectable addresses handed to the tasks. For DYNAMIC
//     they are host-qualified pool ports; for FIXED they are the caller's
//     entries verbatim (host qualification is the caller's responsibility).
type PortSet struct {
	mode      PortInstallationMode
	held      []int
	endpoints []string
}

// NewDynamicPortSet builds a PortSet from pool ports, qualifying each one
// with host (see TCPEndpoint).
func NewDynamicPortSet(host string, ports []int) *PortSet {
	endpoints := make([]string, 0, len(ports))
	for _, p := range ports {
		endpoints = append(endpoints, TCPEndpoint(host, p))
	}
	return &PortSet{
		mode:      PortsDynamic,
		held:      append([]int(nil), ports...),
		endpoints: endpoints,
	}
}

// NewFixedPortSet builds a PortSet over a caller-supplied list. Nothing is
// held from the pool, so releasing it is a no-op.
func NewFixedPortSet(fixed []string) *PortSet {
	return &PortSet{
		mode:      PortsFixed,
		endpoints: append([]string(nil), fixed...),
	}
}

// Mode returns the installation mode the set was built for.
func (s *PortSet) Mode() PortInstallationMode {
	return s.mode
}

// Held returns a copy of the pool ports held by this run.
func (s *PortSet) Held() []int {
	return append([]int(nil), s.held...)
}

// HeldCount returns the number of pool ports held by this run.
func (s *PortSet) HeldCount() int {
	return len(s.held)
}

// HoldsPoolPorts reports whether anything must be returned to the pool.
func (s *PortSet) HoldsPoolPorts() bool {
	return s != nil && len(s.held) > 0
}

// Endpoints returns a copy of the endpoints not yet popped by Next.
func (s *PortSet) Endpoints() []string {
	return append([]string(nil), s.endpoints...)
}

// Len returns the number of endpoints not yet popped.
func (s *PortSet) Len() int {
	return len(s.endpoints)
}

// Next pops one endpoint from the end of the list. Popping does not give
// the port back to the pool; the port stays held until Release.
//
// Returns a PortAllocationError when the list is exhausted.
func (s *PortSet) Next() (string, error) {
	if len(s.endpoints) == 0 {
		return "", &PortAllocationError{
			Requested: 1,
			Reason:    s.mode.String() + " port list exhausted",
		}
	}
	last := len(s.endpoints) - 1
	ep := s.endpoints[last]
	s.endpoints = s.endpoints[:last]
	return ep, nil
}

// Clone returns an independent copy, so endpoints can be popped for one
// task initiation without consuming the run's set.
func (s *PortSet) Clone() *PortSet {
	return &PortSet{
		mode:      s.mode,
		held:      s.Held(),
		endpoints: s.Endpoints(),
	}
}
