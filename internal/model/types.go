package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ExecutionMode controls whether a client may overlap with another
// invocation of itself.
//
//   - ExecutionConsistent: duplicate-run checking is enforced (serialized runs).
//   - ExecutionParallel: parallel invocations are expected, the check is skipped.
type ExecutionMode string

const (
	// ExecutionConsistent forces duplicate-run checking against the process table.
	ExecutionConsistent ExecutionMode = "consistent"

	// ExecutionParallel allows multiple independent invocations of the same
	// client. Only valid together with dynamic port installation.
	ExecutionParallel ExecutionMode = "parallel"
)

// String returns the string representation of ExecutionMode.
func (m ExecutionMode) String() string {
	return string(m)
}

// IsValid checks whether the ExecutionMode is one of the predefined modes.
func (m ExecutionMode) IsValid() bool {
	switch m {
	case ExecutionConsistent, ExecutionParallel:
		return true
	default:
		return false
	}
}

// ParseExecutionMode converts a string to an ExecutionMode.
// Matching is case-insensitive so "CONSISTENT" from older configs works.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	mode := ExecutionMode(strings.ToLower(strings.TrimSpace(s)))
	if !mode.IsValid() {
		return "", fmt.Errorf("invalid execution mode: %q (valid: consistent, parallel)", s)
	}
	return mode, nil
}

// PortInstallationMode selects where the ports of a run come from.
type PortInstallationMode string

const (
	// PortsDynamic pulls N ports from the shared pool at run start and
	// returns them at the end of the run.
	PortsDynamic PortInstallationMode = "dynamic"

	// PortsFixed uses a pre-assigned list owned by the caller. Nothing is
	// drawn from (or returned to) the pool.
	PortsFixed PortInstallationMode = "fixed"
)

// String returns the string representation of PortInstallationMode.
func (m PortInstallationMode) String() string {
	return string(m)
}

// IsValid checks whether the PortInstallationMode is one of the predefined modes.
func (m PortInstallationMode) IsValid() bool {
	switch m {
	case PortsDynamic, PortsFixed:
		return true
	default:
		return false
	}
}

// ParsePortInstallationMode converts a string to a PortInstallationMode.
func ParsePortInstallationMode(s string) (PortInstallationMode, error) {
	mode := PortInstallationMode(strings.ToLower(strings.TrimSpace(s)))
	if !mode.IsValid() {
		return "", fmt.Errorf("invalid port installation mode: %q (valid: dynamic, fixed)", s)
	}
	return mode, nil
}

// DuplicatePolicy decides what the lifecycle does once the duplicate-run
// guard reports that another instance is already running.
type DuplicatePolicy string

const (
	// DuplicateAbort stops the invocation before any task is initiated.
	// Held ports are still released.
	DuplicateAbort DuplicatePolicy = "abort"

	// DuplicateProceed records the detection (RunState.AlreadyRunning) and
	// logs it, then initiates tasks anyway.
	DuplicateProceed DuplicatePolicy = "proceed"
)

// String returns the string representation of DuplicatePolicy.
func (p DuplicatePolicy) String() string {
	return string(p)
}

// IsValid checks whether the DuplicatePolicy is one of the predefined policies.
func (p DuplicatePolicy) IsValid() bool {
	switch p {
	case DuplicateAbort, DuplicateProceed:
		return true
	default:
		return false
	}
}

// ParseDuplicatePolicy converts a string to a DuplicatePolicy.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("invalid duplicate policy: %q (valid: abort, proceed)", s)
	}
	return p, nil
}

// TaskRef identifies one task created by the external task system.
// The runner never interprets it; it is only logged, alerted and handed
// back to the initiator on re-initiation.
type TaskRef string

// FormatTaskRefs renders a task list for log lines and attention mails.
// Example: "[build-7, build-9]". An empty list renders as "[]".
func FormatTaskRefs(tasks []TaskRef) string {
	parts := make([]string, 0, len(tasks))
	for _, t := range tasks {
		parts = append(parts, string(t))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// InspectionOutcome is the result of one inspection pass. It is produced
// fresh by every inspection and only feeds the retry decision that follows.
type InspectionOutcome struct {
	// CreatedTasks lists tasks the inspector found created (i.e. repeated
	// or still incomplete work). Empty means the run completed cleanly.
	CreatedTasks []TaskRef `json:"createdTasks"`

	// InspectionMessage is the inspector's own completion summary.
	InspectionMessage string `json:"inspectionMessage"`

	// MustTerminateProcess is the out-of-band kill switch set by the
	// inspector under operational command.
	MustTerminateProcess bool `json:"mustDie"`
}

// HasCreatedTasks reports whether the inspection found remaining work.
func (o InspectionOutcome) HasCreatedTasks() bool {
	return len(o.CreatedTasks) > 0
}

// RunState is the per-invocation record. It is created at invocation start,
// mutated by the lifecycle phases and discarded at invocation end.
type RunState struct {
	// RunID uniquely identifies the invocation in logs and in the port pool.
	RunID string `json:"runId"`

	// ExecutionMode is the effective mode (after the FIXED→CONSISTENT override).
	ExecutionMode ExecutionMode `json:"executionMode"`

	// DuplicateCheckPerformed is set once the process table was queried.
	// The guard never queries twice within one invocation.
	DuplicateCheckPerformed bool `json:"duplicateCheckPerformed"`

	// AlreadyRunning records the result of the duplicate-run check.
	AlreadyRunning bool `json:"alreadyRunning"`

	// RecursionAttempts counts non-empty inspections. Monotonically
	// non-decreasing within one invocation.
	RecursionAttempts int `json:"recursionAttempts"`

	// RecursionExhausted is set when the retry ceiling was reached and the
	// escalation fired.
	RecursionExhausted bool `json:"recursionExhausted"`
}

// NewRunState creates the record for a fresh invocation.
func NewRunState(runID string, mode ExecutionMode) *RunState {
	return &RunState{
		RunID:         runID,
		ExecutionMode: mode,
	}
}

// RetryPolicy holds the bounded-retry constants of the inspection loop.
type RetryPolicy struct {
	// MaxRecursionAttempts is the ceiling compared with strict "<":
	// escalation fires on the detection that brings attempts to this value.
	MaxRecursionAttempts int `json:"maxRecursionAttempts"`

	// MaxGetTaskAttempts and AdditionalSleepTime (both seconds) add up to
	// the fixed backoff slept before each re-initiation.
	MaxGetTaskAttempts  int `json:"maxGetTaskAttempts"`
	AdditionalSleepTime int `json:"additionalSleepTime"`
}

// Backoff returns the fixed delay slept in the retry-wait state.
func (p RetryPolicy) Backoff() time.Duration {
	return time.Duration(p.MaxGetTaskAttempts+p.AdditionalSleepTime) * time.Second
}

// EffectiveConfig is the single immutable configuration value consumed by
// the lifecycle. It is produced once by config resolution, after all
// normalization (notably FIXED forcing CONSISTENT) has been applied.
type EffectiveConfig struct {
	// ModuleName is the process identity: used for logging context and for
	// the process-table duplicate check.
	ModuleName string `json:"module"`

	ExecutionMode ExecutionMode `json:"executionMode"`

	// ExecutionOverridden is true when a configured parallel mode was
	// replaced by consistent because ports are fixed.
	ExecutionOverridden bool `json:"executionOverridden"`

	DuplicatePolicy DuplicatePolicy `json:"duplicatePolicy"`

	PortInstallation PortInstallationMode `json:"portInstallation"`

	// RequiredPorts is the declared number of ports a DYNAMIC run must hold.
	RequiredPorts int `json:"requiredPorts"`

	// FixedPorts are the caller-supplied endpoints, only used when FIXED.
	FixedPorts []string `json:"fixedPorts,omitempty"`

	// ResourceClass identifies the pool partition the ports come from.
	ResourceClass string `json:"resourceClass"`

	// PortHost qualifies DYNAMIC ports into connectable endpoints.
	PortHost string `json:"portHost"`

	Retry RetryPolicy `json:"retry"`
}

// FixedPortsCopy returns a copy of the fixed port list so callers can pop
// from it without mutating the shared configuration value.
func (c EffectiveConfig) FixedPortsCopy() []string {
	return append([]string(nil), c.FixedPorts...)
}

// TCPEndpoint formats a pool port as a connectable endpoint,
// e.g. "tcp://127.0.0.1:20001". IPv6 hosts are bracketed.
func TCPEndpoint(host string, port int) string {
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// ContainerInfo holds runtime information about a Docker container that
// carries client-runner module labels. Fetched from the Docker API, never
// persisted.
type ContainerInfo struct {
	// ContainerID is the unique Docker container identifier.
	ContainerID string `json:"containerId"`

	// ContainerName is the human-readable Docker container name.
	ContainerName string `json:"containerName"`

	// Status is the Docker container state (e.g., "running", "exited").
	Status string `json:"status"`

	// Labels is the full set of Docker labels on the container.
	Labels map[string]string `json:"labels,omitempty"`
}
