package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseExecutionMode verifies case-insensitive parsing and rejection
// of unknown values.
func TestParseExecutionMode(t *testing.T) {
	tests := []struct {
		input   string
		want    ExecutionMode
		wantErr bool
	}{
		{input: "consistent", want: ExecutionConsistent},
		{input: "PARALLEL", want: ExecutionParallel},
		{input: "  Consistent ", want: ExecutionConsistent},
		{input: "serial", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseExecutionMode(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePortInstallationMode(t *testing.T) {
	got, err := ParsePortInstallationMode("FIXED")
	require.NoError(t, err)
	assert.Equal(t, PortsFixed, got)

	_, err = ParsePortInstallationMode("static")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dynamic, fixed")
}

func TestParseDuplicatePolicy(t *testing.T) {
	got, err := ParseDuplicatePolicy("proceed")
	require.NoError(t, err)
	assert.Equal(t, DuplicateProceed, got)

	_, err = ParseDuplicatePolicy("ignore")
	assert.Error(t, err)
}

func TestFormatTaskRefs(t *testing.T) {
	assert.Equal(t, "[]", FormatTaskRefs(nil))
	assert.Equal(t, "[a]", FormatTaskRefs([]TaskRef{"a"}))
	assert.Equal(t, "[a, b]", FormatTaskRefs([]TaskRef{"a", "b"}))
}

// TestRetryPolicy_Backoff verifies the backoff is the sum of both
// constants, expressed in seconds.
func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxRecursionAttempts: 3, MaxGetTaskAttempts: 10, AdditionalSleepTime: 5}
	assert.Equal(t, 15*time.Second, p.Backoff())
}

func TestTCPEndpoint(t *testing.T) {
	assert.Equal(t, "tcp://127.0.0.1:20001", TCPEndpoint("127.0.0.1", 20001))
	assert.Equal(t, "tcp://[::1]:20001", TCPEndpoint("::1", 20001))
}

func TestEffectiveConfig_FixedPortsCopy(t *testing.T) {
	cfg := EffectiveConfig{FixedPorts: []string{"a", "b"}}
	cp := cfg.FixedPortsCopy()
	cp[0] = "mutated"
	assert.Equal(t, "a", cfg.FixedPorts[0], "copy must not alias the config slice")
}

// TestDynamicPortSet verifies host qualification and that popping endpoints
// does not shrink the held (to-be-released) ports.
func TestDynamicPortSet(t *testing.T) {
	set := NewDynamicPortSet("127.0.0.1", []int{20001, 20002, 20003})

	assert.Equal(t, PortsDynamic, set.Mode())
	assert.True(t, set.HoldsPoolPorts())
	assert.Equal(t, 3, set.HeldCount())
	assert.Equal(t, []string{
		"tcp://127.0.0.1:20001",
		"tcp://127.0.0.1:20002",
		"tcp://127.0.0.1:20003",
	}, set.Endpoints())

	ep, err := set.Next()
	require.NoError(t, err)
	assert.Equal(t, "tcp://127.0.0.1:20003", ep, "Next pops from the end")
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, []int{20001, 20002, 20003}, set.Held())
}

// TestFixedPortSet_Exhausted verifies fixed entries are returned verbatim
// and that demanding a port from an empty list is a PortAllocationError.
func TestFixedPortSet_Exhausted(t *testing.T) {
	set := NewFixedPortSet([]string{"tcp://10.0.0.5:7001"})
	assert.False(t, set.HoldsPoolPorts())

	ep, err := set.Next()
	require.NoError(t, err)
	assert.Equal(t, "tcp://10.0.0.5:7001", ep)

	_, err = set.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPortAllocation)
	assert.Contains(t, err.Error(), "fixed port list exhausted")
}

func TestPortSet_NilHoldsNothing(t *testing.T) {
	var set *PortSet
	assert.False(t, set.HoldsPoolPorts())
}

// TestErrorTaxonomy verifies each typed error matches its sentinel through
// arbitrary wrapping.
func TestErrorTaxonomy(t *testing.T) {
	alloc := fmt.Errorf("handle ports: %w", &PortAllocationError{Requested: 3, ResourceClass: "reports", Err: errors.New("pool exhausted")})
	assert.ErrorIs(t, alloc, ErrPortAllocation)
	assert.Contains(t, alloc.Error(), `requested 3 port(s) of class "reports": pool exhausted`)

	mismatch := fmt.Errorf("prepare: %w", &PortCountMismatchError{Held: 2, Required: 3})
	assert.ErrorIs(t, mismatch, ErrPortCountMismatch)
	assert.NotErrorIs(t, mismatch, ErrPortAllocation)

	release := &PortReleaseIncompleteError{Ports: []int{20001, 20003}}
	assert.ErrorIs(t, release, ErrPortReleaseIncomplete)
	assert.Contains(t, release.Error(), "[20001 20003]")

	var taskErr *TaskError
	wrapped := fmt.Errorf("run: %w", &TaskError{Op: "init", Err: errors.New("exit status 2")})
	require.ErrorAs(t, wrapped, &taskErr)
	assert.Equal(t, "init", taskErr.Op)
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ExitCode
	}{
		{name: "nil", err: nil, want: ExitSuccess},
		{name: "allocation", err: &PortAllocationError{}, want: ExitPortAllocationFailed},
		{name: "mismatch", err: &PortCountMismatchError{}, want: ExitPortCountMismatch},
		{name: "already running", err: fmt.Errorf("x: %w", ErrAlreadyRunning), want: ExitAlreadyRunning},
		{name: "task", err: &TaskError{Op: "inspect", Err: errors.New("bad json")}, want: ExitTaskFailed},
		{name: "cli error wins", err: WrapCLIError(ExitConfigInvalid, "bad config", &PortAllocationError{}), want: ExitConfigInvalid},
		{name: "other", err: errors.New("boom"), want: ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err))
		})
	}
}

// TestCLIError verifies the message format and unwrapping behaviour.
func TestCLIError(t *testing.T) {
	inner := errors.New("connection refused")
	err := WrapCLIError(ExitGeneralError, "redis unreachable", inner)

	assert.Equal(t, "redis unreachable: connection refused", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "plain", NewCLIError(ExitGeneralError, "plain").Error())
}
