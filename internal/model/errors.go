package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinels for errors.Is checks. The typed errors below match them so
// callers can branch on the category without unwrapping the details.
var (
	// ErrPortAllocation matches any PortAllocationError.
	ErrPortAllocation = errors.New("port allocation failed")

	// ErrPortCountMismatch matches any PortCountMismatchError.
	ErrPortCountMismatch = errors.New("held ports do not match required count")

	// ErrPortReleaseIncomplete matches any PortReleaseIncompleteError.
	ErrPortReleaseIncomplete = errors.New("not all used ports were freed")

	// ErrAlreadyRunning is returned when the duplicate-run guard found
	// another instance and the duplicate policy is abort.
	ErrAlreadyRunning = errors.New("client is already running")
)

// PortAllocationError is fatal: the pool could not satisfy the request (or
// a fixed list ran out). The run aborts before any task work.
type PortAllocationError struct {
	Requested     int
	ResourceClass string
	Reason        string
	Err           error
}

func (e *PortAllocationError) Error() string {
	var b strings.Builder
	b.WriteString("port allocation failed")
	if e.Requested > 0 {
		fmt.Fprintf(&b, ": requested %d port(s)", e.Requested)
	}
	if e.ResourceClass != "" {
		fmt.Fprintf(&b, " of class %q", e.ResourceClass)
	}
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *PortAllocationError) Unwrap() error { return e.Err }

func (e *PortAllocationError) Is(target error) bool { return target == ErrPortAllocation }

// PortCountMismatchError is fatal: a DYNAMIC run holds a different number
// of ports than it declared. Raised after acquisition, so release still runs.
type PortCountMismatchError struct {
	Held     int
	Required int
}

func (e *PortCountMismatchError) Error() string {
	return fmt.Sprintf("free ports number (%d) is not equal to required number (%d)", e.Held, e.Required)
}

func (e *PortCountMismatchError) Is(target error) bool { return target == ErrPortCountMismatch }

// PortReleaseIncompleteError is non-fatal: some held ports could not be
// confirmed freed. It is only ever logged.
type PortReleaseIncompleteError struct {
	// Ports lists exactly the ports that remain marked used.
	Ports []int
	Err   error
}

func (e *PortReleaseIncompleteError) Error() string {
	msg := "not all used ports were freed: still used " + FormatPorts(e.Ports)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PortReleaseIncompleteError) Unwrap() error { return e.Err }

func (e *PortReleaseIncompleteError) Is(target error) bool { return target == ErrPortReleaseIncomplete }

// TaskError wraps a failure of the external task system: either starting
// task creation (Op "init") or inspecting its result (Op "inspect").
type TaskError struct {
	Op  string
	Err error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.Op, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// FormatPorts renders a port list as "[20001 20002]" for log and error text.
func FormatPorts(ports []int) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, strconv.Itoa(p))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// ExitCode defines standard CLI exit codes. These codes let cron wrappers
// and monitoring tell the outcome of an invocation apart.
type ExitCode int

const (
	// ExitSuccess indicates the invocation completed (including a normal
	// escalation after the retry ceiling, which is not a crash).
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigInvalid indicates the configuration file is missing or invalid.
	ExitConfigInvalid ExitCode = 2

	// ExitPortAllocationFailed indicates the pool could not provide ports.
	ExitPortAllocationFailed ExitCode = 3

	// ExitPortCountMismatch indicates the held ports differ from the
	// required count.
	ExitPortCountMismatch ExitCode = 4

	// ExitAlreadyRunning indicates another instance was detected and the
	// duplicate policy is abort.
	ExitAlreadyRunning ExitCode = 5

	// ExitTaskFailed indicates task initiation or inspection failed.
	ExitTaskFailed ExitCode = 6

	// ExitTerminated indicates the inspector requested an immediate stop.
	ExitTerminated ExitCode = 7
)

// ExitCodeFor maps a lifecycle error onto the CLI exit code.
func ExitCodeFor(err error) ExitCode {
	var cliErr *CLIError
	var taskErr *TaskError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &cliErr):
		return cliErr.Code
	case errors.Is(err, ErrPortAllocation):
		return ExitPortAllocationFailed
	case errors.Is(err, ErrPortCountMismatch):
		return ExitPortCountMismatch
	case errors.Is(err, ErrAlreadyRunning):
		return ExitAlreadyRunning
	case errors.As(err, &taskErr):
		return ExitTaskFailed
	default:
		return ExitGeneralError
	}
}

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
