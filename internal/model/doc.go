// Package model defines the domain types and value objects for the
// client-runner CLI.
//
// This package contains pure data structures with no external dependencies.
// The per-invocation record (RunState), the held port set (PortSet) and the
// inspection result (InspectionOutcome) live for one client invocation only;
// anything that must survive a restart lives in the external port pool or
// the process table.
//
// The package also defines exit codes (ExitCode), a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling,
// and the lifecycle error taxonomy (PortAllocationError,
// PortCountMismatchError, PortReleaseIncompleteError, TaskError).
package model
