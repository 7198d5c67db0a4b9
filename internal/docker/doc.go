// Package docker provides Docker Engine API wrappers for client-runner.
//
// This package handles:
//   - Docker client initialization with automatic socket detection
//     (Linux, macOS, Windows)
//   - The client-runner label scheme that ties a container to a module
//   - ContainerTable, the process table used by the duplicate-run guard
//     when clients run as containers instead of host processes
//
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled for broad compatibility.
package docker
