// Package main is the entry point for the client-runner CLI.
//
// This binary runs one invocation of a scheduled worker client (or a
// periodic series of them). It acquires the client's ports and guards
// against duplicate runs, then initiates and inspects tasks with bounded
// retries. Ports are always returned. It delegates all functionality to the
// internal/cli package, which defines the cobra commands.
//
// Build-time variables (version, commit, date) are injected via ldflags
// during the release build. During development, they default to "dev",
// "none", and "unknown" respectively.
package main

import (
	"github.com/shinji-kodama/client-runner/internal/cli"
)

// version, commit, and date are set at build time via ldflags, e.g.
//
//	go build -ldflags "-X main.version=1.2.0 -X main.commit=$(git rev-parse --short HEAD)"
//
// They identify the binary in the --version output.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Inject build-time version info into the CLI package. This keeps the
	// build system (ldflags) decoupled from the CLI framework (cobra) and
	// main.go minimal.
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	// Create the root command with all subcommands registered, then
	// execute it. Execute prints errors and exits with the code mapped
	// from the failure (see model.ExitCodeFor), including 7 when an
	// inspection report asked the process to terminate.
	rootCmd := cli.NewRootCommand()
	cli.Execute(rootCmd)
}
