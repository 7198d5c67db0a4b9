// Package cli implements the client-runner command line on top of cobra.
//
// Every subcommand loads the configuration file, wires the lifecycle
// collaborators it needs and maps failures onto model.ExitCode values so
// cron wrappers can tell outcomes apart.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/client-runner/internal/config"
	"github.com/shinji-kodama/client-runner/internal/model"
)

// Global flags shared across all subcommands.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	jsonOutput bool

	// verbose enables debug level logging on stderr.
	verbose bool

	// configPath is the configuration file to load.
	configPath string

	// moduleOverride replaces the module name from the configuration file.
	moduleOverride string

	// logFormat selects the log handler ("text" or "json").
	logFormat string
)

// Version information, set at build time via ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates and returns the root cobra command with all
// subcommands registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "client-runner",
		Short: "Run scheduled worker clients with pooled ports and bounded retries",
		Long: `client-runner executes one invocation of a scheduled worker client:
it acquires the client's ports, checks that no other instance of the module
is running, initiates the client's tasks, inspects the outcome and retries a
bounded number of times before escalating to an attention mail. Pool ports
are always returned before the process exits.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file (.yaml, .yml, .json, .jsonc)")
	rootCmd.PersistentFlags().StringVar(&moduleOverride, "module", "", "Override the module name from the configuration file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(
		NewRunCommand(),
		NewScheduleCommand(),
		NewPortsCommand(),
		NewContainersCommand(),
		NewConfigCommand(),
	)

	return rootCmd
}

// Execute runs the root command and handles exit codes.
// It inspects returned errors and maps them to the exit code carried by
// a *model.CLIError or derived with model.ExitCodeFor.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		printError(rootCmd.ErrOrStderr(), err)
		os.Exit(int(model.ExitCodeFor(err)))
	}
}

// printError outputs an error message to stderr.
// In JSON mode, it produces a structured error object.
// In text mode, it prints a human-readable error line.
func printError(w io.Writer, err error) {
	message := err.Error()
	detail := ""
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		message = cliErr.Message
		if cliErr.Err != nil {
			detail = cliErr.Err.Error()
		}
	}

	if jsonOutput {
		errObj := map[string]any{
			"error": map[string]any{
				"message": message,
				"code":    int(model.ExitCodeFor(err)),
				"detail":  detail,
			},
		}
		data, _ := json.MarshalIndent(errObj, "", "  ")
		_, _ = fmt.Fprintln(w, string(data))
		return
	}

	if detail != "" {
		_, _ = fmt.Fprintf(w, "Error: %s: %s\n", message, detail)
		return
	}
	_, _ = fmt.Fprintf(w, "Error: %s\n", message)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
