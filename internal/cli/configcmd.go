package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/client-runner/internal/config"
	"github.com/shinji-kodama/client-runner/internal/docker"
	"github.com/shinji-kodama/client-runner/internal/model"
)

// NewConfigCommand creates the "config" command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration file",
	}
	cmd.AddCommand(newConfigCheckCommand())
	return cmd
}

func newConfigCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the effective settings",
		Long: `Load the configuration file, apply defaults, validate every field and
print the effective configuration the lifecycle would run with.

Examples:
  client-runner config check
  client-runner config check --config reports.jsonc --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := loadConfig()
			if err != nil {
				return err
			}
			return printEffective(cmd.OutOrStdout(), res)
		},
	}
}

// effectiveView is the JSON shape of the effective configuration.
type effectiveView struct {
	Effective    model.EffectiveConfig `json:"effective"`
	PoolBackend  string                `json:"poolBackend"`
	PortRange    [2]int                `json:"portRange"`
	ProcessTable string                `json:"processTable"`
	Command      []string              `json:"command"`
	ReportFile   string                `json:"reportFile"`
	Timeout      string                `json:"timeout,omitempty"`
	AlertSMTP    bool                  `json:"alertSmtp"`
	Metrics      string                `json:"metricsTextfile,omitempty"`

	// DockerLabels are the labels a containerised client must carry so
	// the duplicate-run guard can find it.
	DockerLabels map[string]string `json:"dockerLabels,omitempty"`
}

func newEffectiveView(res *config.Resolved) effectiveView {
	v := effectiveView{
		Effective:    res.Effective,
		PoolBackend:  res.Pool.Backend,
		PortRange:    [2]int{res.Pool.RangeStart, res.Pool.RangeEnd},
		ProcessTable: res.ProcessTable,
		Command:      res.Task.Command,
		ReportFile:   res.Task.ReportFile,
		AlertSMTP:    res.Alert.SMTP.Host != "",
		Metrics:      res.Metrics.Textfile,
	}
	if res.Task.Timeout > 0 {
		v.Timeout = res.Task.Timeout.String()
	}
	if res.ProcessTable == config.ProcessTableDocker {
		v.DockerLabels = docker.BuildLabels(res.Effective.ModuleName, res.Effective.ResourceClass)
	}
	return v
}

// printEffective renders the resolved configuration as JSON or as an
// aligned key/value listing.
func printEffective(w io.Writer, res *config.Resolved) error {
	v := newEffectiveView(res)
	if jsonOutput {
		return printJSON(w, v)
	}

	eff := v.Effective
	execution := eff.ExecutionMode.String()
	if eff.ExecutionOverridden {
		execution += " (parallel overridden: fixed ports)"
	}

	rows := [][2]string{
		{"Module", eff.ModuleName},
		{"Execution", execution},
		{"Duplicate policy", eff.DuplicatePolicy.String()},
		{"Port installation", eff.PortInstallation.String()},
	}
	if eff.PortInstallation == model.PortsFixed {
		rows = append(rows, [2]string{"Fixed ports", strings.Join(eff.FixedPorts, ", ")})
	} else {
		rows = append(rows,
			[2]string{"Required ports", fmt.Sprintf("%d", eff.RequiredPorts)},
			[2]string{"Resource class", eff.ResourceClass},
			[2]string{"Port host", eff.PortHost},
			[2]string{"Pool", fmt.Sprintf("%s %d-%d", v.PoolBackend, v.PortRange[0], v.PortRange[1])},
		)
	}
	rows = append(rows,
		[2]string{"Process table", v.ProcessTable},
		[2]string{"Max recursion", fmt.Sprintf("%d", eff.Retry.MaxRecursionAttempts)},
		[2]string{"Retry backoff", eff.Retry.Backoff().String()},
		[2]string{"Command", strings.Join(v.Command, " ")},
		[2]string{"Report file", v.ReportFile},
	)
	if v.Timeout != "" {
		rows = append(rows, [2]string{"Task timeout", v.Timeout})
	}
	alert := "log"
	if v.AlertSMTP {
		alert = "smtp " + res.Alert.SMTP.Host
	}
	rows = append(rows, [2]string{"Alerts", alert})
	if v.Metrics != "" {
		rows = append(rows, [2]string{"Metrics textfile", v.Metrics})
	}

	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%-18s %s\n", r[0]+":", r[1]); err != nil {
			return err
		}
	}

	if len(v.DockerLabels) > 0 {
		keys := make([]string, 0, len(v.DockerLabels))
		for k := range v.DockerLabels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_, _ = fmt.Fprintln(w, "Docker labels:")
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "  %s=%s\n", k, v.DockerLabels[k])
		}
	}
	return nil
}
