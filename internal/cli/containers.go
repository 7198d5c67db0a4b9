package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/client-runner/internal/docker"
	"github.com/shinji-kodama/client-runner/internal/model"
)

// containersFlags holds the flags for the containers command.
type containersFlags struct {
	all       bool
	anyModule bool
}

// NewContainersCommand creates the "containers" subcommand. It shows what
// the docker process table sees when it looks for a running module.
func NewContainersCommand() *cobra.Command {
	flags := &containersFlags{}

	cmd := &cobra.Command{
		Use:   "containers",
		Short: "List containers labelled for the module",
		Long: `List the Docker containers labelled for the module. With processTable
set to docker, a running container in this list makes a consistent run
report the module as already running.

Examples:
  client-runner containers
  client-runner containers --all --any-module --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runContainers(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.all, "all", "a", false, "Include stopped containers")
	cmd.Flags().BoolVar(&flags.anyModule, "any-module", false, "List containers of every module")

	return cmd
}

func runContainers(ctx context.Context, w io.Writer, flags *containersFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	module := ""
	if !flags.anyModule {
		res, err := loadConfig()
		if err != nil {
			return err
		}
		module = res.Effective.ModuleName
	}

	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()
	if err := cli.Ping(ctx); err != nil {
		return err
	}

	infos, err := docker.ListModuleContainers(ctx, cli.Inner(), module, flags.all)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to list containers", err)
	}
	return printContainers(w, infos)
}

func printContainers(w io.Writer, infos []model.ContainerInfo) error {
	if jsonOutput {
		type item struct {
			Module        string `json:"module"`
			ContainerID   string `json:"containerId"`
			ContainerName string `json:"containerName"`
			Status        string `json:"status"`
		}
		items := make([]item, 0, len(infos))
		for _, c := range infos {
			module, _ := docker.ParseModule(c.Labels)
			items = append(items, item{
				Module:        module,
				ContainerID:   shortID(c.ContainerID),
				ContainerName: c.ContainerName,
				Status:        c.Status,
			})
		}
		return printJSON(w, map[string]any{"containers": items})
	}

	if len(infos) == 0 {
		_, _ = fmt.Fprintln(w, "No labelled containers found.")
		return nil
	}
	_, _ = fmt.Fprintf(w, "%-20s %-14s %-24s %s\n", "MODULE", "CONTAINER", "NAME", "STATUS")
	for _, c := range infos {
		module, err := docker.ParseModule(c.Labels)
		if err != nil {
			module = "-"
		}
		_, _ = fmt.Fprintf(w, "%-20s %-14s %-24s %s\n", module, shortID(c.ContainerID), c.ContainerName, c.Status)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
