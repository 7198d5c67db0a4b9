package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/client-runner/internal/config"
	"github.com/shinji-kodama/client-runner/internal/model"
	"github.com/shinji-kodama/client-runner/internal/redispool"
)

// portsFlags holds the flags shared by the ports subcommands.
type portsFlags struct {
	class string
}

// NewPortsCommand creates the "ports" command group.
func NewPortsCommand() *cobra.Command {
	flags := &portsFlags{}

	cmd := &cobra.Command{
		Use:   "ports",
		Short: "Inspect and repair the shared port pool",
		Long: `Inspect and repair the shared port pool. These commands need the redis
pool backend: the local backend keeps its bookkeeping inside the running
process only.`,
	}
	cmd.PersistentFlags().StringVar(&flags.class, "class", "", "Resource class (defaults to ports.resourceClass)")

	cmd.AddCommand(newPortsListCommand(flags), newPortsReleaseCommand(flags))
	return cmd
}

func newPortsListCommand(flags *portsFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List used ports and the run that holds them",
		Long: `List the ports marked used in the pool for a resource class together
with the run ID that claimed them.

Examples:
  client-runner ports list
  client-runner ports list --class reports --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPortsList(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}
}

func newPortsReleaseCommand(flags *portsFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "release <port>...",
		Short: "Mark leaked ports free again",
		Long: `Mark ports free again, for example after a client process was killed
before it could release them. Ports that were not marked used are reported.

Examples:
  client-runner ports release 20001 20002`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := parsePortArgs(args)
			if err != nil {
				return err
			}
			return runPortsRelease(cmd.Context(), cmd.OutOrStdout(), flags, ports)
		},
	}
}

// openPool connects to the redis pool configured in the file.
func openPool(ctx context.Context, flags *portsFlags) (*redispool.Pool, string, error) {
	res, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	if res.Pool.Backend != config.PoolBackendRedis {
		return nil, "", model.NewCLIError(model.ExitConfigInvalid,
			fmt.Sprintf("pool backend %q does not keep shared state; use backend %q", res.Pool.Backend, config.PoolBackendRedis))
	}

	class := flags.class
	if class == "" {
		class = res.Effective.ResourceClass
	}

	pool, err := redispool.New(res.Pool.Redis.Address, res.Pool.Redis.Password, res.Pool.Redis.DB,
		res.Pool.RangeStart, res.Pool.RangeEnd, redispool.WithPrefix(res.Pool.Redis.Prefix))
	if err != nil {
		return nil, "", model.WrapCLIError(model.ExitConfigInvalid, "invalid pool configuration", err)
	}
	if err := pool.Ping(ctx); err != nil {
		_ = pool.Close()
		return nil, "", model.WrapCLIError(model.ExitGeneralError, "port pool is not reachable", err)
	}
	return pool, class, nil
}

func runPortsList(ctx context.Context, w io.Writer, flags *portsFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pool, class, err := openPool(ctx, flags)
	if err != nil {
		return err
	}
	defer func() { _ = pool.Close() }()

	claims, err := pool.List(ctx, class)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to list ports", err)
	}
	return printClaims(w, class, claims)
}

func printClaims(w io.Writer, class string, claims []redispool.Claim) error {
	if jsonOutput {
		if claims == nil {
			claims = []redispool.Claim{}
		}
		return printJSON(w, map[string]any{"resourceClass": class, "ports": claims})
	}

	if len(claims) == 0 {
		_, _ = fmt.Fprintf(w, "No used ports in resource class %s.\n", class)
		return nil
	}
	_, _ = fmt.Fprintf(w, "%-8s %s\n", "PORT", "OWNER")
	for _, c := range claims {
		_, _ = fmt.Fprintf(w, "%-8d %s\n", c.Port, c.Owner)
	}
	return nil
}

func runPortsRelease(ctx context.Context, w io.Writer, flags *portsFlags, ports []int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pool, class, err := openPool(ctx, flags)
	if err != nil {
		return err
	}
	defer func() { _ = pool.Close() }()

	notFreed, err := pool.ReleasePorts(ctx, ports, class)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to release ports", err)
	}
	freed := ReleasedPorts(ports, notFreed)

	if jsonOutput {
		if err := printJSON(w, map[string]any{
			"resourceClass": class,
			"freed":         freed,
			"notFreed":      nonNilPorts(notFreed),
		}); err != nil {
			return err
		}
	} else {
		_, _ = fmt.Fprintf(w, "Freed:     %s\n", model.FormatPorts(freed))
		if len(notFreed) > 0 {
			_, _ = fmt.Fprintf(w, "Not freed: %s\n", model.FormatPorts(notFreed))
		}
	}

	if len(notFreed) > 0 {
		return model.NewCLIError(model.ExitGeneralError,
			"Not all already used port's statuses were freed: "+model.FormatPorts(notFreed))
	}
	return nil
}

// ReleasedPorts returns the ports of requested that are not in notFreed,
// preserving order.
func ReleasedPorts(requested, notFreed []int) []int {
	skip := make(map[int]bool, len(notFreed))
	for _, p := range notFreed {
		skip[p] = true
	}
	out := make([]int, 0, len(requested))
	for _, p := range requested {
		if !skip[p] {
			out = append(out, p)
		}
	}
	return out
}

func nonNilPorts(ports []int) []int {
	if ports == nil {
		return []int{}
	}
	return ports
}

func parsePortArgs(args []string) ([]int, error) {
	ports := make([]int, 0, len(args))
	for _, a := range args {
		p, err := strconv.Atoi(a)
		if err != nil || p < 1 || p > 65535 {
			return nil, model.NewCLIError(model.ExitGeneralError, fmt.Sprintf("invalid port %q", a))
		}
		ports = append(ports, p)
	}
	return ports, nil
}
