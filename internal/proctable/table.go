// Package proctable answers "is another instance of this client running?"
// for the duplicate-run guard.
//
// Two implementations exist: HostTable looks at the local process list and
// docker.ContainerTable looks at labelled containers. Both satisfy Table.
package proctable

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// Table reports whether a process identified by name is running.
type Table interface {
	IsProcessRunning(ctx context.Context, name string) (bool, error)
}

// Proc is the subset of a process entry the matcher needs.
type Proc struct {
	PID  int32
	Name string
	Args []string
}

// Lister enumerates processes on the host.
type Lister func(ctx context.Context) ([]Proc, error)

// HostTable implements Table over the host process list. The calling
// process and its parent (the shell or cron that launched it) never count.
type HostTable struct {
	list    Lister
	exclude map[int32]struct{}
}

// NewHostTable creates a HostTable backed by gopsutil.
func NewHostTable() *HostTable {
	return NewHostTableWithLister(ListProcesses)
}

// NewHostTableWithLister creates a HostTable with a custom Lister.
func NewHostTableWithLister(list Lister) *HostTable {
	return &HostTable{
		list: list,
		exclude: map[int32]struct{}{
			int32(os.Getpid()):  {},
			int32(os.Getppid()): {},
		},
	}
}

// skip adds PIDs that must never be reported as duplicates.
func (t *HostTable) skip(pids ...int32) {
	for _, pid := range pids {
		t.exclude[pid] = struct{}{}
	}
}

// IsProcessRunning reports whether any other process matches name.
func (t *HostTable) IsProcessRunning(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("process name is empty")
	}

	procs, err := t.list(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list processes: %w", err)
	}

	for _, p := range procs {
		if _, skip := t.exclude[p.PID]; skip {
			continue
		}
		if Matches(p, name) {
			return true, nil
		}
	}
	return false, nil
}

// Matches reports whether p is an instance of name: either the executable
// name equals it, or one of the arguments equals it (directly, as the base
// name of a path, or as the value of a --flag=name argument). Substrings do
// not match, so "report" does not match "reports-daily".
//
// Arguments containing whitespace are shell scripts handed to a wrapper
// (sh -c "client-runner run --module=reports") and never match: the
// wrapper of the calling process would otherwise count as a duplicate.
func Matches(p Proc, name string) bool {
	if p.Name == name {
		return true
	}
	for _, arg := range p.Args {
		if arg == name {
			return true
		}
		if strings.ContainsAny(arg, " \t\n") {
			continue
		}
		if filepath.Base(arg) == name {
			return true
		}
		if strings.HasPrefix(arg, "-") {
			if i := strings.IndexByte(arg, '='); i >= 0 && arg[i+1:] == name {
				return true
			}
		}
	}
	return false
}

// ListProcesses reads the host process list. Processes that exit while
// being read are skipped.
func ListProcesses(ctx context.Context) ([]Proc, error) {
	all, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	procs := make([]Proc, 0, len(all))
	for _, p := range all {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		args, _ := p.CmdlineSliceWithContext(ctx)
		procs = append(procs, Proc{PID: p.Pid, Name: name, Args: args})
	}
	return procs, nil
}
