package docker

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/docker/docker/api/types/container"

	"github.com/shinji-kodama/client-runner/internal/model"
)

// ContainerLister is the slice of the Docker SDK used here. *client.Client
// satisfies it.
type ContainerLister interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
}

// ListModuleContainers lists the containers labelled for module (all
// managed containers when module is empty). Stopped containers are only
// included when all is true.
func ListModuleContainers(ctx context.Context, cli ContainerLister, module string, all bool) ([]model.ContainerInfo, error) {
	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     all,
		Filters: ModuleFilter(module),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list Docker containers: %w", err)
	}

	result := make([]model.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		result = append(result, containerToInfo(c))
	}
	return result, nil
}

// containerToInfo strips the leading "/" Docker puts on names.
func containerToInfo(c container.Summary) model.ContainerInfo {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}
	return model.ContainerInfo{
		ContainerID:   c.ID,
		ContainerName: name,
		Status:        string(c.State),
		Labels:        c.Labels,
	}
}

// ContainerTable is a process table over running containers. A module is
// "running" when a running container carries its label.
//
// When client-runner itself runs inside a container, that container is
// skipped: Docker sets the hostname to the short container ID.
type ContainerTable struct {
	cli    ContainerLister
	selfID string
}

// NewContainerTable creates a ContainerTable. The own container is taken
// from the hostname.
func NewContainerTable(cli ContainerLister) *ContainerTable {
	t := &ContainerTable{cli: cli}
	if host, err := os.Hostname(); err == nil && looksLikeContainerID(host) {
		t.selfID = host
	}
	return t
}

// looksLikeContainerID reports whether s is a short (12) or full (64) hex
// container ID.
func looksLikeContainerID(s string) bool {
	if len(s) != 12 && len(s) != 64 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

// withSelf overrides the container ID treated as the caller.
func (t *ContainerTable) withSelf(id string) *ContainerTable {
	t.selfID = id
	return t
}

// IsProcessRunning reports whether another running container carries the
// module label.
func (t *ContainerTable) IsProcessRunning(ctx context.Context, name string) (bool, error) {
	containers, err := ListModuleContainers(ctx, t.cli, name, false)
	if err != nil {
		return false, err
	}
	for _, c := range containers {
		if c.Status != "running" || t.isSelf(c.ContainerID) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (t *ContainerTable) isSelf(id string) bool {
	return t.selfID != "" && strings.HasPrefix(id, t.selfID)
}
