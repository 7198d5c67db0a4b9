package docker

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/docker/docker/client"

	"github.com/shinji-kodama/client-runner/internal/model"
)

// defaultPingTimeout bounds a Ping. Docker Desktop on macOS can take a few
// seconds to answer after waking up.
const defaultPingTimeout = 5 * time.Second

// Client wraps the Docker Engine SDK client. It handles socket detection
// across platforms and exposes only what client-runner needs.
//
// Usage:
//
//	c, err := docker.NewClient()
//	if err != nil { /* handle */ }
//	defer c.Close()
//	running, err := docker.NewContainerTable(c.Inner()).IsProcessRunning(ctx, "reports")
type Client struct {
	inner *client.Client
}

// NewClient creates a Docker client.
//
// The host is taken from DOCKER_HOST when set, otherwise the platform's
// default socket is probed:
//   - Linux: /var/run/docker.sock
//   - macOS: /var/run/docker.sock, then ~/.docker/run/docker.sock
//   - Windows: npipe:////./pipe/docker_engine
//
// Returns a model.CLIError with ExitGeneralError if no socket is found or
// the client cannot be created.
func NewClient() (*Client, error) {
	if dockerHost := os.Getenv("DOCKER_HOST"); dockerHost != "" {
		return newClientWithHost(dockerHost)
	}

	host, err := detectDockerHost()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "Docker socket not found", err)
	}
	return newClientWithHost(host)
}

func newClientWithHost(host string) (*Client, error) {
	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitGeneralError,
			fmt.Sprintf("failed to create Docker client for host %q", host),
			err,
		)
	}
	return &Client{inner: c}, nil
}

// detectDockerHost returns the Docker host URI for the current platform.
// Only existence is checked here; Ping verifies the daemon answers.
func detectDockerHost() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return detectUnixSocket([]string{"/var/run/docker.sock"})

	case "darwin":
		paths := []string{"/var/run/docker.sock"}
		if homeDir, err := os.UserHomeDir(); err == nil {
			paths = append(paths, homeDir+"/.docker/run/docker.sock")
		}
		return detectUnixSocket(paths)

	case "windows":
		// os.Stat does not work on named pipes, so dial briefly instead.
		pipePath := `//./pipe/docker_engine`
		conn, err := net.DialTimeout("pipe", pipePath, 1*time.Second)
		if err != nil {
			return "", fmt.Errorf("Docker named pipe not found at %s: %w", pipePath, err)
		}
		_ = conn.Close()
		return "npipe://" + pipePath, nil

	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// detectUnixSocket returns the first existing path as a unix:// URI.
func detectUnixSocket(paths []string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf("Docker socket not found at any of: %v", paths)
}

// Ping verifies that the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if _, err := c.inner.Ping(pingCtx); err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "Docker daemon is not responding", err)
	}
	return nil
}

// Close releases the client. Safe to call on a zero Client.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}

// Inner returns the underlying SDK client.
func (c *Client) Inner() *client.Client {
	return c.inner
}
