package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shinji-kodama/client-runner/internal/model"
)

// Environment variables handed to the task command.
const (
	EnvModule        = "CLIENT_RUNNER_MODULE"
	EnvRunID         = "CLIENT_RUNNER_RUN_ID"
	EnvPorts         = "CLIENT_RUNNER_PORTS"
	EnvPortPrefix    = "CLIENT_RUNNER_PORT_"
	EnvReport        = "CLIENT_RUNNER_REPORT"
	EnvRepeatedTasks = "CLIENT_RUNNER_REPEATED_TASKS"
	EnvAttempt       = "CLIENT_RUNNER_ATTEMPT"
)

// maxOutput caps the command output kept for logs and errors.
const maxOutput = 4096

// CommandInitiator runs an external command to create tasks.
//
// The command sees the run's endpoints as CLIENT_RUNNER_PORTS (comma
// separated) and CLIENT_RUNNER_PORT_1..N, where PORT_1 is the endpoint
// popped first (the last of the list). It is expected to write its
// inspection report to CLIENT_RUNNER_REPORT; any report left over from a
// previous call is removed before the command starts.
type CommandInitiator struct {
	Command    []string
	Dir        string
	Env        map[string]string
	Timeout    time.Duration
	ReportFile string
	Module     string
	RunID      string
	Logger     *slog.Logger

	attempt int
}

// InitTasks runs the command once. A non-zero exit, a timeout or a
// failure to start is returned as a *model.TaskError with Op "init".
func (c *CommandInitiator) InitTasks(ctx context.Context, ports *model.PortSet, repeated []model.TaskRef) error {
	if len(c.Command) == 0 {
		return &model.TaskError{Op: "init", Err: errors.New("no command configured")}
	}
	if c.ReportFile != "" {
		if err := os.Remove(c.ReportFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &model.TaskError{Op: "init", Err: fmt.Errorf("remove stale report: %w", err)}
		}
	}
	c.attempt++

	env, err := c.environ(ports, repeated)
	if err != nil {
		return &model.TaskError{Op: "init", Err: err}
	}

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Command[0], c.Command[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(cmd.Environ(), env...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	runErr := cmd.Run()
	output := truncate(strings.TrimSpace(out.String()), maxOutput)

	logger := c.logger()
	logger.DebugContext(ctx, "task command finished",
		"command", c.Command[0],
		"attempt", c.attempt,
		"duration", time.Since(start),
		"output", output,
	)

	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			runErr = fmt.Errorf("timed out after %s: %w", c.Timeout, runErr)
		}
		if output != "" {
			runErr = fmt.Errorf("%w: %s", runErr, output)
		}
		return &model.TaskError{Op: "init", Err: runErr}
	}
	return nil
}

func (c *CommandInitiator) environ(ports *model.PortSet, repeated []model.TaskRef) ([]string, error) {
	env := make([]string, 0, len(c.Env)+8)
	for k, v := range c.Env {
		env = append(env, k+"="+v)
	}

	env = append(env,
		EnvModule+"="+c.Module,
		EnvRunID+"="+c.RunID,
		EnvReport+"="+c.ReportFile,
		EnvAttempt+"="+strconv.Itoa(c.attempt),
	)

	if ports != nil {
		env = append(env, EnvPorts+"="+strings.Join(ports.Endpoints(), ","))
		pops := ports.Clone()
		for i := 1; pops.Len() > 0; i++ {
			ep, err := pops.Next()
			if err != nil {
				return nil, err
			}
			env = append(env, EnvPortPrefix+strconv.Itoa(i)+"="+ep)
		}
	}

	if repeated == nil {
		repeated = []model.TaskRef{}
	}
	data, err := json.Marshal(repeated)
	if err != nil {
		return nil, fmt.Errorf("encode repeated tasks: %w", err)
	}
	env = append(env, EnvRepeatedTasks+"="+string(data))
	return env, nil
}

func (c *CommandInitiator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
