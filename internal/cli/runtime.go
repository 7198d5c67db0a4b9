package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"

	"github.com/shinji-kodama/client-runner/internal/config"
	"github.com/shinji-kodama/client-runner/internal/docker"
	"github.com/shinji-kodama/client-runner/internal/lifecycle"
	"github.com/shinji-kodama/client-runner/internal/logging"
	"github.com/shinji-kodama/client-runner/internal/metrics"
	"github.com/shinji-kodama/client-runner/internal/model"
	"github.com/shinji-kodama/client-runner/internal/port"
	"github.com/shinji-kodama/client-runner/internal/proctable"
	"github.com/shinji-kodama/client-runner/internal/redispool"
	"github.com/shinji-kodama/client-runner/internal/task"
)

// loadConfig reads and resolves the configuration file, applying the
// --module override.
func loadConfig() (*config.Resolved, error) {
	f, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if moduleOverride != "" {
		f.Module = moduleOverride
	}
	return config.Resolve(f)
}

func newLogger(w io.Writer) (*slog.Logger, error) {
	logger, err := logging.New(logFormat, verbose, w)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigInvalid, "invalid --log-format", err)
	}
	return logger, nil
}

// runtime holds the collaborators that outlive a single invocation. The
// scheduler builds it once and runs many invocations on it, so the local
// pool's bookkeeping is shared between ticks.
type runtime struct {
	res      *config.Resolved
	logger   *slog.Logger
	recorder *metrics.Recorder

	localPool *port.LocalPool
	redis     *backend.Client
	docker    *docker.Client
	table     proctable.Table
	alerter   task.Alerter
}

func newRuntime(ctx context.Context, res *config.Resolved, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{
		res:      res,
		logger:   logger,
		recorder: metrics.NewRecorder(res.Effective.ModuleName),
	}

	switch res.Pool.Backend {
	case config.PoolBackendRedis:
		rt.redis = backend.NewClient(&backend.Options{
			Addr:     res.Pool.Redis.Address,
			Password: res.Pool.Redis.Password,
			DB:       res.Pool.Redis.DB,
		})
	default:
		rt.localPool = port.NewLocalPool(port.NewScanner(""), res.Pool.RangeStart, res.Pool.RangeEnd)
	}

	switch res.ProcessTable {
	case config.ProcessTableDocker:
		c, err := docker.NewClient()
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.docker = c
		if err := c.Ping(ctx); err != nil {
			rt.close()
			return nil, err
		}
		rt.table = docker.NewContainerTable(c.Inner())
	case config.ProcessTableHost:
		rt.table = proctable.NewHostTable()
	}

	if smtp := res.Alert.SMTP; smtp.Host != "" {
		rt.alerter = &task.SMTPAlerter{
			Host:     smtp.Host,
			Port:     smtp.Port,
			Username: smtp.Username,
			Password: smtp.Password,
			From:     smtp.From,
			To:       smtp.To,
			Module:   res.Effective.ModuleName,
		}
	} else {
		rt.alerter = &task.LogAlerter{Logger: logger}
	}
	return rt, nil
}

func (rt *runtime) close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if rt.docker != nil {
		_ = rt.docker.Close()
	}
}

// redisPool returns a pool whose claims are owned by owner.
func (rt *runtime) redisPool(owner string) (*redispool.Pool, error) {
	if rt.redis == nil {
		return nil, model.NewCLIError(model.ExitConfigInvalid,
			fmt.Sprintf("pool backend %q does not keep shared state; use backend %q", rt.res.Pool.Backend, config.PoolBackendRedis))
	}
	opts := []redispool.Option{redispool.WithPrefix(rt.res.Pool.Redis.Prefix)}
	if owner != "" {
		opts = append(opts, redispool.WithOwner(owner))
	}
	return redispool.NewFromClient(rt.redis, rt.res.Pool.RangeStart, rt.res.Pool.RangeEnd, opts...)
}

func (rt *runtime) pool(runID string) (port.Pool, error) {
	if rt.localPool != nil {
		return rt.localPool, nil
	}
	return rt.redisPool(runID)
}

// runOnce performs one invocation with a fresh run ID and exports metrics
// if a textfile is configured.
func (rt *runtime) runOnce(ctx context.Context) (lifecycle.Result, error) {
	runID := uuid.NewString()

	pool, err := rt.pool(runID)
	if err != nil {
		return lifecycle.Result{RunID: runID}, err
	}

	eff := rt.res.Effective
	ts := rt.res.Task
	lc, err := lifecycle.New(eff, lifecycle.Deps{
		Pool:  pool,
		Table: rt.table,
		Initiator: &task.CommandInitiator{
			Command:    ts.Command,
			Dir:        ts.Dir,
			Env:        ts.Env,
			Timeout:    ts.Timeout,
			ReportFile: ts.ReportFile,
			Module:     eff.ModuleName,
			RunID:      runID,
			Logger:     rt.logger,
		},
		Inspector: &task.ReportInspector{Path: ts.ReportFile},
		Alerter:   rt.alerter,
		Logger:    rt.logger,
		Observer:  rt.recorder,
	})
	if err != nil {
		return lifecycle.Result{RunID: runID}, err
	}

	res, runErr := lc.Handle(ctx, runID)

	if path := rt.res.Metrics.Textfile; path != "" {
		if err := rt.recorder.WriteTextfile(path); err != nil {
			rt.logger.ErrorContext(ctx, "failed to export metrics", "error", err)
		}
	}
	return res, runErr
}
