package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/shinji-kodama/client-runner/internal/model"
)

// Defaults applied by Resolve when a field is not set.
const (
	DefaultHost                 = "127.0.0.1"
	DefaultPoolBackend          = "local"
	DefaultRangeStart           = 20000
	DefaultRangeEnd             = 29999
	DefaultRedisAddress         = "localhost:6379"
	DefaultRedisPrefix          = "client-runner:"
	DefaultProcessTable         = "host"
	DefaultMaxRecursionAttempts = 3
	DefaultMaxGetTaskAttempts   = 10
	DefaultAdditionalSleepTime  = 10
	DefaultSMTPPort             = 25
)

// Pool backends and process tables accepted in the configuration.
const (
	PoolBackendLocal = "local"
	PoolBackendRedis = "redis"

	ProcessTableHost   = "host"
	ProcessTableDocker = "docker"

	// ProcessTableNone disables the duplicate-run lookup. Consistent runs
	// then always proceed.
	ProcessTableNone = "none"
)

// moduleRegex validates module names. They double as process-table search
// terms and Docker label values, so whitespace is not allowed.
var moduleRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// ValidationError represents a specific validation failure in the
// configuration file.
type ValidationError struct {
	// Field is the configuration path that failed validation (e.g., "ports.required").
	Field string

	// Message describes what's wrong with the field value.
	Message string
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one pass so the user
// can fix them all at once.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Resolved is the outcome of Resolve: the immutable lifecycle policy plus
// the settings needed to wire its collaborators.
type Resolved struct {
	Effective    model.EffectiveConfig
	Pool         PoolSection
	ProcessTable string
	Task         TaskSettings
	Alert        AlertSection
	Metrics      MetricsSection
}

// TaskSettings is the resolved task section.
type TaskSettings struct {
	Command    []string
	ReportFile string
	Timeout    time.Duration
	Env        map[string]string
	Dir        string
}

// Resolve applies defaults, validates and normalizes the file into a
// Resolved value. The input is not modified.
//
// Normalization rule: fixed port installation forces consistent execution.
// Fixed ports cannot be shared by concurrent runs of the same client, so a
// configured "parallel" is silently replaced and flagged through
// EffectiveConfig.ExecutionOverridden.
//
// Returns ValidationErrors (wrapped in a CLIError with ExitConfigInvalid)
// listing every invalid field.
func Resolve(f *File) (*Resolved, error) {
	if f == nil {
		f = &File{}
	}
	errs := ValidationErrors{}
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	eff := model.EffectiveConfig{
		ModuleName: strings.TrimSpace(f.Module),
		PortHost:   orDefault(f.Ports.Host, DefaultHost),
	}

	switch {
	case eff.ModuleName == "":
		add("module", "module name must not be empty")
	case !moduleRegex.MatchString(eff.ModuleName):
		add("module", "invalid module name %q: must start with an alphanumeric and contain only alphanumerics, '.', '_', ':' or '-'", eff.ModuleName)
	}

	mode, err := model.ParseExecutionMode(orDefault(f.Execution, string(model.ExecutionConsistent)))
	if err != nil {
		add("execution", "%v", err)
	}
	eff.ExecutionMode = mode

	policy, err := model.ParseDuplicatePolicy(orDefault(f.DuplicatePolicy, string(model.DuplicateAbort)))
	if err != nil {
		add("duplicatePolicy", "%v", err)
	}
	eff.DuplicatePolicy = policy

	installation, err := model.ParsePortInstallationMode(orDefault(f.Ports.Installation, string(model.PortsDynamic)))
	if err != nil {
		add("ports.installation", "%v", err)
	}
	eff.PortInstallation = installation
	eff.RequiredPorts = f.Ports.Required
	eff.ResourceClass = orDefault(f.Ports.ResourceClass, eff.ModuleName)

	switch installation {
	case model.PortsDynamic:
		if f.Ports.Required < 1 {
			add("ports.required", "dynamic installation requires at least 1 port, got %d", f.Ports.Required)
		}
		if len(f.Ports.Fixed) > 0 {
			add("ports.fixed", "fixed ports are only allowed with installation \"fixed\"")
		}
	case model.PortsFixed:
		if len(f.Ports.Fixed) == 0 {
			add("ports.fixed", "fixed installation requires a non-empty port list")
		}
		for i, p := range f.Ports.Fixed {
			if strings.TrimSpace(p) == "" {
				add(fmt.Sprintf("ports.fixed[%d]", i), "entry must not be empty")
			}
		}
		eff.FixedPorts = append([]string(nil), f.Ports.Fixed...)
		if eff.ExecutionMode == model.ExecutionParallel {
			eff.ExecutionMode = model.ExecutionConsistent
			eff.ExecutionOverridden = true
		}
	}

	eff.Retry = model.RetryPolicy{
		MaxRecursionAttempts: intOrDefault(f.Retry.MaxRecursionAttempts, DefaultMaxRecursionAttempts),
		MaxGetTaskAttempts:   intOrDefault(f.Retry.MaxGetTaskAttempts, DefaultMaxGetTaskAttempts),
		AdditionalSleepTime:  intOrDefault(f.Retry.AdditionalSleepTime, DefaultAdditionalSleepTime),
	}
	if eff.Retry.MaxRecursionAttempts < 1 {
		add("retry.maxRecursionAttempts", "must be at least 1, got %d", eff.Retry.MaxRecursionAttempts)
	}
	if eff.Retry.MaxGetTaskAttempts < 0 {
		add("retry.maxGetTaskAttempts", "must not be negative, got %d", eff.Retry.MaxGetTaskAttempts)
	}
	if eff.Retry.AdditionalSleepTime < 0 {
		add("retry.additionalSleepTime", "must not be negative, got %d", eff.Retry.AdditionalSleepTime)
	}

	res := &Resolved{
		Effective:    eff,
		Pool:         resolvePool(f.Pool, eff, add),
		ProcessTable: orDefault(f.ProcessTable, DefaultProcessTable),
		Alert:        f.Alert,
		Metrics:      f.Metrics,
	}

	// The local pool only coordinates runs of one process; concurrent
	// processes would be handed the same ports.
	if eff.ExecutionMode == model.ExecutionParallel && res.Pool.Backend == PoolBackendLocal {
		add("pool.backend", "parallel execution requires a pool shared between processes; use backend %q", PoolBackendRedis)
	}

	switch res.ProcessTable {
	case ProcessTableHost, ProcessTableDocker, ProcessTableNone:
	default:
		add("processTable", "invalid process table %q (valid: host, docker, none)", res.ProcessTable)
	}

	res.Task = resolveTask(f.Task, eff.ModuleName, add)

	if res.Alert.SMTP.Host != "" {
		if res.Alert.SMTP.Port == 0 {
			res.Alert.SMTP.Port = DefaultSMTPPort
		}
		if res.Alert.SMTP.From == "" {
			add("alert.smtp.from", "sender address is required when smtp.host is set")
		}
		if len(res.Alert.SMTP.To) == 0 {
			add("alert.smtp.to", "at least one recipient is required when smtp.host is set")
		}
	}

	if len(errs) > 0 {
		return nil, model.WrapCLIError(model.ExitConfigInvalid, "configuration is invalid", errs)
	}
	return res, nil
}

func resolvePool(p PoolSection, eff model.EffectiveConfig, add func(field, format string, args ...any)) PoolSection {
	p.Backend = orDefault(p.Backend, DefaultPoolBackend)
	if p.RangeStart == 0 && p.RangeEnd == 0 {
		p.RangeStart, p.RangeEnd = DefaultRangeStart, DefaultRangeEnd
	}
	p.Redis.Address = orDefault(p.Redis.Address, DefaultRedisAddress)
	p.Redis.Prefix = orDefault(p.Redis.Prefix, DefaultRedisPrefix)

	switch p.Backend {
	case PoolBackendLocal, PoolBackendRedis:
	default:
		add("pool.backend", "invalid pool backend %q (valid: local, redis)", p.Backend)
	}

	if p.RangeStart < 1024 || p.RangeEnd > 65535 || p.RangeStart > p.RangeEnd {
		add("pool.rangeStart", "invalid port range %d-%d (must lie within 1024-65535, start <= end)", p.RangeStart, p.RangeEnd)
	} else if eff.PortInstallation == model.PortsDynamic {
		if size := p.RangeEnd - p.RangeStart + 1; size < eff.RequiredPorts {
			add("pool.rangeEnd", "port range %d-%d holds %d ports, fewer than the %d required", p.RangeStart, p.RangeEnd, size, eff.RequiredPorts)
		}
	}
	return p
}

func resolveTask(t TaskSection, module string, add func(field, format string, args ...any)) TaskSettings {
	ts := TaskSettings{
		Command:    append([]string(nil), t.Command...),
		ReportFile: t.ReportFile,
		Env:        t.Env,
		Dir:        t.Dir,
	}
	if len(ts.Command) == 0 || strings.TrimSpace(ts.Command[0]) == "" {
		add("task.command", "a command to initiate tasks is required")
	}
	if ts.ReportFile == "" {
		ts.ReportFile = filepath.Join(os.TempDir(), "client-runner-"+sanitizeFileName(module)+".json")
	}
	if t.Timeout != "" {
		d, err := time.ParseDuration(t.Timeout)
		switch {
		case err != nil:
			add("task.timeout", "%v", err)
		case d < 0:
			add("task.timeout", "must not be negative, got %s", d)
		default:
			ts.Timeout = d
		}
	}
	return ts
}

// AsValidationErrors extracts the validation list from an error returned
// by Resolve. The boolean is false for any other error.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var v ValidationErrors
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func intOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// sanitizeFileName replaces path separators and colons so module names
// like "reports:init" make valid file names.
func sanitizeFileName(s string) string {
	if s == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, s)
}
