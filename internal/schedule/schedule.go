// Package schedule invokes a function periodically inside one long-lived
// process, as an alternative to an external cron entry.
//
// Ticks never overlap: a tick that fires while the previous one is still
// running is rescheduled, so consistent clients are not started twice by
// the scheduler itself.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// Spec selects when ticks fire. Exactly one of Cron and Every is set.
type Spec struct {
	// Cron is a 5-field expression or a descriptor such as "@hourly".
	Cron string
	// Every is a fixed interval.
	Every time.Duration
	// Immediately fires the first tick at start instead of waiting.
	Immediately bool
}

// ParseCron validates a 5-field cron expression (or an "@" descriptor)
// and returns the interval between its next two activations.
func ParseCron(expr string) (time.Duration, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return 0, errors.New("empty cron expression")
	}

	var sched cron.Schedule
	var err error
	if strings.HasPrefix(e, "@") {
		sched, err = cron.ParseStandard(e)
	} else {
		parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		sched, err = parser5.Parse(e)
	}
	if err != nil {
		return 0, err
	}
	next1 := sched.Next(time.Now())
	next2 := sched.Next(next1)
	return next2.Sub(next1), nil
}

// Validate checks the spec without starting anything.
func (s Spec) Validate() error {
	switch {
	case s.Cron != "" && s.Every != 0:
		return errors.New("cron and every are mutually exclusive")
	case s.Cron != "":
		if _, err := ParseCron(s.Cron); err != nil {
			return fmt.Errorf("parsing cron %q: %w", s.Cron, err)
		}
		return nil
	case s.Every > 0:
		return nil
	case s.Every < 0:
		return fmt.Errorf("every must be positive, got %s", s.Every)
	default:
		return errors.New("both cron and every are empty")
	}
}

func (s Spec) job() gocron.JobDefinition {
	if s.Cron != "" {
		return gocron.CronJob(strings.TrimSpace(s.Cron), false)
	}
	return gocron.DurationJob(s.Every)
}

// Scheduler runs a tick function on a Spec.
type Scheduler struct {
	inner  gocron.Scheduler
	logger *slog.Logger
}

// New creates a Scheduler calling tick on every activation. tick receives
// the context passed to Run.
func New(ctx context.Context, spec Spec, tick func(ctx context.Context), logger *slog.Logger) (*Scheduler, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}

	opts := []gocron.JobOption{
		gocron.WithName("client-run"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if spec.Immediately {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	_, err = s.NewJob(
		spec.job(),
		gocron.NewTask(func() { tick(ctx) }),
		opts...,
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	logger.DebugContext(ctx, "scheduler configured", "cron", spec.Cron, "every", spec.Every)

	return &Scheduler{inner: s, logger: logger}, nil
}

// Run starts the scheduler and blocks until ctx is done. A tick in
// progress is waited for before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.inner.Start()
	<-ctx.Done()
	if err := s.inner.Shutdown(); err != nil {
		s.logger.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
		return err
	}
	return nil
}

// NextRun returns the next activation time, zero before Start.
func (s *Scheduler) NextRun() time.Time {
	jobs := s.inner.Jobs()
	if len(jobs) == 0 {
		return time.Time{}
	}
	next, err := jobs[0].NextRun()
	if err != nil {
		return time.Time{}
	}
	return next
}
