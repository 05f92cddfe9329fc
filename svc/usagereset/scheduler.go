// Package usagereset runs the monthly usage counter reset on a cron schedule.
package usagereset

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/usagegate/pkg/logger"
)

// TriggerSchedule labels resets started by the scheduler.
const TriggerSchedule = "schedule"

var (
	ErrNoSchedule      = errors.New("usagereset: schedule is empty")
	ErrInvalidSchedule = errors.New("usagereset: invalid cron schedule")
	ErrNilResetter     = errors.New("usagereset: resetter is nil")
)

// Resetter zeroes the usage counters of every record.
// subscription.Resetter satisfies it.
type Resetter interface {
	ResetAll(ctx context.Context) (int64, error)
}

// Observer receives the result of every run. metrics.Metrics satisfies it.
type Observer interface {
	ObserveReset(trigger string, affected int64, err error)
}

// Scheduler calls Resetter.ResetAll on a standard five-field cron schedule.
type Scheduler struct {
	resetter Resetter
	schedule cron.Schedule
	spec     string
	location *time.Location
	timeout  time.Duration
	log      *slog.Logger
	observer Observer

	mu  sync.Mutex
	ctx context.Context
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// WithLocation sets the time zone the schedule is evaluated in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithTimeout bounds a single reset run. Defaults to five minutes.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New validates spec (e.g. "0 0 1 * *") and builds a Scheduler.
func New(resetter Resetter, spec string, opts ...Option) (*Scheduler, error) {
	if resetter == nil {
		return nil, ErrNilResetter
	}
	if spec == "" {
		return nil, ErrNoSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidSchedule, err)
	}

	s := &Scheduler{
		resetter: resetter,
		schedule: schedule,
		spec:     spec,
		location: time.UTC,
		timeout:  5 * time.Minute,
		log:      logger.Nop(),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Next returns the first run time strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.location))
}

// Run starts the cron loop and blocks until ctx is done. A run in progress
// is cancelled and awaited before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { _, _ = s.RunOnce(s.runContext()) }))
	c.Start()

	s.log.InfoContext(ctx, "usage reset scheduled",
		logger.Component("usage_reset"),
		slog.String("schedule", s.spec),
		slog.Time("next_run", s.Next(time.Now())),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// RunOnce performs one reset and reports it to the observer.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.resetter.ResetAll(ctx)
	if s.observer != nil {
		s.observer.ObserveReset(TriggerSchedule, n, err)
	}
	if err != nil {
		s.log.ErrorContext(ctx, "scheduled usage reset failed",
			logger.Error(err),
			logger.Component("usage_reset"),
			logger.Duration(time.Since(start)),
		)
		return 0, err
	}

	s.log.InfoContext(ctx, "scheduled usage reset done",
		logger.Component("usage_reset"),
		logger.Affected(n),
		logger.Duration(time.Since(start)),
	)
	return n, nil
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, append(keysAndValues, logger.Component("usage_reset"))...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, logger.Error(err), logger.Component("usage_reset"))...)
}
