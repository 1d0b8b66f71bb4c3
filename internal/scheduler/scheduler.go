// Package scheduler runs named periodic jobs on cron expressions with
// optional seconds resolution. A job that is still running when its next
// tick fires skips that tick.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	domainErrors "github.com/cassiomorais/payments-capture/internal/domain/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobFunc is one run of a job. ctx is cancelled when Stop gives up waiting.
type JobFunc = func(ctx context.Context) error

// Observer is told about every run, including skipped ones.
type Observer func(name string, status RunStatus, d time.Duration)

type RunStatus string

const (
	RunSucceeded RunStatus = "success"
	RunFailed    RunStatus = "error"
	RunSkipped   RunStatus = "skipped"
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type job struct {
	name    string
	spec    string
	id      cron.EntryID
	fn      JobFunc
	running atomic.Bool
}

// EntryInfo describes a registered job.
type EntryInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Scheduler struct {
	cron     *cron.Cron
	logger   zerolog.Logger
	observer Observer

	mu      sync.Mutex
	jobs    map[string]*job
	started atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Scheduler)

func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

func New(logger zerolog.Logger, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger:   logger.With().Str("component", "scheduler").Logger(),
		observer: func(string, RunStatus, time.Duration) {},
		jobs:     make(map[string]*job),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(s)
	}
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{s.logger})),
	)
	return s
}

// Parse validates a cron expression using the scheduler's dialect.
func Parse(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w: %w", spec, err, domainErrors.ErrInvalidInput)
	}
	return sched, nil
}

// Add registers fn under a unique name.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	if fn == nil {
		return fmt.Errorf("add job %s: nil func: %w", name, domainErrors.ErrInvalidInput)
	}
	sched, err := Parse(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("add job %s: already registered: %w", name, domainErrors.ErrInvalidInput)
	}
	j := &job{name: name, spec: spec, fn: fn}
	j.id = s.cron.Schedule(sched, s.wrap(j))
	s.jobs[name] = j
	return nil
}

// Reschedule moves a job to a new expression. The job's skip-if-running
// guard carries over, so a run in progress still blocks the next tick.
func (s *Scheduler) Reschedule(name, spec string) (bool, error) {
	sched, err := Parse(spec)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return false, fmt.Errorf("reschedule %s: unknown job: %w", name, domainErrors.ErrInvalidInput)
	}
	if j.spec == spec {
		return false, nil
	}

	s.cron.Remove(j.id)
	j.id = s.cron.Schedule(sched, s.wrap(j))
	s.logger.Info().Str("job", name).Str("from", j.spec).Str("to", spec).Msg("job rescheduled")
	j.spec = spec
	return true, nil
}

// Spec returns the current expression of a job.
func (s *Scheduler) Spec(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return "", false
	}
	return j.spec, true
}

func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		e := s.cron.Entry(j.id)
		out = append(out, EntryInfo{Name: j.name, Spec: j.spec, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// RunNow executes a job synchronously, honouring the skip guard.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s: unknown job: %w", name, domainErrors.ErrInvalidInput)
	}
	return s.run(j)
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.started.Store(true)
	s.logger.Info().Int("jobs", len(s.Entries())).Msg("scheduler started")
}

// Running reports whether the tick loop is live.
func (s *Scheduler) Running() bool {
	return s.started.Load()
}

// Stop prevents new ticks and waits for running jobs. If ctx ends first the
// job context is cancelled and ctx.Err is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.started.Store(false)
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done.Done()
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

func (s *Scheduler) wrap(j *job) cron.Job {
	return cron.FuncJob(func() {
		if err := s.run(j); err != nil {
			s.logger.Error().Err(err).Str("job", j.name).Msg("job failed")
		}
	})
}

func (s *Scheduler) run(j *job) error {
	if !j.running.CompareAndSwap(false, true) {
		s.logger.Warn().Str("job", j.name).Msg("previous run still in progress, skipping tick")
		s.observer(j.name, RunSkipped, 0)
		return nil
	}
	defer j.running.Store(false)

	start := time.Now()
	err := j.fn(s.ctx)
	status := RunSucceeded
	if err != nil {
		status = RunFailed
	}
	s.observer(j.name, status, time.Since(start))
	return err
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
