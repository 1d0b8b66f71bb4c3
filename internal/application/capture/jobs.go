package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/payments-capture/internal/domain/errors"
	"github.com/cassiomorais/payments-capture/internal/domain/intent"
	"github.com/cassiomorais/payments-capture/internal/domain/outbox"
	"github.com/cassiomorais/payments-capture/internal/infrastructure/observability"
	"github.com/cassiomorais/payments-capture/internal/workerpool"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scheduled job names.
const (
	JobCapture   = "capture_uncaptured_payment_intents"
	JobResolve   = "resolve_capturing_payment_intents"
	JobResize    = "adjust_pool_sizes"
	JobHeartbeat = "heartbeat"
	JobMonitor   = "monitor_pool_stats"
	JobRelay     = "relay_outbox"
)

// JobsConfig tunes the scheduled jobs.
type JobsConfig struct {
	EligibleAge time.Duration
	StuckAge    time.Duration
	BatchLimit  int
	TickLockTTL time.Duration
}

// Schedules holds the cron expression of every job. Empty disables a job.
type Schedules struct {
	Capture   string
	Resolve   string
	Resize    string
	Heartbeat string
	Monitor   string
	Relay     string
}

// Registrar accepts named periodic jobs.
type Registrar interface {
	Add(name, spec string, fn func(ctx context.Context) error) error
}

// Jobs are the periodic entry points of the pipeline. Dispatch only enqueues;
// the orchestrations run on the pool.
type Jobs struct {
	cfg       JobsConfig
	store     intent.Store
	orch      *Orchestrator
	pool      Pool
	runtime   RuntimeSource
	scheduler Rescheduler
	locker    TickLocker
	outbox    outbox.Repository
	tx        TransactionManager
	events    EventPublisher
	telemetry observability.Telemetry
	metrics   *observability.Metrics
	onFatal   func(id uuid.UUID, err error)
	logger    zerolog.Logger
	now       func() time.Time
}

// JobsDeps lists the collaborators. Locker, Outbox, TX, Events, Metrics and
// OnFatal are optional. OnFatal sees every attempt error that domainErrors.IsFatal
// reports, i.e. captures the store could not record.
type JobsDeps struct {
	Store     intent.Store
	Orch      *Orchestrator
	Pool      Pool
	Runtime   RuntimeSource
	Scheduler Rescheduler
	Locker    TickLocker
	Outbox    outbox.Repository
	TX        TransactionManager
	Events    EventPublisher
	Telemetry observability.Telemetry
	Metrics   *observability.Metrics
	OnFatal   func(id uuid.UUID, err error)
	Logger    zerolog.Logger
}

func NewJobs(cfg JobsConfig, deps JobsDeps) *Jobs {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	telemetry := deps.Telemetry
	if telemetry == nil {
		telemetry = observability.NopTelemetry{}
	}
	return &Jobs{
		cfg:       cfg,
		store:     deps.Store,
		orch:      deps.Orch,
		pool:      deps.Pool,
		runtime:   deps.Runtime,
		scheduler: deps.Scheduler,
		locker:    deps.Locker,
		outbox:    deps.Outbox,
		tx:        deps.TX,
		events:    deps.Events,
		telemetry: telemetry,
		metrics:   deps.Metrics,
		onFatal:   deps.OnFatal,
		logger:    deps.Logger.With().Str("component", "capture_jobs").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register adds every job with a non-empty schedule.
func (j *Jobs) Register(r Registrar, s Schedules) error {
	jobs := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{JobCapture, s.Capture, j.DispatchCaptures},
		{JobResolve, s.Resolve, j.ResolveStuck},
		{JobResize, s.Resize, j.ResizePool},
		{JobHeartbeat, s.Heartbeat, j.Heartbeat},
		{JobMonitor, s.Monitor, j.ReportPoolStats},
		{JobRelay, s.Relay, j.RelayOutbox},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if job.name == JobRelay && (j.outbox == nil || j.events == nil) {
			continue
		}
		if err := r.Add(job.name, job.spec, job.fn); err != nil {
			return fmt.Errorf("register %s: %w", job.name, err)
		}
	}
	return nil
}

// DispatchCaptures submits one orchestration per eligible intent. When the
// pool saturates, the remaining intents wait for a later tick.
func (j *Jobs) DispatchCaptures(ctx context.Context) error {
	release, ok, err := j.tickLock(ctx, JobCapture)
	if !ok {
		return err
	}
	defer release()

	intents, err := j.store.FetchEligible(ctx, j.now().Add(-j.cfg.EligibleAge), j.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("fetch eligible intents: %w", err)
	}

	submitted, dropped := 0, 0
	for i, pi := range intents {
		id := pi.ID
		_, err := j.pool.Submit("capture:"+id.String(), j.captureTask(id))
		if errors.Is(err, domainErrors.ErrPoolSaturated) {
			dropped = len(intents) - i
			j.logger.Warn().
				Str("pool", j.pool.Name()).
				Int("dropped", dropped).
				Int("submitted", submitted).
				Msg("worker pool saturated, deferring remaining intents to next tick")
			break
		}
		if errors.Is(err, domainErrors.ErrPoolShutDown) {
			j.logger.Info().Msg("worker pool shutting down, stopping dispatch")
			break
		}
		if err != nil {
			return fmt.Errorf("submit capture for %s: %w", id, err)
		}
		submitted++
	}

	if j.metrics != nil {
		j.metrics.CaptureDispatched.WithLabelValues(j.pool.Name(), "submitted").Add(float64(submitted))
		j.metrics.CaptureDispatched.WithLabelValues(j.pool.Name(), "saturated").Add(float64(dropped))
	}
	j.logger.Debug().Int("eligible", len(intents)).Int("submitted", submitted).Msg("capture tick dispatched")
	return nil
}

// ResolveStuck returns intents abandoned in capturing to requires_capture.
func (j *Jobs) ResolveStuck(ctx context.Context) error {
	release, ok, err := j.tickLock(ctx, JobResolve)
	if !ok {
		return err
	}
	defer release()

	stuck, err := j.store.FetchStuck(ctx, j.now().Add(-j.cfg.StuckAge), j.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("fetch stuck intents: %w", err)
	}

	var errs []error
	resolved := 0
	for _, pi := range stuck {
		ok, err := j.orch.Resolve(ctx, pi.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			resolved++
		}
	}
	if len(stuck) > 0 {
		j.logger.Info().Int("stuck", len(stuck)).Int("resolved", resolved).Msg("resolved stuck captures")
	}
	return errors.Join(errs...)
}

// ResizePool applies the runtime pool size and capture cadence.
func (j *Jobs) ResizePool(ctx context.Context) error {
	snap, err := j.runtime.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("read runtime config: %w", err)
	}

	if current := j.pool.Size(); current != snap.PoolSize {
		if err := j.pool.Resize(snap.PoolSize); err != nil {
			return fmt.Errorf("resize pool %s: %w", j.pool.Name(), err)
		}
		j.logger.Info().Str("pool", j.pool.Name()).Int("from", current).Int("to", snap.PoolSize).Msg("worker pool resized")
	}

	if j.scheduler != nil && snap.CaptureCron != "" {
		if _, err := j.scheduler.Reschedule(JobCapture, snap.CaptureCron); err != nil {
			return fmt.Errorf("reschedule capture: %w", err)
		}
	}
	return nil
}

func (j *Jobs) Heartbeat(context.Context) error {
	j.telemetry.Incr(observability.MetricSchedulerHeartbeat, nil)
	j.logger.Debug().Msg("scheduler heartbeat")
	return nil
}

// ReportPoolStats publishes the pool counters as gauges.
func (j *Jobs) ReportPoolStats(context.Context) error {
	stats := j.pool.Stats()
	if j.metrics != nil {
		name := j.pool.Name()
		for state, v := range poolStates(stats) {
			j.metrics.PoolJobs.WithLabelValues(name, state).Set(float64(v))
		}
		j.metrics.PoolMaxWorkers.WithLabelValues(name).Set(float64(stats.MaxWorkers))
	}
	j.logger.Debug().
		Str("pool", j.pool.Name()).
		Int64("queued", stats.Queued).
		Int64("in_flight", stats.InFlight).
		Int64("completed", stats.Completed).
		Int64("rejected", stats.Rejected).
		Int("max_workers", stats.MaxWorkers).
		Msg("worker pool stats")
	return nil
}

func poolStates(s workerpool.Stats) map[string]int64 {
	return map[string]int64{
		"submitted": s.Submitted,
		"queued":    s.Queued,
		"in_flight": s.InFlight,
		"completed": s.Completed,
		"rejected":  s.Rejected,
		"cancelled": s.Cancelled,
	}
}

// relayBatch bounds the outbox rows locked by one relay run.
const relayBatch = 100

// RelayOutbox publishes pending outbox entries inside one transaction so
// concurrent relays skip each other's rows.
func (j *Jobs) RelayOutbox(ctx context.Context) error {
	if j.outbox == nil || j.events == nil {
		return nil
	}
	relay := func(ctx context.Context) error {
		entries, err := j.outbox.GetPending(ctx, relayBatch)
		if err != nil {
			return err
		}
		for _, e := range entries {
			status := "published"
			if err := j.events.PublishIntentEvent(ctx, e); err != nil {
				status = "failed"
				j.logger.Warn().Err(err).Str("outbox_id", e.ID.String()).Int("retry_count", e.RetryCount).Msg("outbox relay failed")
				if err := j.outbox.MarkFailed(ctx, e.ID, err.Error()); err != nil {
					return err
				}
				if e.Exhausted() {
					j.logger.Error().Str("outbox_id", e.ID.String()).Str("event_type", e.EventType).Msg("outbox entry exhausted retries")
				}
			} else if err := j.outbox.MarkPublished(ctx, e.ID); err != nil {
				return err
			}
			if j.metrics != nil {
				j.metrics.OutboxRelayed.WithLabelValues(status).Inc()
			}
		}
		return nil
	}
	if j.tx == nil {
		return relay(ctx)
	}
	return j.tx.WithTransaction(ctx, relay)
}

// tickLock returns ok=false when another replica owns this tick. Lock
// backend errors are logged and the tick proceeds; the store fences still
// hold without it.
func (j *Jobs) tickLock(ctx context.Context, name string) (func(), bool, error) {
	noop := func() {}
	if j.locker == nil || j.cfg.TickLockTTL <= 0 {
		return noop, true, nil
	}
	release, ok, err := j.locker.TryLock(ctx, name, j.cfg.TickLockTTL)
	if err != nil {
		j.logger.Warn().Err(err).Str("job", name).Msg("tick lock unavailable, running unlocked")
		return noop, true, nil
	}
	if !ok {
		j.logger.Debug().Str("job", name).Msg("tick owned by another replica")
		return noop, false, nil
	}
	return func() {
		if err := release(context.Background()); err != nil && !errors.Is(err, domainErrors.ErrLockNotHeld) {
			j.logger.Warn().Err(err).Str("job", name).Msg("failed to release tick lock")
		}
	}, true, nil
}

// Enqueue submits a single intent outside the schedule and returns the pool
// task id.
func (j *Jobs) Enqueue(id uuid.UUID) (uint64, error) {
	h, err := j.pool.Submit("capture:"+id.String(), j.captureTask(id))
	if err != nil {
		return 0, err
	}
	return h.ID(), nil
}

func (j *Jobs) captureTask(id uuid.UUID) workerpool.Task[Attempt] {
	return func(ctx context.Context) (Attempt, error) {
		a, err := j.orch.Run(ctx, id)
		if err != nil && j.onFatal != nil && domainErrors.IsFatal(err) {
			j.onFatal(id, err)
		}
		return a, err
	}
}
