// Package capture drives payment intents from requires_capture to a terminal
// state. Every state change is a version-fenced conditional write, so any
// number of workers and processes may run attempts concurrently without
// capturing an intent twice.
package capture

import (
	"context"
	"fmt"
	"strconv"
	"time"

	domainErrors "github.com/cassiomorais/payments-capture/internal/domain/errors"
	"github.com/cassiomorais/payments-capture/internal/domain/intent"
	"github.com/cassiomorais/payments-capture/internal/infrastructure/observability"
	"github.com/cassiomorais/payments-capture/internal/providers"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Result is the decision an attempt reached.
type Result string

const (
	ResultSuccess      Result = "success"
	ResultDeclined     Result = "declined"
	ResultRetry        Result = "retry"
	ResultFailed       Result = "failed"
	ResultSkipped      Result = "skipped"
	ResultInconsistent Result = "inconsistent"
)

// CodeConcurrentAccess tags the DomainError returned for consistency failures.
const CodeConcurrentAccess = "payment_intent_concurrent_access"

// Attempt describes one orchestration run. It is only logged and measured.
type Attempt struct {
	IntentID    uuid.UUID
	Provider    string
	Country     string
	ReadStatus  intent.Status
	ReadVersion int64
	Number      int
	Outcome     *providers.Outcome
	Result      Result
	FinalStatus intent.Status
	Duration    time.Duration
}

type Orchestrator struct {
	store        intent.Store
	gateway      Gateway
	reconcile    ReconcilePublisher
	telemetry    observability.Telemetry
	logger       zerolog.Logger
	tracer       trace.Tracer
	maxAttempts  int
	writeTimeout time.Duration
	now          func() time.Time
}

type Option func(*Orchestrator)

// WithMaxAttempts caps provider calls per intent. n < 1 is ignored.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.maxAttempts = n
		}
	}
}

// WithOutcomeWriteTimeout bounds the store write that records a provider
// answer. That write outlives cancellation of the attempt context.
func WithOutcomeWriteTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

func WithReconcilePublisher(p ReconcilePublisher) Option {
	return func(o *Orchestrator) { o.reconcile = p }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func NewOrchestrator(
	store intent.Store,
	gateway Gateway,
	telemetry observability.Telemetry,
	logger zerolog.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		gateway:      gateway,
		telemetry:    telemetry,
		logger:       logger.With().Str("component", "capture_orchestrator").Logger(),
		tracer:       otel.Tracer("payments-capture/capture"),
		maxAttempts:  5,
		writeTimeout: 5 * time.Second,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one capture attempt for id.
//
// Losing a race is not an error: the attempt reports ResultSkipped. An error
// is returned only when the store fails, or when the provider captured the
// money but the captured transition could not be written; the latter wraps
// ErrConcurrentAccess and needs reconciliation.
func (o *Orchestrator) Run(ctx context.Context, id uuid.UUID) (Attempt, error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "capture.attempt",
		trace.WithAttributes(attribute.String("payment_intent.id", id.String())))
	defer span.End()

	a, err := o.run(ctx, id)
	a.IntentID = id
	a.Duration = time.Since(start)

	o.emit(a)

	span.SetAttributes(
		attribute.String("capture.result", string(a.Result)),
		attribute.Int("capture.attempt", a.Number),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return a, err
}

func (o *Orchestrator) run(ctx context.Context, id uuid.UUID) (Attempt, error) {
	a := Attempt{Result: ResultSkipped}

	pi, err := o.store.Get(ctx, id)
	if err != nil {
		return a, fmt.Errorf("load payment intent %s: %w", id, err)
	}
	a.Provider, a.Country = pi.Provider, pi.Country
	a.ReadStatus, a.ReadVersion, a.FinalStatus = pi.Status, pi.Version, pi.Status

	if pi.Status != intent.StatusRequiresCapture {
		o.logger.Debug().Str("intent_id", id.String()).Str("status", string(pi.Status)).Msg("intent no longer capturable, skipping")
		return a, nil
	}

	a.Number = pi.CaptureAttempts + 1
	claimed, err := o.store.Transition(ctx, id, pi.Version,
		intent.StatusRequiresCapture, intent.StatusCapturing,
		intent.Patch{CaptureAttempts: &a.Number})
	if err != nil {
		return a, fmt.Errorf("claim payment intent %s: %w", id, err)
	}
	if claimed == nil {
		o.logger.Debug().Str("intent_id", id.String()).Int64("version", pi.Version).Msg("claim lost to a concurrent attempt")
		return a, nil
	}
	a.FinalStatus = claimed.Status

	out := o.gateway.Capture(ctx, providers.CaptureRequest{
		IntentID:          id,
		Provider:          claimed.Provider,
		Country:           claimed.Country,
		ProviderReference: claimed.ProviderReference,
		AmountCents:       claimed.Amount.ValueCents,
		Currency:          claimed.Amount.Currency,
		IdempotencyKey:    providers.IdempotencyKey(id),
	})
	a.Outcome = &out

	var (
		to     intent.Status
		patch  intent.Patch
		result Result
	)
	switch out.Kind {
	case providers.OutcomeSucceeded:
		txID := out.ProviderTxID
		to, patch, result = intent.StatusCaptured, intent.Patch{ProviderTransactionID: &txID}, ResultSuccess
	case providers.OutcomeDeclined:
		reason := out.Reason
		to, patch, result = intent.StatusFailed, intent.Patch{LastError: &reason}, ResultDeclined
	case providers.OutcomeRetryableError:
		reason := out.Reason
		patch = intent.Patch{LastError: &reason}
		if a.Number >= o.maxAttempts {
			to, result = intent.StatusFailed, ResultFailed
		} else {
			to, result = intent.StatusRequiresCapture, ResultRetry
		}
	default:
		reason := out.Reason
		to, patch, result = intent.StatusFailed, intent.Patch{LastError: &reason}, ResultFailed
	}

	// the provider has answered; record it even if the attempt is being cancelled
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.writeTimeout)
	defer cancel()

	final, err := o.store.Transition(wctx, id, claimed.Version, intent.StatusCapturing, to, patch)
	if err != nil {
		if out.Kind == providers.OutcomeSucceeded {
			o.logger.Error().Err(err).
				Str("intent_id", id.String()).
				Str("provider_transaction_id", out.ProviderTxID).
				Msg("captured at provider but store write failed")
		}
		return a, fmt.Errorf("record capture outcome for %s: %w", id, err)
	}

	if final == nil {
		if out.Kind == providers.OutcomeSucceeded {
			a.Result = ResultInconsistent
			return a, o.consistencyFailure(wctx, claimed, out)
		}
		o.logger.Warn().
			Str("intent_id", id.String()).
			Str("outcome", string(out.Kind)).
			Msg("intent moved while provider call was in flight, outcome dropped")
		return a, nil
	}

	a.Result, a.FinalStatus = result, final.Status

	ev := o.logger.Info()
	if result != ResultSuccess {
		ev = o.logger.Warn().Str("reason", out.Reason)
	}
	ev.Str("intent_id", id.String()).
		Str("result", string(result)).
		Int("attempt", a.Number).
		Str("status", string(final.Status)).
		Msg("capture attempt finished")
	return a, nil
}

// consistencyFailure handles a provider success whose captured write lost
// its fence. The money moved; the record says otherwise.
func (o *Orchestrator) consistencyFailure(ctx context.Context, claimed *intent.PaymentIntent, out providers.Outcome) error {
	f := intent.ConsistencyFailure{
		IntentID:        claimed.ID,
		Provider:        claimed.Provider,
		ProviderTxID:    out.ProviderTxID,
		ExpectedVersion: claimed.Version,
		DetectedAt:      o.now(),
	}
	if current, err := o.store.Get(ctx, claimed.ID); err == nil {
		f.ObservedStatus, f.ObservedVersion = current.Status, current.Version
	}

	o.logger.Error().
		Str("intent_id", f.IntentID.String()).
		Str("provider", f.Provider).
		Str("provider_transaction_id", f.ProviderTxID).
		Int64("expected_version", f.ExpectedVersion).
		Str("observed_status", string(f.ObservedStatus)).
		Int64("observed_version", f.ObservedVersion).
		Msg("provider captured payment but intent could not be marked captured")

	o.telemetry.Incr(observability.MetricConsistencyFailure, map[string]string{"provider_name": f.Provider})

	if o.reconcile != nil {
		if err := o.reconcile.PublishReconcile(ctx, f); err != nil {
			o.logger.Error().Err(err).Str("intent_id", f.IntentID.String()).Msg("failed to publish reconcile request")
		}
	}

	return domainErrors.NewDomainError(CodeConcurrentAccess,
		fmt.Sprintf("payment intent %s captured as %s but changed concurrently", f.IntentID, f.ProviderTxID),
		domainErrors.ErrConcurrentAccess)
}

func (o *Orchestrator) emit(a Attempt) {
	code := ""
	if a.Outcome != nil {
		code = strconv.Itoa(a.Outcome.StatusCode)
	}
	o.telemetry.Timing(observability.MetricCaptureTransition, a.Duration, map[string]string{
		"provider_name":  a.Provider,
		"country":        a.Country,
		"resource":       "payment_intent",
		"action":         "capture",
		"status_code":    code,
		"request_status": string(a.Result),
	})
}

// Resolve returns an intent stuck in capturing to requires_capture. The
// interrupted attempt still counts toward the cap; the next one replays the
// intent's idempotency key and observes whatever the provider already did.
func (o *Orchestrator) Resolve(ctx context.Context, id uuid.UUID) (bool, error) {
	pi, err := o.store.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("load payment intent %s: %w", id, err)
	}
	if pi.Status != intent.StatusCapturing {
		return false, nil
	}

	reason := fmt.Sprintf("attempt %d abandoned in capturing since %s", pi.CaptureAttempts, pi.UpdatedAt.Format(time.RFC3339))
	updated, err := o.store.Transition(ctx, id, pi.Version,
		intent.StatusCapturing, intent.StatusRequiresCapture,
		intent.Patch{LastError: &reason})
	if err != nil {
		return false, fmt.Errorf("resolve payment intent %s: %w", id, err)
	}
	if updated == nil {
		return false, nil
	}

	o.logger.Warn().Str("intent_id", id.String()).Int("attempt", pi.CaptureAttempts).Msg("stuck capture returned to requires_capture")
	return true, nil
}
