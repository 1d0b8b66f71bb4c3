package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/cassiomorais/payments-capture/internal/domain/intent"
	"github.com/cassiomorais/payments-capture/internal/domain/outbox"
	"github.com/cassiomorais/payments-capture/internal/providers"
	"github.com/cassiomorais/payments-capture/internal/repository/memory"
	"github.com/google/uuid"
)

// --- Intent Store Mock ---

// MockIntentStore wraps the in-memory store. A non-nil Func replaces the
// corresponding method; the wrapped store stays reachable through Inner.
type MockIntentStore struct {
	Inner *memory.IntentStore

	FetchEligibleFunc func(ctx context.Context, cutoff time.Time, limit int) ([]*intent.PaymentIntent, error)
	FetchStuckFunc    func(ctx context.Context, cutoff time.Time, limit int) ([]*intent.PaymentIntent, error)
	GetFunc           func(ctx context.Context, id uuid.UUID) (*intent.PaymentIntent, error)
	TransitionFunc    func(ctx context.Context, id uuid.UUID, expectedVersion int64, from, to intent.Status, patch intent.Patch) (*intent.PaymentIntent, error)
}

func NewMockIntentStore() *MockIntentStore {
	return &MockIntentStore{Inner: memory.NewIntentStore()}
}

// AddIntent pre-populates the store.
func (m *MockIntentStore) AddIntent(pi *intent.PaymentIntent) {
	_ = m.Inner.Insert(context.Background(), pi)
}

// MustGet returns the stored intent or nil.
func (m *MockIntentStore) MustGet(id uuid.UUID) *intent.PaymentIntent {
	pi, err := m.Inner.Get(context.Background(), id)
	if err != nil {
		return nil
	}
	return pi
}

func (m *MockIntentStore) FetchEligible(ctx context.Context, cutoff time.Time, limit int) ([]*intent.PaymentIntent, error) {
	if m.FetchEligibleFunc != nil {
		return m.FetchEligibleFunc(ctx, cutoff, limit)
	}
	return m.Inner.FetchEligible(ctx, cutoff, limit)
}

func (m *MockIntentStore) FetchStuck(ctx context.Context, cutoff time.Time, limit int) ([]*intent.PaymentIntent, error) {
	if m.FetchStuckFunc != nil {
		return m.FetchStuckFunc(ctx, cutoff, limit)
	}
	return m.Inner.FetchStuck(ctx, cutoff, limit)
}

func (m *MockIntentStore) Get(ctx context.Context, id uuid.UUID) (*intent.PaymentIntent, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return m.Inner.Get(ctx, id)
}

func (m *MockIntentStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	expectedVersion int64,
	from, to intent.Status,
	patch intent.Patch,
) (*intent.PaymentIntent, error) {
	if m.TransitionFunc != nil {
		return m.TransitionFunc(ctx, id, expectedVersion, from, to, patch)
	}
	return m.Inner.Transition(ctx, id, expectedVersion, from, to, patch)
}

// --- Gateway Mock ---

// MockGateway returns scripted outcomes in order, repeating the last one.
// With no script every capture succeeds.
type MockGateway struct {
	mu       sync.Mutex
	outcomes []providers.Outcome
	requests []providers.CaptureRequest

	CaptureFunc func(ctx context.Context, req providers.CaptureRequest) providers.Outcome
}

func NewMockGateway(outcomes ...providers.Outcome) *MockGateway {
	return &MockGateway{outcomes: outcomes}
}

func (m *MockGateway) Capture(ctx context.Context, req providers.CaptureRequest) providers.Outcome {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	n := len(m.requests)
	m.mu.Unlock()

	if m.CaptureFunc != nil {
		return m.CaptureFunc(ctx, req)
	}
	if len(m.outcomes) == 0 {
		return Succeeded("tx_" + req.IdempotencyKey)
	}
	return m.outcomes[min(n, len(m.outcomes))-1]
}

// Requests returns every capture request seen so far.
func (m *MockGateway) Requests() []providers.CaptureRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]providers.CaptureRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func Succeeded(txID string) providers.Outcome {
	return providers.Outcome{Kind: providers.OutcomeSucceeded, ProviderTxID: txID, StatusCode: 200}
}

func Declined(reason string) providers.Outcome {
	return providers.Outcome{Kind: providers.OutcomeDeclined, Reason: reason, StatusCode: 402}
}

func Retryable(reason string) providers.Outcome {
	return providers.Outcome{Kind: providers.OutcomeRetryableError, Reason: reason, StatusCode: 503}
}

func Permanent(reason string) providers.Outcome {
	return providers.Outcome{Kind: providers.OutcomePermanentError, Reason: reason, StatusCode: 400}
}

// --- Telemetry Mock ---

// TelemetryRecord is one captured telemetry triple.
type TelemetryRecord struct {
	Name     string
	Duration time.Duration
	Tags     map[string]string
}

// MockTelemetry records every Timing and Incr call.
type MockTelemetry struct {
	mu      sync.Mutex
	timings []TelemetryRecord
	counts  []TelemetryRecord
}

func NewMockTelemetry() *MockTelemetry {
	return &MockTelemetry{}
}

func (m *MockTelemetry) Timing(name string, d time.Duration, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timings = append(m.timings, TelemetryRecord{Name: name, Duration: d, Tags: tags})
}

func (m *MockTelemetry) Incr(name string, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = append(m.counts, TelemetryRecord{Name: name, Tags: tags})
}

// Timings returns the recorded timings named name.
func (m *MockTelemetry) Timings(name string) []TelemetryRecord {
	return filter(&m.mu, m.timings, name)
}

// Counts returns the recorded increments named name.
func (m *MockTelemetry) Counts(name string) []TelemetryRecord {
	return filter(&m.mu, m.counts, name)
}

func filter(mu *sync.Mutex, records []TelemetryRecord, name string) []TelemetryRecord {
	mu.Lock()
	defer mu.Unlock()
	var out []TelemetryRecord
	for _, r := range records {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

// --- Transaction Manager Mock ---

// MockTransactionManager is a mock implementation of TransactionManager.
type MockTransactionManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// --- Outbox Repository Mock ---

// MockOutboxRepository is a mock implementation of outbox.Repository.
type MockOutboxRepository struct {
	InsertFunc        func(ctx context.Context, entry *outbox.Entry) error
	GetPendingFunc    func(ctx context.Context, limit int) ([]*outbox.Entry, error)
	MarkPublishedFunc func(ctx context.Context, id uuid.UUID) error
	MarkFailedFunc    func(ctx context.Context, id uuid.UUID, reason string) error
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	return nil
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, limit)
	}
	return nil, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id)
	}
	return nil
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id, reason)
	}
	return nil
}

// --- Publisher Mocks ---

// MockPublisher records published outbox entries and reconcile requests.
type MockPublisher struct {
	mu         sync.Mutex
	events     []*outbox.Entry
	reconciles []intent.ConsistencyFailure

	PublishIntentEventFunc func(ctx context.Context, entry *outbox.Entry) error
	PublishReconcileFunc   func(ctx context.Context, f intent.ConsistencyFailure) error
}

func (m *MockPublisher) PublishIntentEvent(ctx context.Context, entry *outbox.Entry) error {
	if m.PublishIntentEventFunc != nil {
		if err := m.PublishIntentEventFunc(ctx, entry); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, entry)
	return nil
}

func (m *MockPublisher) PublishReconcile(ctx context.Context, f intent.ConsistencyFailure) error {
	if m.PublishReconcileFunc != nil {
		if err := m.PublishReconcileFunc(ctx, f); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciles = append(m.reconciles, f)
	return nil
}

func (m *MockPublisher) Events() []*outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*outbox.Entry(nil), m.events...)
}

func (m *MockPublisher) Reconciles() []intent.ConsistencyFailure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]intent.ConsistencyFailure(nil), m.reconciles...)
}

// --- Tick Locker Mock ---

// MockTickLocker hands out one lock per name until released.
type MockTickLocker struct {
	mu   sync.Mutex
	held map[string]bool

	TryLockFunc func(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error)
}

func NewMockTickLocker() *MockTickLocker {
	return &MockTickLocker{held: make(map[string]bool)}
}

func (m *MockTickLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if m.TryLockFunc != nil {
		return m.TryLockFunc(ctx, name, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[name] {
		return nil, false, nil
	}
	m.held[name] = true
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, name)
		return nil
	}, true, nil
}

// Hold marks name as owned by someone else.
func (m *MockTickLocker) Hold(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[name] = true
}

// --- Rescheduler Mock ---

// MockRescheduler records Reschedule calls.
type MockRescheduler struct {
	mu    sync.Mutex
	specs map[string]string
}

func NewMockRescheduler() *MockRescheduler {
	return &MockRescheduler{specs: make(map[string]string)}
}

func (m *MockRescheduler) Reschedule(name, spec string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.specs[name] != spec
	m.specs[name] = spec
	return changed, nil
}

func (m *MockRescheduler) Spec(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.specs[name]
}
