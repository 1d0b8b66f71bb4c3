package providers

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockProvider simulates a provider with configurable latency and failure
// rates. It honours idempotency keys and refuses to capture the same
// provider reference twice.
type MockProvider struct {
	name          string
	latency       time.Duration
	declineRate   float64 // 0.0 to 1.0
	transientRate float64 // 0.0 to 1.0
	timeoutRate   float64 // 0.0 to 1.0

	mu       sync.Mutex
	byKey    map[string]*CaptureResult
	captured map[string]string
	calls    int
}

type MockProviderOption func(*MockProvider)

func WithLatency(d time.Duration) MockProviderOption {
	return func(p *MockProvider) { p.latency = d }
}

func WithDeclineRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.declineRate = rate }
}

func WithTransientRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.transientRate = rate }
}

// WithTimeoutRate makes a share of calls hang until the caller gives up.
func WithTimeoutRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.timeoutRate = rate }
}

func NewMockProvider(name string, opts ...MockProviderOption) *MockProvider {
	p := &MockProvider{
		name:     name,
		latency:  100 * time.Millisecond,
		byKey:    make(map[string]*CaptureResult),
		captured: make(map[string]string),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *MockProvider) Name() string { return p.name }

// Calls returns how many capture requests reached the provider.
func (p *MockProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *MockProvider) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	p.mu.Lock()
	p.calls++
	if res, ok := p.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		p.mu.Unlock()
		return res, nil
	}
	p.mu.Unlock()

	select {
	case <-time.After(p.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if rand.Float64() < p.timeoutRate {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if rand.Float64() < p.transientRate {
		return nil, &ProviderError{StatusCode: http.StatusServiceUnavailable, Code: "api_error", Message: "simulated outage"}
	}
	if rand.Float64() < p.declineRate {
		return nil, &ProviderError{StatusCode: http.StatusPaymentRequired, Code: "card_declined", Message: "simulated decline"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if txID, ok := p.captured[req.ProviderReference]; ok {
		return nil, &ProviderError{
			StatusCode: http.StatusBadRequest,
			Code:       "payment_intent_unexpected_state",
			Message:    fmt.Sprintf("%s already captured as %s", req.ProviderReference, txID),
		}
	}
	res := &CaptureResult{
		TransactionID: fmt.Sprintf("%s_txn_%s", p.name, uuid.New().String()[:8]),
		StatusCode:    http.StatusOK,
	}
	p.captured[req.ProviderReference] = res.TransactionID
	if req.IdempotencyKey != "" {
		p.byKey[req.IdempotencyKey] = res
	}
	return res, nil
}
