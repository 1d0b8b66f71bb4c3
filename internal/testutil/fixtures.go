package testutil

import (
	"time"

	"github.com/cassiomorais/payments-capture/internal/domain/intent"
	"github.com/google/uuid"
)

// IntentOption tweaks a fixture intent.
type IntentOption func(*intent.PaymentIntent)

func WithStatus(s intent.Status) IntentOption {
	return func(pi *intent.PaymentIntent) { pi.Status = s }
}

func WithProvider(name string) IntentOption {
	return func(pi *intent.PaymentIntent) { pi.Provider = name }
}

func WithAttempts(n int) IntentOption {
	return func(pi *intent.PaymentIntent) { pi.CaptureAttempts = n }
}

func WithVersion(v int64) IntentOption {
	return func(pi *intent.PaymentIntent) { pi.Version = v }
}

// CreatedAgo backdates creation and last update by d.
func CreatedAgo(d time.Duration) IntentOption {
	return func(pi *intent.PaymentIntent) {
		pi.CreatedAt = time.Now().UTC().Add(-d)
		pi.UpdatedAt = pi.CreatedAt
	}
}

// UpdatedAgo backdates the last update only.
func UpdatedAgo(d time.Duration) IntentOption {
	return func(pi *intent.PaymentIntent) { pi.UpdatedAt = time.Now().UTC().Add(-d) }
}

// NewTestIntent returns a requires_capture intent for 10.00 USD on "stripe",
// created an hour ago.
func NewTestIntent(opts ...IntentOption) *intent.PaymentIntent {
	created := time.Now().UTC().Add(-time.Hour)
	pi := &intent.PaymentIntent{
		ID:                uuid.New(),
		Status:            intent.StatusRequiresCapture,
		Amount:            intent.Amount{ValueCents: 1000, Currency: "USD"},
		Provider:          "stripe",
		Country:           "US",
		ProviderReference: "pi_" + uuid.NewString()[:8],
		Version:           1,
		CreatedAt:         created,
		UpdatedAt:         created,
	}
	for _, opt := range opts {
		opt(pi)
	}
	return pi
}

func StringPtr(s string) *string {
	return &s
}
