// Package outbox holds intent transition events waiting to be relayed to the
// event stream. Rows are written in the same transaction as the transition.
package outbox

import (
	"time"

	"github.com/cassiomorais/payments-capture/internal/domain/intent"
	"github.com/google/uuid"
)

const (
	AggregatePaymentIntent = "payment_intent"
	DefaultMaxRetries      = 5
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

type Entry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       map[string]any
	Status        Status
	RetryCount    int
	MaxRetries    int
	LastError     *string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// FromEvent wraps an intent audit event for relay. The outbox id equals the
// event id so consumers can dedupe on it.
func FromEvent(ev *intent.Event) *Entry {
	return &Entry{
		ID:            ev.ID,
		AggregateType: AggregatePaymentIntent,
		AggregateID:   ev.IntentID,
		EventType:     ev.EventType,
		Payload:       ev.EventData,
		Status:        StatusPending,
		MaxRetries:    DefaultMaxRetries,
		CreatedAt:     ev.CreatedAt,
	}
}

// Exhausted reports whether one more failure would move the entry to failed.
func (e *Entry) Exhausted() bool {
	return e.RetryCount+1 >= e.MaxRetries
}
