package intent

import (
	"fmt"
	"time"

	"github.com/cassiomorais/payments-capture/internal/domain/errors"
	"github.com/google/uuid"
)

// Status represents the payment intent status in the capture state machine
type Status string

const (
	StatusRequiresCapture Status = "requires_capture"
	StatusCapturing       Status = "capturing"
	StatusCaptured        Status = "captured"
	StatusCancelled       Status = "cancelled"
	StatusFailed          Status = "failed"
)

// transitions lists every edge the capture pipeline may take.
var transitions = map[Status][]Status{
	StatusRequiresCapture: {
		StatusCapturing,
		StatusCancelled,
	},
	StatusCapturing: {
		StatusCaptured,
		StatusFailed,
		StatusRequiresCapture, // retryable provider error or stuck resolution
	},
	StatusCaptured:  {},
	StatusCancelled: {},
	StatusFailed:    {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal checks if the status is terminal
func (s Status) IsTerminal() bool {
	return s == StatusCaptured || s == StatusCancelled || s == StatusFailed
}

// CanTransition checks if from -> to is a legal edge
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a DomainError for illegal edges.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(from)+" to "+string(to),
			errors.ErrInvalidStateTransition,
		)
	}
	return nil
}

// Amount represents a monetary amount in the smallest currency unit (e.g. cents).
type Amount struct {
	ValueCents int64
	Currency   string
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	whole := a.ValueCents / 100
	frac := a.ValueCents % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d %s", whole, frac, a.Currency)
}

// Validate checks that the amount is valid.
func (a Amount) Validate() error {
	if a.ValueCents <= 0 {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if a.Currency == "" {
		return errors.NewValidationError("currency", "cannot be empty")
	}
	if len(a.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}

// PaymentIntent is a provisional authorization waiting to be captured.
// Version is the optimistic-concurrency fence: every successful transition
// increments it by one.
type PaymentIntent struct {
	ID                    uuid.UUID
	Status                Status
	Amount                Amount
	Provider              string
	Country               string
	ProviderReference     string
	ProviderTransactionID *string
	CaptureAttempts       int
	LastError             *string
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
	CapturedAt            *time.Time
}

// NewPaymentIntent creates an intent in requires_capture.
func NewPaymentIntent(provider, country, providerReference string, amount Amount) (*PaymentIntent, error) {
	if err := amount.Validate(); err != nil {
		return nil, err
	}
	if providerReference == "" {
		return nil, errors.NewValidationError("provider_reference", "cannot be empty")
	}

	now := time.Now().UTC()
	return &PaymentIntent{
		ID:                uuid.New(),
		Status:            StatusRequiresCapture,
		Amount:            amount,
		Provider:          provider,
		Country:           country,
		ProviderReference: providerReference,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Clone returns a deep copy, so stores never hand out shared pointers.
func (p *PaymentIntent) Clone() *PaymentIntent {
	c := *p
	if p.ProviderTransactionID != nil {
		v := *p.ProviderTransactionID
		c.ProviderTransactionID = &v
	}
	if p.LastError != nil {
		v := *p.LastError
		c.LastError = &v
	}
	if p.CapturedAt != nil {
		v := *p.CapturedAt
		c.CapturedAt = &v
	}
	return &c
}

// Patch holds the optional fields written together with a transition.
type Patch struct {
	ProviderTransactionID *string
	LastError             *string
	CaptureAttempts       *int
}

// Apply moves p to status `to` and writes the patch. It does not check the
// fence; that is the store's job.
func (p *PaymentIntent) Apply(to Status, patch Patch, now time.Time) {
	p.Status = to
	if patch.ProviderTransactionID != nil {
		v := *patch.ProviderTransactionID
		p.ProviderTransactionID = &v
	}
	if patch.LastError != nil {
		v := *patch.LastError
		p.LastError = &v
	}
	if patch.CaptureAttempts != nil {
		p.CaptureAttempts = *patch.CaptureAttempts
	}
	if to == StatusCaptured {
		p.CapturedAt = &now
	}
	p.Version++
	p.UpdatedAt = now
}

// Event is an audit record written alongside each transition.
type Event struct {
	ID        uuid.UUID
	IntentID  uuid.UUID
	EventType string
	EventData map[string]any
	CreatedAt time.Time
}

// EventType returns the audit/outbox event name for a transition into status.
func EventType(to Status) string {
	return "payment_intent." + string(to)
}

// NewEvent builds the audit record for a transition of pi out of from. pi
// must already carry the new status and version.
func NewEvent(pi *PaymentIntent, from Status, now time.Time) *Event {
	data := map[string]any{
		"from":             string(from),
		"to":               string(pi.Status),
		"version":          pi.Version,
		"capture_attempts": pi.CaptureAttempts,
		"amount_cents":     pi.Amount.ValueCents,
		"currency":         pi.Amount.Currency,
		"provider":         pi.Provider,
	}
	if pi.ProviderTransactionID != nil {
		data["provider_transaction_id"] = *pi.ProviderTransactionID
	}
	if pi.LastError != nil {
		data["last_error"] = *pi.LastError
	}
	return &Event{
		ID:        uuid.New(),
		IntentID:  pi.ID,
		EventType: EventType(pi.Status),
		EventData: data,
		CreatedAt: now,
	}
}

// ConsistencyFailure records a provider capture that succeeded while the
// local capturing→captured write lost its fence. Someone must reconcile the
// record with the provider.
type ConsistencyFailure struct {
	IntentID        uuid.UUID
	Provider        string
	ProviderTxID    string
	ExpectedVersion int64
	ObservedStatus  Status
	ObservedVersion int64
	DetectedAt      time.Time
}
