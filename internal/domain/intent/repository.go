package intent

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines the persistence contract the capture pipeline depends on.
// Transition is a compare-and-swap on (version, status): it returns the
// updated record on success and (nil, nil) when the precondition failed.
// Implementations must be linearizable per record.
type Store interface {
	// FetchEligible returns requires_capture intents created before cutoff, oldest first.
	FetchEligible(ctx context.Context, cutoff time.Time, limit int) ([]*PaymentIntent, error)

	// FetchStuck returns capturing intents last updated before cutoff, oldest first.
	FetchStuck(ctx context.Context, cutoff time.Time, limit int) ([]*PaymentIntent, error)

	// Get retrieves an intent by ID
	Get(ctx context.Context, id uuid.UUID) (*PaymentIntent, error)

	// Transition conditionally moves an intent from one status to another
	Transition(ctx context.Context, id uuid.UUID, expectedVersion int64, from, to Status, patch Patch) (*PaymentIntent, error)
}
