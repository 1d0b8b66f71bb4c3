package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/payments-capture/internal/domain/errors"
	"github.com/cassiomorais/payments-capture/internal/domain/intent"
	"github.com/google/uuid"
)

// IntentStore is an in-process intent.Store. A single mutex makes every
// transition linearizable, which is all the contract asks for.
type IntentStore struct {
	mu      sync.Mutex
	intents map[uuid.UUID]*intent.PaymentIntent
	events  map[uuid.UUID][]*intent.Event
	now     func() time.Time
}

// NewIntentStore creates an empty store.
func NewIntentStore() *IntentStore {
	return &IntentStore{
		intents: make(map[uuid.UUID]*intent.PaymentIntent),
		events:  make(map[uuid.UUID][]*intent.Event),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Insert stores a copy of pi. Used by upstream flows and test setup.
func (s *IntentStore) Insert(_ context.Context, pi *intent.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[pi.ID] = pi.Clone()
	return nil
}

func (s *IntentStore) FetchEligible(ctx context.Context, cutoff time.Time, limit int) ([]*intent.PaymentIntent, error) {
	return s.fetch(ctx, limit, func(pi *intent.PaymentIntent) bool {
		return pi.Status == intent.StatusRequiresCapture && pi.CreatedAt.Before(cutoff)
	}, func(pi *intent.PaymentIntent) time.Time { return pi.CreatedAt })
}

func (s *IntentStore) FetchStuck(ctx context.Context, cutoff time.Time, limit int) ([]*intent.PaymentIntent, error) {
	return s.fetch(ctx, limit, func(pi *intent.PaymentIntent) bool {
		return pi.Status == intent.StatusCapturing && pi.UpdatedAt.Before(cutoff)
	}, func(pi *intent.PaymentIntent) time.Time { return pi.UpdatedAt })
}

func (s *IntentStore) fetch(
	ctx context.Context,
	limit int,
	match func(*intent.PaymentIntent) bool,
	orderBy func(*intent.PaymentIntent) time.Time,
) ([]*intent.PaymentIntent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*intent.PaymentIntent, 0)
	for _, pi := range s.intents {
		if match(pi) {
			out = append(out, pi.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return orderBy(out[i]).Before(orderBy(out[j]))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *IntentStore) Get(ctx context.Context, id uuid.UUID) (*intent.PaymentIntent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pi, ok := s.intents[id]
	if !ok {
		return nil, domainErrors.ErrPaymentIntentNotFound
	}
	return pi.Clone(), nil
}

func (s *IntentStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	expectedVersion int64,
	from, to intent.Status,
	patch intent.Patch,
) (*intent.PaymentIntent, error) {
	if err := intent.ValidateTransition(from, to); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pi, ok := s.intents[id]
	if !ok || pi.Version != expectedVersion || pi.Status != from {
		return nil, nil
	}

	now := s.now()
	pi.Apply(to, patch, now)
	s.events[id] = append(s.events[id], intent.NewEvent(pi, from, now))
	return pi.Clone(), nil
}

// Events returns the audit trail for an intent.
func (s *IntentStore) Events(id uuid.UUID) []*intent.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*intent.Event, len(s.events[id]))
	copy(out, s.events[id])
	return out
}
