// Package mongo implements intent.Store on a MongoDB collection. A transition
// is one FindOneAndUpdate filtered on {_id, version, status}. The audit event
// is then pushed onto the same document, fenced on the new version.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/payments-capture/internal/domain/errors"
	"github.com/cassiomorais/payments-capture/internal/domain/intent"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type eventDoc struct {
	ID        string         `bson:"id"`
	EventType string         `bson:"eventType"`
	EventData map[string]any `bson:"eventData"`
	CreatedAt time.Time      `bson:"createdAt"`
}

type intentDoc struct {
	ID                    string     `bson:"_id"`
	Status                string     `bson:"status"`
	AmountCents           int64      `bson:"amountCents"`
	Currency              string     `bson:"currency"`
	Provider              string     `bson:"provider"`
	Country               string     `bson:"country"`
	ProviderReference     string     `bson:"providerReference"`
	ProviderTransactionID *string    `bson:"providerTransactionId,omitempty"`
	CaptureAttempts       int        `bson:"captureAttempts"`
	LastError             *string    `bson:"lastError,omitempty"`
	Version               int64      `bson:"version"`
	CreatedAt             time.Time  `bson:"createdAt"`
	UpdatedAt             time.Time  `bson:"updatedAt"`
	CapturedAt            *time.Time `bson:"capturedAt,omitempty"`
	Events                []eventDoc `bson:"events,omitempty"`
}

func toDoc(pi *intent.PaymentIntent) intentDoc {
	return intentDoc{
		ID:                    pi.ID.String(),
		Status:                string(pi.Status),
		AmountCents:           pi.Amount.ValueCents,
		Currency:              pi.Amount.Currency,
		Provider:              pi.Provider,
		Country:               pi.Country,
		ProviderReference:     pi.ProviderReference,
		ProviderTransactionID: pi.ProviderTransactionID,
		CaptureAttempts:       pi.CaptureAttempts,
		LastError:             pi.LastError,
		Version:               pi.Version,
		CreatedAt:             pi.CreatedAt,
		UpdatedAt:             pi.UpdatedAt,
		CapturedAt:            pi.CapturedAt,
	}
}

func (d intentDoc) toIntent() (*intent.PaymentIntent, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode payment intent id %q: %w", d.ID, err)
	}
	status := intent.Status(d.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("decode payment intent %s: unknown status %q", d.ID, d.Status)
	}
	return &intent.PaymentIntent{
		ID:                    id,
		Status:                status,
		Amount:                intent.Amount{ValueCents: d.AmountCents, Currency: d.Currency},
		Provider:              d.Provider,
		Country:               d.Country,
		ProviderReference:     d.ProviderReference,
		ProviderTransactionID: d.ProviderTransactionID,
		CaptureAttempts:       d.CaptureAttempts,
		LastError:             d.LastError,
		Version:               d.Version,
		CreatedAt:             d.CreatedAt.UTC(),
		UpdatedAt:             d.UpdatedAt.UTC(),
		CapturedAt:            d.CapturedAt,
	}, nil
}

// IntentStore implements intent.Store.
type IntentStore struct {
	col *mongo.Collection
	now func() time.Time
}

func NewIntentStore(col *mongo.Collection) *IntentStore {
	return &IntentStore{col: col, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureIndexes creates the partial indexes used by the fetch queries.
func (s *IntentStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create payment intent indexes: %w", err)
	}
	return nil
}

func (s *IntentStore) Create(ctx context.Context, pi *intent.PaymentIntent) error {
	if _, err := s.col.InsertOne(ctx, toDoc(pi)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainErrors.NewDomainError("duplicate_intent", "payment intent already exists", domainErrors.ErrInvalidInput)
		}
		return fmt.Errorf("insert payment intent: %w", err)
	}
	return nil
}

func (s *IntentStore) FetchEligible(ctx context.Context, cutoff time.Time, limit int) ([]*intent.PaymentIntent, error) {
	return s.find(ctx, bson.M{
		"status":    string(intent.StatusRequiresCapture),
		"createdAt": bson.M{"$lt": cutoff},
	}, "createdAt", limit)
}

func (s *IntentStore) FetchStuck(ctx context.Context, cutoff time.Time, limit int) ([]*intent.PaymentIntent, error) {
	return s.find(ctx, bson.M{
		"status":    string(intent.StatusCapturing),
		"updatedAt": bson.M{"$lt": cutoff},
	}, "updatedAt", limit)
}

func (s *IntentStore) find(ctx context.Context, filter bson.M, sortKey string, limit int) ([]*intent.PaymentIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: sortKey, Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"events": 0})

	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list payment intents: %w", err)
	}
	defer cur.Close(ctx)

	var out []*intent.PaymentIntent
	for cur.Next(ctx) {
		var d intentDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		pi, err := d.toIntent()
		if err != nil {
			return nil, err
		}
		out = append(out, pi)
	}
	return out, cur.Err()
}

func (s *IntentStore) Get(ctx context.Context, id uuid.UUID) (*intent.PaymentIntent, error) {
	var d intentDoc
	err := s.col.FindOne(ctx, bson.M{"_id": id.String()},
		options.FindOne().SetProjection(bson.M{"events": 0})).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domainErrors.ErrPaymentIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment intent %s: %w", id, err)
	}
	return d.toIntent()
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

	now := s.now()
	filter := bson.M{"_id": id.String(), "version": expectedVersion, "status": string(from)}
	update := transitionUpdate(to, patch, now)
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"events": 0})

	var d intentDoc
	err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transition payment intent %s %s->%s: %w", id, from, to, err)
	}
	pi, err := d.toIntent()
	if err != nil {
		return nil, err
	}

	ev := intent.NewEvent(pi, from, now)
	if _, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id.String(), "version": pi.Version},
		bson.M{"$push": bson.M{"events": eventDoc{
			ID:        ev.ID.String(),
			EventType: ev.EventType,
			EventData: ev.EventData,
			CreatedAt: ev.CreatedAt,
		}}},
	); err != nil {
		return nil, fmt.Errorf("append payment intent event %s: %w", id, err)
	}
	return pi, nil
}

func transitionUpdate(to intent.Status, patch intent.Patch, now time.Time) bson.M {
	set := bson.M{
		"status":    string(to),
		"updatedAt": now,
	}
	if patch.ProviderTransactionID != nil {
		set["providerTransactionId"] = *patch.ProviderTransactionID
	}
	if patch.LastError != nil {
		set["lastError"] = *patch.LastError
	}
	if patch.CaptureAttempts != nil {
		set["captureAttempts"] = *patch.CaptureAttempts
	}
	if to == intent.StatusCaptured {
		set["capturedAt"] = now
	}
	return bson.M{
		"$set": set,
		"$inc": bson.M{"version": int64(1)},
	}
}
