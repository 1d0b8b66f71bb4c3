package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cassiomorais/payments-capture/internal/domain/intent"
	"github.com/cassiomorais/payments-capture/internal/domain/outbox"
	"github.com/redis/go-redis/v9"
)

const (
	IntentEventStream = "payment_intents:events"
	ReconcileStream   = "payment_intents:reconcile"

	// streams are capped so an idle consumer cannot exhaust memory
	streamMaxLen = 100000
)

// StreamProducer appends intent events and reconcile requests to Redis
// streams.
type StreamProducer struct {
	client redis.Cmdable
}

func NewStreamProducer(client redis.Cmdable) *StreamProducer {
	return &StreamProducer{client: client}
}

// PublishIntentEvent relays one outbox entry. The entry id is sent along so
// consumers can drop redeliveries.
func (p *StreamProducer) PublishIntentEvent(ctx context.Context, entry *outbox.Entry) error {
	return p.add(ctx, IntentEventStream, intentEventValues(entry))
}

// PublishReconcile reports a capture that succeeded at the provider but could
// not be recorded locally.
func (p *StreamProducer) PublishReconcile(ctx context.Context, f intent.ConsistencyFailure) error {
	return p.add(ctx, ReconcileStream, reconcileValues(f))
}

func (p *StreamProducer) add(ctx context.Context, stream string, values map[string]any) error {
	if values == nil {
		return fmt.Errorf("publish to %s: empty message", stream)
	}
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}

func intentEventValues(entry *outbox.Entry) map[string]any {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return nil
	}
	return map[string]any{
		"event_id":          entry.ID.String(),
		"payment_intent_id": entry.AggregateID.String(),
		"event_type":        entry.EventType,
		"payload":           string(payload),
		"timestamp":         entry.CreatedAt.Unix(),
	}
}

func reconcileValues(f intent.ConsistencyFailure) map[string]any {
	return map[string]any{
		"payment_intent_id":       f.IntentID.String(),
		"provider":                f.Provider,
		"provider_transaction_id": f.ProviderTxID,
		"expected_version":        f.ExpectedVersion,
		"observed_status":         string(f.ObservedStatus),
		"observed_version":        f.ObservedVersion,
		"detected_at":             f.DetectedAt.UTC().Format(time.RFC3339Nano),
	}
}
