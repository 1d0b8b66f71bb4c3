package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/cassiomorais/payments-capture/internal/domain/outbox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outboxRow(id, intentID uuid.UUID, payload []byte, lastErr *string) fakeRow {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return fakeRow{values: []any{
		id, outbox.AggregatePaymentIntent, intentID, "payment_intent.captured", payload,
		"pending", 2, 5, lastErr, created, (*time.Time)(nil),
	}}
}

func TestScanEntry(t *testing.T) {
	id, intentID := uuid.New(), uuid.New()
	reason := "stream unavailable"

	e, err := scanEntry(outboxRow(id, intentID, []byte(`{"to":"captured","version":3}`), &reason))
	require.NoError(t, err)
	assert.Equal(t, id, e.ID)
	assert.Equal(t, intentID, e.AggregateID)
	assert.Equal(t, outbox.StatusPending, e.Status)
	assert.Equal(t, 2, e.RetryCount)
	assert.Equal(t, 5, e.MaxRetries)
	require.NotNil(t, e.LastError)
	assert.Equal(t, reason, *e.LastError)
	assert.Nil(t, e.PublishedAt)
	assert.Equal(t, "captured", e.Payload["to"])
	assert.EqualValues(t, 3, e.Payload["version"])
}

func TestScanEntry_EmptyPayload(t *testing.T) {
	e, err := scanEntry(outboxRow(uuid.New(), uuid.New(), nil, nil))
	require.NoError(t, err)
	assert.Nil(t, e.Payload)
	assert.Nil(t, e.LastError)
}

func TestScanEntry_BadPayload(t *testing.T) {
	_, err := scanEntry(outboxRow(uuid.New(), uuid.New(), []byte(`{not json`), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode outbox")
}

func TestScanEntry_ScanError(t *testing.T) {
	_, err := scanEntry(fakeRow{err: errors.New("conn reset")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan outbox entry")
}

func TestEncodePayload(t *testing.T) {
	b, err := encodePayload(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(b))

	b, err = encodePayload(map[string]any{"from": "capturing", "to": "captured"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"capturing","to":"captured"}`, string(b))

	_, err = encodePayload(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}
