package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureRequest(ref string) CaptureRequest {
	id := uuid.New()
	return CaptureRequest{
		IntentID:          id,
		Provider:          "test",
		Country:           "US",
		ProviderReference: ref,
		AmountCents:       10000,
		Currency:          "USD",
		IdempotencyKey:    IdempotencyKey(id),
	}
}

func TestNewMockProvider(t *testing.T) {
	provider := NewMockProvider("test")

	assert.NotNil(t, provider)
	assert.Equal(t, "test", provider.Name())
}

func TestMockProvider_Capture_Success(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(time.Millisecond))

	result, err := provider.Capture(context.Background(), captureRequest("pi_1"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Contains(t, result.TransactionID, "test_txn_")
	assert.Equal(t, 1, provider.Calls())
}

func TestMockProvider_Capture_Decline(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(time.Millisecond), WithDeclineRate(1.0))

	result, err := provider.Capture(context.Background(), captureRequest("pi_1"))
	assert.Nil(t, result)
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusPaymentRequired, perr.StatusCode)
	assert.Equal(t, "card_declined", perr.Code)
}

func TestMockProvider_Capture_Transient(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(time.Millisecond), WithTransientRate(1.0))

	_, err := provider.Capture(context.Background(), captureRequest("pi_1"))
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusServiceUnavailable, perr.StatusCode)
}

func TestMockProvider_Capture_HangsUntilDeadline(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(time.Millisecond), WithTimeoutRate(1.0))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := provider.Capture(ctx, captureRequest("pi_1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockProvider_IdempotentReplay(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(time.Millisecond))
	req := captureRequest("pi_1")

	first, err := provider.Capture(context.Background(), req)
	require.NoError(t, err)
	second, err := provider.Capture(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, 2, provider.Calls())
}

func TestMockProvider_RefusesSecondCapture(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(time.Millisecond))

	_, err := provider.Capture(context.Background(), captureRequest("pi_1"))
	require.NoError(t, err)

	_, err = provider.Capture(context.Background(), captureRequest("pi_1"))
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusBadRequest, perr.StatusCode)
}

func TestMockProvider_Latency(t *testing.T) {
	latency := 50 * time.Millisecond
	provider := NewMockProvider("test", WithLatency(latency))

	start := time.Now()
	_, err := provider.Capture(context.Background(), captureRequest("pi_1"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), latency)
}

func TestIdempotencyKey(t *testing.T) {
	id := uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	assert.Equal(t, "capture-7c9e6679-7425-40de-944b-e07fc1f90ae7", IdempotencyKey(id))
}
