package providers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CaptureRequest asks the provider to capture a previously authorized intent.
type CaptureRequest struct {
	IntentID          uuid.UUID
	Provider          string
	Country           string
	ProviderReference string
	AmountCents       int64
	Currency          string
	IdempotencyKey    string
}

type CaptureResult struct {
	TransactionID string
	StatusCode    int
}

// Provider is a payment provider client. Implementations make exactly one
// remote call per Capture and never retry.
type Provider interface {
	Name() string
	Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error)
}

// ProviderError is an HTTP-level error answered by the provider.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Message)
}

// IdempotencyKey is the same for every attempt on an intent, so a retry after
// an unknown outcome gets the provider's original answer back.
func IdempotencyKey(intentID uuid.UUID) string {
	return fmt.Sprintf("capture-%s", intentID)
}
