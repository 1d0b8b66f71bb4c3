package providers

import (
	"errors"
	"net/http"

	domainErrors "github.com/cassiomorais/payments-capture/internal/domain/errors"
	"github.com/sony/gobreaker/v2"
)

type OutcomeKind string

const (
	OutcomeSucceeded      OutcomeKind = "succeeded"
	OutcomeDeclined       OutcomeKind = "declined"
	OutcomeRetryableError OutcomeKind = "retryable_error"
	OutcomePermanentError OutcomeKind = "permanent_error"
)

// Outcome is the classified result of one capture call.
type Outcome struct {
	Kind         OutcomeKind
	ProviderTxID string
	Reason       string
	StatusCode   int
}

// declineCodes are provider error codes that mean the payer's instrument
// refused the capture.
var declineCodes = map[string]bool{
	"card_declined":      true,
	"insufficient_funds": true,
	"expired_card":       true,
}

// Classify maps a provider call error onto an outcome kind. Errors that do
// not carry an HTTP status are transport failures and retryable.
func Classify(err error) (OutcomeKind, int) {
	if err == nil {
		return OutcomeSucceeded, http.StatusOK
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		switch {
		case declineCodes[perr.Code], perr.StatusCode == http.StatusPaymentRequired:
			return OutcomeDeclined, perr.StatusCode
		case perr.StatusCode == http.StatusTooManyRequests, perr.StatusCode >= 500:
			return OutcomeRetryableError, perr.StatusCode
		default:
			return OutcomePermanentError, perr.StatusCode
		}
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return OutcomeRetryableError, 0
	}
	if errors.Is(err, domainErrors.ErrProviderRejected) {
		return OutcomeDeclined, 0
	}
	if errors.Is(err, domainErrors.ErrProviderNotFound) {
		return OutcomePermanentError, 0
	}

	// deadlines, cancellations, net.Error and anything else without a status
	return OutcomeRetryableError, 0
}

// RequestStatus is the telemetry tag value for a kind.
func (k OutcomeKind) RequestStatus() string {
	switch k {
	case OutcomeSucceeded:
		return "success"
	case OutcomeDeclined:
		return "declined"
	case OutcomeRetryableError:
		return "retry"
	default:
		return "failed"
	}
}
