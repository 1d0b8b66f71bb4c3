package handler

import (
	"time"

	"github.com/cassiomorais/payments-capture/internal/domain/intent"
	"github.com/cassiomorais/payments-capture/internal/scheduler"
	"github.com/cassiomorais/payments-capture/internal/workerpool"
)

// ResizePoolRequest sets the worker limit until the next resize tick.
type ResizePoolRequest struct {
	MaxWorkers int `json:"max_workers" validate:"required,gte=1,lte=1000"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type JobResponse struct {
	Name string     `json:"name"`
	Spec string     `json:"spec"`
	Next *time.Time `json:"next,omitempty"`
	Prev *time.Time `json:"prev,omitempty"`
}

type PoolResponse struct {
	Name       string `json:"name"`
	MaxWorkers int    `json:"max_workers"`
	Submitted  int64  `json:"submitted"`
	Queued     int64  `json:"queued"`
	InFlight   int64  `json:"in_flight"`
	Completed  int64  `json:"completed"`
	Rejected   int64  `json:"rejected"`
	Cancelled  int64  `json:"cancelled"`
}

type IntentResponse struct {
	ID                    string     `json:"id"`
	Status                string     `json:"status"`
	AmountCents           int64      `json:"amount_cents"`
	Currency              string     `json:"currency"`
	Provider              string     `json:"provider"`
	Country               string     `json:"country"`
	ProviderReference     string     `json:"provider_reference"`
	ProviderTransactionID *string    `json:"provider_transaction_id,omitempty"`
	CaptureAttempts       int        `json:"capture_attempts"`
	LastError             *string    `json:"last_error,omitempty"`
	Version               int64      `json:"version"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	CapturedAt            *time.Time `json:"captured_at,omitempty"`
}

type EnqueueResponse struct {
	IntentID string `json:"intent_id"`
	TaskID   uint64 `json:"task_id"`
}

func toJobResponse(e scheduler.EntryInfo) JobResponse {
	r := JobResponse{Name: e.Name, Spec: e.Spec}
	if !e.Next.IsZero() {
		next := e.Next
		r.Next = &next
	}
	if !e.Prev.IsZero() {
		prev := e.Prev
		r.Prev = &prev
	}
	return r
}

func toPoolResponse(name string, s workerpool.Stats) PoolResponse {
	return PoolResponse{
		Name:       name,
		MaxWorkers: s.MaxWorkers,
		Submitted:  s.Submitted,
		Queued:     s.Queued,
		InFlight:   s.InFlight,
		Completed:  s.Completed,
		Rejected:   s.Rejected,
		Cancelled:  s.Cancelled,
	}
}

func toIntentResponse(pi *intent.PaymentIntent) IntentResponse {
	return IntentResponse{
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
