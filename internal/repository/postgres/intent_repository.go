package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/payments-capture/internal/domain/errors"
	"github.com/cassiomorais/payments-capture/internal/domain/intent"
	"github.com/cassiomorais/payments-capture/internal/domain/outbox"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const intentColumns = `id, status, amount_cents, currency, provider, country, provider_reference,
	provider_transaction_id, capture_attempts, last_error, version, created_at, updated_at, captured_at`

// IntentRepository implements intent.Store on PostgreSQL. Each transition is
// a single conditional UPDATE; the audit event and outbox row are written in
// the same transaction.
type IntentRepository struct {
	pool   *pgxpool.Pool
	tx     *TxManager
	outbox *OutboxRepository
	now    func() time.Time
}

func NewIntentRepository(pool *pgxpool.Pool, tx *TxManager, outbox *OutboxRepository) *IntentRepository {
	return &IntentRepository{
		pool:   pool,
		tx:     tx,
		outbox: outbox,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *IntentRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new intent. Used by upstream flows and fixtures.
func (r *IntentRepository) Create(ctx context.Context, pi *intent.PaymentIntent) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO payment_intents (`+intentColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		pi.ID, string(pi.Status), pi.Amount.ValueCents, pi.Amount.Currency, pi.Provider, pi.Country,
		pi.ProviderReference, pi.ProviderTransactionID, pi.CaptureAttempts, pi.LastError, pi.Version,
		pi.CreatedAt, pi.UpdatedAt, pi.CapturedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.NewDomainError("duplicate_intent", "payment intent already exists", domainErrors.ErrInvalidInput)
		}
		return fmt.Errorf("insert payment intent: %w", err)
	}
	return nil
}

func (r *IntentRepository) FetchEligible(ctx context.Context, cutoff time.Time, limit int) ([]*intent.PaymentIntent, error) {
	return r.list(ctx,
		`SELECT `+intentColumns+` FROM payment_intents
		 WHERE status = 'requires_capture' AND created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`, cutoff, limit)
}

func (r *IntentRepository) FetchStuck(ctx context.Context, cutoff time.Time, limit int) ([]*intent.PaymentIntent, error) {
	return r.list(ctx,
		`SELECT `+intentColumns+` FROM payment_intents
		 WHERE status = 'capturing' AND updated_at < $1
		 ORDER BY updated_at ASC
		 LIMIT $2`, cutoff, limit)
}

func (r *IntentRepository) list(ctx context.Context, query string, cutoff time.Time, limit int) ([]*intent.PaymentIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db(ctx).Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list payment intents: %w", err)
	}
	defer rows.Close()

	var intents []*intent.PaymentIntent
	for rows.Next() {
		pi, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, pi)
	}
	return intents, rows.Err()
}

func (r *IntentRepository) Get(ctx context.Context, id uuid.UUID) (*intent.PaymentIntent, error) {
	pi, err := scanIntent(r.db(ctx).QueryRow(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainErrors.ErrPaymentIntentNotFound
	}
	return pi, err
}

// Transition applies from→to when the row still has expectedVersion and
// status from. A precondition miss returns (nil, nil) and writes nothing.
func (r *IntentRepository) Transition(
	ctx context.Context,
	id uuid.UUID,
	expectedVersion int64,
	from, to intent.Status,
	patch intent.Patch,
) (*intent.PaymentIntent, error) {
	if err := intent.ValidateTransition(from, to); err != nil {
		return nil, err
	}

	var updated *intent.PaymentIntent
	err := r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		now := r.now()
		pi, err := scanIntent(r.db(ctx).QueryRow(ctx,
			`UPDATE payment_intents SET
			   status = $1,
			   provider_transaction_id = COALESCE($2, provider_transaction_id),
			   last_error = COALESCE($3, last_error),
			   capture_attempts = COALESCE($4, capture_attempts),
			   captured_at = CASE WHEN $1 = 'captured' THEN $5 ELSE captured_at END,
			   version = version + 1,
			   updated_at = $5
			 WHERE id = $6 AND version = $7 AND status = $8
			 RETURNING `+intentColumns,
			string(to), patch.ProviderTransactionID, patch.LastError, patch.CaptureAttempts,
			now, id, expectedVersion, string(from),
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("transition payment intent %s %s->%s: %w", id, from, to, err)
		}

		ev := intent.NewEvent(pi, from, now)
		if err := r.addEvent(ctx, ev); err != nil {
			return err
		}
		if r.outbox != nil {
			if err := r.outbox.Insert(ctx, outbox.FromEvent(ev)); err != nil {
				return err
			}
		}
		updated = pi
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *IntentRepository) addEvent(ctx context.Context, ev *intent.Event) error {
	data, err := json.Marshal(ev.EventData)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO payment_intent_events (id, payment_intent_id, event_type, event_data, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.IntentID, ev.EventType, data, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment intent event: %w", err)
	}
	return nil
}

// GetEvents returns the audit trail for an intent, oldest first.
func (r *IntentRepository) GetEvents(ctx context.Context, id uuid.UUID) ([]*intent.Event, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, payment_intent_id, event_type, event_data, created_at
		 FROM payment_intent_events WHERE payment_intent_id = $1 ORDER BY created_at ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("list payment intent events: %w", err)
	}
	defer rows.Close()

	var events []*intent.Event
	for rows.Next() {
		e := &intent.Event{}
		var data []byte
		if err := rows.Scan(&e.ID, &e.IntentID, &e.EventType, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(data, &e.EventData); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanIntent(s scanner) (*intent.PaymentIntent, error) {
	pi := &intent.PaymentIntent{}
	var status string
	err := s.Scan(
		&pi.ID, &status, &pi.Amount.ValueCents, &pi.Amount.Currency, &pi.Provider, &pi.Country,
		&pi.ProviderReference, &pi.ProviderTransactionID, &pi.CaptureAttempts, &pi.LastError,
		&pi.Version, &pi.CreatedAt, &pi.UpdatedAt, &pi.CapturedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan payment intent: %w", err)
	}
	pi.Status = intent.Status(status)
	if !pi.Status.Valid() {
		return nil, fmt.Errorf("scan payment intent %s: unknown status %q", pi.ID, status)
	}
	return pi, nil
}
