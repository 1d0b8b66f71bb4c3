package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cassiomorais/payments-capture/internal/domain/outbox"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload, status,
	retry_count, max_retries, last_error, created_at, published_at`

// OutboxRepository stores intent events next to the transition that produced
// them. Writes join the transaction on ctx.
type OutboxRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func (r *OutboxRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *OutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	payload, err := encodePayload(entry.Payload)
	if err != nil {
		return fmt.Errorf("outbox %s: %w", entry.ID, err)
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO outbox (`+outboxColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		entry.ID, entry.AggregateType, entry.AggregateID, entry.EventType, payload, string(entry.Status),
		entry.RetryCount, entry.MaxRetries, entry.LastError, entry.CreatedAt, entry.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry %s for intent %s: %w", entry.ID, entry.AggregateID, err)
	}
	return nil
}

// GetPending returns the oldest pending rows. Inside a transaction the rows
// stay locked until commit and other relays skip them.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+outboxColumns+` FROM outbox
		 WHERE status = $1
		 ORDER BY created_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`, string(outbox.StatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox: %w", err)
	}
	defer rows.Close()

	entries := make([]*outbox.Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending outbox: %w", err)
	}
	return entries, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox SET status = $1, published_at = $2, last_error = NULL WHERE id = $3`,
		string(outbox.StatusPublished), r.now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox %s published: %w", id, err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox
		 SET retry_count = retry_count + 1,
		     last_error  = $1,
		     status      = CASE WHEN retry_count + 1 >= max_retries THEN $2 ELSE status END
		 WHERE id = $3`,
		reason, string(outbox.StatusFailed), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox %s failed: %w", id, err)
	}
	return nil
}

func encodePayload(p map[string]any) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

func scanEntry(row scanner) (*outbox.Entry, error) {
	var (
		e       outbox.Entry
		payload []byte
		status  string
	)
	if err := row.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &payload, &status,
		&e.RetryCount, &e.MaxRetries, &e.LastError, &e.CreatedAt, &e.PublishedAt); err != nil {
		return nil, fmt.Errorf("scan outbox entry: %w", err)
	}
	e.Status = outbox.Status(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode outbox %s payload: %w", e.ID, err)
		}
	}
	return &e, nil
}
