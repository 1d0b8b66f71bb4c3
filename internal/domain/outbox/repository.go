package outbox

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Insert writes an entry, joining the transaction on ctx if any.
	Insert(ctx context.Context, entry *Entry) error

	// GetPending returns up to limit pending entries, oldest first.
	GetPending(ctx context.Context, limit int) ([]*Entry, error)

	MarkPublished(ctx context.Context, id uuid.UUID) error

	// MarkFailed bumps the retry count and records reason; the entry
	// becomes failed once MaxRetries is reached.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}
