package capture

import (
	"context"
	"time"

	"github.com/cassiomorais/payments-capture/internal/domain/intent"
	"github.com/cassiomorais/payments-capture/internal/domain/outbox"
	"github.com/cassiomorais/payments-capture/internal/infrastructure/runtime"
	"github.com/cassiomorais/payments-capture/internal/providers"
	"github.com/cassiomorais/payments-capture/internal/workerpool"
)

// Gateway performs one classified capture call.
type Gateway interface {
	Capture(ctx context.Context, req providers.CaptureRequest) providers.Outcome
}

// ReconcilePublisher reports captures the provider confirmed but the store
// could not record.
type ReconcilePublisher interface {
	PublishReconcile(ctx context.Context, f intent.ConsistencyFailure) error
}

// EventPublisher delivers relayed outbox entries.
type EventPublisher interface {
	PublishIntentEvent(ctx context.Context, entry *outbox.Entry) error
}

// TransactionManager is an application-layer port, not a domain concern.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Pool is the slice of workerpool.Pool the jobs use.
type Pool interface {
	Name() string
	Submit(name string, task workerpool.Task[Attempt]) (*workerpool.Handle[Attempt], error)
	Resize(n int) error
	Size() int
	Stats() workerpool.Stats
}

type RuntimeSource interface {
	Snapshot(ctx context.Context) (runtime.Snapshot, error)
}

// TickLocker elects one replica per tick. acquired=false means skip.
type TickLocker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// Rescheduler changes a job's cadence.
type Rescheduler interface {
	Reschedule(name, spec string) (bool, error)
}
