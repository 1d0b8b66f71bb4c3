package redis

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/payments-capture/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// only the owner token may delete the key
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// LockKey namespaces a lock name.
func LockKey(name string) string {
	return "lock:" + name
}

// DistributedLock is a SET NX lease owned by a random token.
type DistributedLock struct {
	client   redis.Cmdable
	key      string
	token    string
	ttl      time.Duration
	acquired bool
}

func NewDistributedLock(client redis.Cmdable, name string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    LockKey(name),
		token:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Acquire tries once; false means another owner holds the lease.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	l.acquired = ok
	return ok, nil
}

// Release deletes the key if this lock still owns it.
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	n, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	l.acquired = false
	if n == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

// TickLocker hands out per-tick leases so only one replica runs a given
// scheduler tick.
type TickLocker struct {
	client redis.Cmdable
	prefix string
}

func NewTickLocker(client redis.Cmdable, prefix string) *TickLocker {
	return &TickLocker{client: client, prefix: prefix}
}

// TryLock returns acquired=false without error when another replica holds
// the lease. The returned release func is safe to call when not acquired.
func (t *TickLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	lock := NewDistributedLock(t.client, t.prefix+":"+name, ttl)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return func(context.Context) error { return nil }, false, err
	}
	return lock.Release, ok, nil
}
