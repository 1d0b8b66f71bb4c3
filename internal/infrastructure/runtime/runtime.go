// Package runtime supplies the operator-tunable knobs the scheduler polls:
// the desired worker pool size and the capture cadence.
package runtime

import (
	"context"
	"fmt"
	"strconv"

	domainErrors "github.com/cassiomorais/payments-capture/internal/domain/errors"
	"github.com/redis/go-redis/v9"
)

type Snapshot struct {
	PoolSize    int
	CaptureCron string
}

func (s Snapshot) Validate() error {
	if s.PoolSize < 1 {
		return domainErrors.NewValidationError("pool_size", "must be at least 1")
	}
	if s.CaptureCron == "" {
		return domainErrors.NewValidationError("capture_cron", "cannot be empty")
	}
	return nil
}

// StaticSource always returns the boot configuration.
type StaticSource struct {
	snap Snapshot
}

func NewStaticSource(snap Snapshot) *StaticSource {
	return &StaticSource{snap: snap}
}

func (s *StaticSource) Snapshot(context.Context) (Snapshot, error) {
	return s.snap, nil
}

// RedisSource reads overrides from two string keys under a prefix. Unset
// keys fall back to the boot configuration.
type RedisSource struct {
	client   redis.Cmdable
	prefix   string
	fallback Snapshot
}

func NewRedisSource(client redis.Cmdable, prefix string, fallback Snapshot) *RedisSource {
	return &RedisSource{client: client, prefix: prefix, fallback: fallback}
}

func (s *RedisSource) PoolSizeKey() string    { return s.prefix + ":pool_size" }
func (s *RedisSource) CaptureCronKey() string { return s.prefix + ":capture_cron" }

func (s *RedisSource) Snapshot(ctx context.Context) (Snapshot, error) {
	vals, err := s.client.MGet(ctx, s.PoolSizeKey(), s.CaptureCronKey()).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read runtime config: %w", err)
	}
	return merge(s.fallback, vals)
}

// merge overlays MGET results onto fallback. A nil entry means unset.
func merge(fallback Snapshot, vals []any) (Snapshot, error) {
	snap := fallback
	if len(vals) > 0 && vals[0] != nil {
		raw, _ := vals[0].(string)
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Snapshot{}, fmt.Errorf("runtime pool_size %q: %w", raw, domainErrors.ErrInvalidInput)
		}
		snap.PoolSize = n
	}
	if len(vals) > 1 && vals[1] != nil {
		if raw, _ := vals[1].(string); raw != "" {
			snap.CaptureCron = raw
		}
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
