package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/payments-capture/internal/domain/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observed struct {
	mu   sync.Mutex
	runs map[string][]RunStatus
}

func (o *observed) observe(name string, status RunStatus, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runs == nil {
		o.runs = make(map[string][]RunStatus)
	}
	o.runs[name] = append(o.runs[name], status)
}

func (o *observed) statuses(name string) []RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]RunStatus(nil), o.runs[name]...)
}

func TestParse(t *testing.T) {
	valid := []string{"*/30 * * * * *", "0 */5 * * * *", "*/1 * * * *", "@every 30s", "@hourly"}
	for _, spec := range valid {
		t.Run(spec, func(t *testing.T) {
			_, err := Parse(spec)
			assert.NoError(t, err)
		})
	}

	_, err := Parse("61 * * * * *")
	assert.ErrorIs(t, err, domainErrors.ErrInvalidInput)
}

func TestAdd_Validation(t *testing.T) {
	s := New(zerolog.Nop())
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("capture", "@every 1s", noop))
	assert.ErrorIs(t, s.Add("capture", "@every 1s", noop), domainErrors.ErrInvalidInput)
	assert.ErrorIs(t, s.Add("bad", "not a cron", noop), domainErrors.ErrInvalidInput)
	assert.ErrorIs(t, s.Add("nil", "@every 1s", nil), domainErrors.ErrInvalidInput)
}

func TestScheduler_RunsJobsOnSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	var n atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) error {
		n.Add(1)
		return nil
	}))

	assert.False(t, s.Running())
	s.Start()
	assert.True(t, s.Running())

	assert.Eventually(t, func() bool { return n.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Running())
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	obs := &observed{}
	s := New(zerolog.Nop(), WithObserver(obs.observe))

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	require.NoError(t, s.Add("slow", "@every 1h", func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}))

	errCh := make(chan error, 1)
	go func() { errCh <- s.RunNow("slow") }()
	<-started

	require.NoError(t, s.RunNow("slow"))
	close(release)
	require.NoError(t, <-errCh)

	assert.Equal(t, []RunStatus{RunSkipped, RunSucceeded}, obs.statuses("slow"))
}

func TestScheduler_ObserverSeesFailures(t *testing.T) {
	obs := &observed{}
	s := New(zerolog.Nop(), WithObserver(obs.observe))
	boom := errors.New("boom")
	require.NoError(t, s.Add("failing", "@every 1h", func(context.Context) error { return boom }))

	assert.ErrorIs(t, s.RunNow("failing"), boom)
	assert.Equal(t, []RunStatus{RunFailed}, obs.statuses("failing"))
	assert.ErrorIs(t, s.RunNow("missing"), domainErrors.ErrInvalidInput)
}

func TestScheduler_Reschedule(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.Add("capture", "*/30 * * * * *", func(context.Context) error { return nil }))

	changed, err := s.Reschedule("capture", "*/30 * * * * *")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.Reschedule("capture", "*/10 * * * * *")
	require.NoError(t, err)
	assert.True(t, changed)

	spec, ok := s.Spec("capture")
	require.True(t, ok)
	assert.Equal(t, "*/10 * * * * *", spec)

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "capture", entries[0].Name)

	_, err = s.Reschedule("capture", "bogus")
	assert.Error(t, err)
	_, err = s.Reschedule("unknown", "@every 1s")
	assert.ErrorIs(t, err, domainErrors.ErrInvalidInput)
}

func TestScheduler_StopCancelsJobContextOnDeadline(t *testing.T) {
	s := New(zerolog.Nop())
	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, s.Add("stuck", "@every 1s", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}))
	s.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("job context was not cancelled")
	}
}
