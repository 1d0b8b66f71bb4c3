package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/payments-capture/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gate blocks tasks until released and records peak concurrency.
type gate struct {
	release chan struct{}
	started chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
}

func newGate() *gate {
	return &gate{release: make(chan struct{}), started: make(chan struct{}, 1000)}
}

func (g *gate) task(v int) Task[int] {
	return func(ctx context.Context) (int, error) {
		n := g.active.Add(1)
		for {
			p := g.peak.Load()
			if n <= p || g.peak.CompareAndSwap(p, n) {
				break
			}
		}
		g.started <- struct{}{}
		defer g.active.Add(-1)
		select {
		case <-g.release:
			return v, nil
		case <-ctx.Done():
			return v, ctx.Err()
		}
	}
}

func (g *gate) waitStarted(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-g.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d tasks started", i, n)
		}
	}
}

func (g *gate) assertNoStart(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
		t.Fatal("unexpected task start")
	case <-time.After(50 * time.Millisecond):
	}
}

func assertAccounted(t *testing.T, s Stats) {
	t.Helper()
	assert.Equal(t, s.Submitted, s.Queued+s.InFlight+s.Completed+s.Cancelled, "stats: %+v", s)
}

func TestNew_InvalidArgs(t *testing.T) {
	_, err := New[int]("p", 0, 10)
	assert.Error(t, err)
	_, err = New[int]("p", 1, 0)
	assert.Error(t, err)
}

func TestPool_RunsTaskAndReturnsResult(t *testing.T) {
	p, err := New[int]("test", 2, 10)
	require.NoError(t, err)

	h, err := p.Submit("answer", func(ctx context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, res.Value)
	assert.Equal(t, "answer", res.Name)
	assert.NoError(t, res.Err)

	s := p.Stats()
	assert.Equal(t, int64(1), s.Completed)
	assertAccounted(t, s)
}

func TestPool_BoundedConcurrency(t *testing.T) {
	p, err := New[int]("test", 3, 100)
	require.NoError(t, err)
	g := newGate()

	handles := make([]*Handle[int], 0, 10)
	for i := 0; i < 10; i++ {
		h, err := p.Submit("t", g.task(i))
		require.NoError(t, err)
		handles = append(handles, h)
	}

	g.waitStarted(t, 3)
	g.assertNoStart(t)
	s := p.Stats()
	assert.Equal(t, int64(3), s.InFlight)
	assert.Equal(t, int64(7), s.Queued)
	assertAccounted(t, s)

	close(g.release)
	for _, h := range handles {
		_, err := h.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, g.peak.Load(), int32(3))
	assert.Equal(t, int64(10), p.Stats().Completed)
}

func TestPool_SaturationRejects(t *testing.T) {
	p, err := New[int]("test", 1, 2)
	require.NoError(t, err)
	g := newGate()
	defer close(g.release)

	_, err = p.Submit("running", g.task(0))
	require.NoError(t, err)
	g.waitStarted(t, 1)

	_, err = p.Submit("q1", g.task(1))
	require.NoError(t, err)
	_, err = p.Submit("q2", g.task(2))
	require.NoError(t, err)

	_, err = p.Submit("overflow", g.task(3))
	assert.ErrorIs(t, err, domainErrors.ErrPoolSaturated)

	s := p.Stats()
	assert.Equal(t, int64(1), s.Rejected)
	assert.Equal(t, int64(3), s.Submitted)
	assertAccounted(t, s)
}

func TestPool_SubmitNilTask(t *testing.T) {
	p, err := New[int]("test", 1, 1)
	require.NoError(t, err)
	_, err = p.Submit("nil", nil)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidInput)
}

func TestPool_ResizeDownDoesNotPreempt(t *testing.T) {
	p, err := New[int]("test", 4, 100)
	require.NoError(t, err)
	g := newGate()

	var first []*Handle[int]
	for i := 0; i < 4; i++ {
		h, err := p.Submit("first", g.task(i))
		require.NoError(t, err)
		first = append(first, h)
	}
	g.waitStarted(t, 4)

	require.NoError(t, p.Resize(1))
	assert.Equal(t, 1, p.Size())
	assert.Equal(t, int64(4), p.Stats().InFlight)

	var second []*Handle[int]
	for i := 0; i < 3; i++ {
		h, err := p.Submit("second", g.task(10+i))
		require.NoError(t, err)
		second = append(second, h)
	}
	g.assertNoStart(t)

	// release the four in-flight tasks one at a time; only one new task may
	// run once they are gone
	for i := 0; i < 4; i++ {
		g.release <- struct{}{}
	}
	for _, h := range first {
		res, err := h.Wait(context.Background())
		require.NoError(t, err)
		assert.NoError(t, res.Err)
	}

	for i := 0; i < 3; i++ {
		g.waitStarted(t, 1)
		assert.Equal(t, int64(1), p.Stats().InFlight)
		g.release <- struct{}{}
		_, err := second[i].Wait(context.Background())
		require.NoError(t, err)
	}

	s := p.Stats()
	assert.Equal(t, int64(7), s.Completed)
	assertAccounted(t, s)
}

func TestPool_ResizeUpDispatchesQueued(t *testing.T) {
	p, err := New[int]("test", 1, 100)
	require.NoError(t, err)
	g := newGate()
	defer close(g.release)

	for i := 0; i < 4; i++ {
		_, err := p.Submit("t", g.task(i))
		require.NoError(t, err)
	}
	g.waitStarted(t, 1)
	g.assertNoStart(t)

	require.NoError(t, p.Resize(4))
	g.waitStarted(t, 3)
	assert.Equal(t, int64(4), p.Stats().InFlight)
}

func TestPool_ResizeInvalid(t *testing.T) {
	p, err := New[int]("test", 2, 10)
	require.NoError(t, err)
	assert.Error(t, p.Resize(0))
	assert.Equal(t, 2, p.Size())
}

func TestPool_CancelQueuedAndDrainInFlight(t *testing.T) {
	p, err := New[int]("test", 3, 10)
	require.NoError(t, err)
	g := newGate()

	for i := 0; i < 3; i++ {
		_, err := p.Submit("inflight", g.task(i))
		require.NoError(t, err)
	}
	g.waitStarted(t, 3)

	var queued []*Handle[int]
	for i := 0; i < 2; i++ {
		h, err := p.Submit("queued", g.task(100+i))
		require.NoError(t, err)
		queued = append(queued, h)
	}

	type cancelOut struct {
		count   int
		results []Result[int]
		err     error
	}
	out := make(chan cancelOut, 1)
	go func() {
		n, res, err := p.Cancel(context.Background())
		out <- cancelOut{n, res, err}
	}()

	// queued handles resolve immediately as cancelled
	for _, h := range queued {
		res, err := h.Wait(context.Background())
		require.NoError(t, err)
		assert.ErrorIs(t, res.Err, domainErrors.ErrTaskCancelled)
	}

	_, err = p.Submit("late", g.task(999))
	assert.ErrorIs(t, err, domainErrors.ErrPoolShutDown)

	close(g.release)
	got := <-out
	require.NoError(t, got.err)
	assert.Equal(t, 2, got.count)
	require.Len(t, got.results, 3)
	for i, r := range got.results {
		assert.NoError(t, r.Err)
		assert.Equal(t, i, r.Value)
	}

	s := p.Stats()
	assert.Equal(t, int64(2), s.Cancelled)
	assert.Equal(t, int64(3), s.Completed)
	assertAccounted(t, s)
}

func TestPool_CancelTwice(t *testing.T) {
	p, err := New[int]("test", 1, 1)
	require.NoError(t, err)

	_, _, err = p.Cancel(context.Background())
	require.NoError(t, err)
	_, _, err = p.Cancel(context.Background())
	assert.ErrorIs(t, err, domainErrors.ErrPoolShutDown)
	assert.ErrorIs(t, p.Resize(3), domainErrors.ErrPoolShutDown)
}

func TestPool_CancelDeadlineCancelsTaskContext(t *testing.T) {
	p, err := New[int]("test", 2, 10)
	require.NoError(t, err)
	g := newGate() // never released

	for i := 0; i < 2; i++ {
		_, err := p.Submit("stubborn", g.task(i))
		require.NoError(t, err)
	}
	g.waitStarted(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	n, results, err := p.Cancel(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, n)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestPool_PanicIsRecovered(t *testing.T) {
	p, err := New[int]("test", 1, 10)
	require.NoError(t, err)

	h, err := p.Submit("boom", func(ctx context.Context) (int, error) { panic("kaboom") })
	require.NoError(t, err)
	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "kaboom")

	// pool keeps working
	h, err = p.Submit("ok", func(ctx context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	res, err = h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Value)
}

func TestPool_ConcurrentProducersAndResizes(t *testing.T) {
	p, err := New[int]("test", 4, 50)
	require.NoError(t, err)

	var maxSeen atomic.Int32
	var active atomic.Int32

	task := func(ctx context.Context) (int, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxSeen.Load()
			if n <= m || maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		return 0, nil
	}

	var wg sync.WaitGroup
	var accepted, rejected atomic.Int64
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, err := p.Submit("t", task)
				switch {
				case err == nil:
					accepted.Add(1)
				case errors.Is(err, domainErrors.ErrPoolSaturated):
					rejected.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, n := range []int{2, 8, 1, 6, 3} {
			assert.NoError(t, p.Resize(n))
			time.Sleep(2 * time.Millisecond)
		}
	}()
	wg.Wait()

	_, _, err = p.Cancel(context.Background())
	require.NoError(t, err)

	s := p.Stats()
	assert.Equal(t, accepted.Load(), s.Submitted)
	assert.Equal(t, rejected.Load(), s.Rejected)
	assert.Equal(t, int64(800), s.Submitted+s.Rejected)
	assert.Equal(t, int64(0), s.Queued)
	assert.Equal(t, int64(0), s.InFlight)
	assertAccounted(t, s)
	assert.LessOrEqual(t, maxSeen.Load(), int32(8))
}
