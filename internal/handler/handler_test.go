package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/payments-capture/internal/domain/errors"
	"github.com/cassiomorais/payments-capture/internal/domain/intent"
	"github.com/cassiomorais/payments-capture/internal/infrastructure/config"
	"github.com/cassiomorais/payments-capture/internal/infrastructure/observability"
	"github.com/cassiomorais/payments-capture/internal/repository/memory"
	"github.com/cassiomorais/payments-capture/internal/scheduler"
	"github.com/cassiomorais/payments-capture/internal/workerpool"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	ran []string
}

func (f *fakeJobs) Entries() []scheduler.EntryInfo {
	return []scheduler.EntryInfo{
		{Name: "capture_uncaptured_payment_intents", Spec: "*/30 * * * * *", Next: time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)},
		{Name: "heartbeat", Spec: "@every 1m"},
	}
}

func (f *fakeJobs) RunNow(name string) error {
	if name == "unknown" {
		return domainErrors.ErrInvalidInput
	}
	f.ran = append(f.ran, name)
	return nil
}

type fakeQueue struct {
	ids []uuid.UUID
	err error
}

func (f *fakeQueue) Enqueue(id uuid.UUID) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.ids = append(f.ids, id)
	return uint64(len(f.ids)), nil
}

type server struct {
	running  bool
	checkErr error
	jobs     *fakeJobs
	queue    *fakeQueue
	store    *memory.IntentStore
	pool     *workerpool.Pool[int]
	router   http.Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	pool, err := workerpool.New[int]("capture", 2, 10)
	require.NoError(t, err)
	t.Cleanup(func() { _, _, _ = pool.Cancel(context.Background()) })

	s := &server{
		running: true,
		jobs:    &fakeJobs{},
		queue:   &fakeQueue{},
		store:   memory.NewIntentStore(),
		pool:    pool,
	}
	health := NewHealthHandler(func() bool { return s.running }, map[string]Check{
		"database": func(context.Context) error { return s.checkErr },
	})
	reg := prometheus.NewRegistry()
	s.router = NewRouter(RouterDeps{
		Health:   health,
		Admin:    NewAdminHandler(s.jobs, pool, s.store, s.queue),
		Metrics:  observability.NewMetrics("test", reg),
		Gatherer: reg,
		Server:   config.ServerConfig{AdminRateLimit: 0},
	})
	return s
}

func (s *server) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) addIntent(status intent.Status) *intent.PaymentIntent {
	pi, _ := intent.NewPaymentIntent("stripe", "US", "pi_123", intent.Amount{ValueCents: 2500, Currency: "USD"})
	pi.Status = status
	_ = s.store.Insert(context.Background(), pi)
	return pi
}

func TestLiveness(t *testing.T) {
	s := newServer(t)
	s.running = false
	assert.Equal(t, http.StatusServiceUnavailable, s.do("GET", "/health/live", "").Code)

	s.running = true
	w := s.do("GET", "/health/live", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"alive"}`, w.Body.String())
}

func TestReadiness(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusOK, s.do("GET", "/health/ready", "").Code)

	s.checkErr = errors.New("connection refused")
	w := s.do("GET", "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "database unavailable")

	s.checkErr = nil
	s.running = false
	assert.Equal(t, http.StatusServiceUnavailable, s.do("GET", "/health/ready", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t)
	s.do("GET", "/health/live", "")
	w := s.do("GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_http_requests_total")
}

func TestListJobs(t *testing.T) {
	s := newServer(t)
	w := s.do("GET", "/admin/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)

	var jobs []JobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	require.Len(t, jobs, 2)
	assert.Equal(t, "capture_uncaptured_payment_intents", jobs[0].Name)
	require.NotNil(t, jobs[0].Next)
	assert.Nil(t, jobs[1].Next)
}

func TestRunJob(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusOK, s.do("POST", "/admin/jobs/heartbeat/run", "").Code)
	assert.Equal(t, []string{"heartbeat"}, s.jobs.ran)
	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/admin/jobs/unknown/run", "").Code)
}

func TestResizePool(t *testing.T) {
	s := newServer(t)

	w := s.do("PUT", "/admin/pool", `{"max_workers": 7}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp PoolResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.MaxWorkers)
	assert.Equal(t, 7, s.pool.Size())

	assert.Equal(t, http.StatusBadRequest, s.do("PUT", "/admin/pool", `{"max_workers": 0}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do("PUT", "/admin/pool", `not json`).Code)
}

func TestPoolStats(t *testing.T) {
	s := newServer(t)
	w := s.do("GET", "/admin/pool", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp PoolResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "capture", resp.Name)
	assert.Equal(t, 2, resp.MaxWorkers)
}

func TestGetIntent(t *testing.T) {
	s := newServer(t)
	pi := s.addIntent(intent.StatusRequiresCapture)

	w := s.do("GET", "/admin/intents/"+pi.ID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp IntentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "requires_capture", resp.Status)
	assert.Equal(t, int64(2500), resp.AmountCents)

	assert.Equal(t, http.StatusNotFound, s.do("GET", "/admin/intents/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/admin/intents/not-a-uuid", "").Code)
}

func TestCaptureIntent(t *testing.T) {
	s := newServer(t)
	pi := s.addIntent(intent.StatusRequiresCapture)

	w := s.do("POST", "/admin/intents/"+pi.ID.String()+"/capture", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []uuid.UUID{pi.ID}, s.queue.ids)

	captured := s.addIntent(intent.StatusCaptured)
	assert.Equal(t, http.StatusConflict, s.do("POST", "/admin/intents/"+captured.ID.String()+"/capture", "").Code)

	s.queue.err = domainErrors.ErrPoolSaturated
	assert.Equal(t, http.StatusServiceUnavailable, s.do("POST", "/admin/intents/"+pi.ID.String()+"/capture", "").Code)
}

func TestSecurityHeadersApplied(t *testing.T) {
	s := newServer(t)
	w := s.do("GET", "/health/live", "")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
