package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecordingTracer() (*tracetest.SpanRecorder, otelhttp.Option) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return rec, otelhttp.WithTracerProvider(tp)
}

func TestTracing_NamesSpanAfterRoute(t *testing.T) {
	rec, opt := newRecordingTracer()
	r := chi.NewRouter()
	r.Use(Tracing(opt))
	r.Post("/admin/jobs/{name}/run", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/jobs/heartbeat/run", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /admin/jobs/{name}/run", spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
}

func TestTracing_UnmatchedRoute(t *testing.T) {
	rec, opt := newRecordingTracer()
	h := Tracing(opt)(http.NotFoundHandler())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/intents/123", nil))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET "+unmatchedRoute, spans[0].Name())
}

func TestTracing_SpanVisibleToHandler(t *testing.T) {
	_, opt := newRecordingTracer()
	var valid bool
	h := Tracing(opt)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		valid = trace.SpanContextFromContext(r.Context()).IsValid()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.True(t, valid)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestTracing_PreservesStatus(t *testing.T) {
	for _, code := range []int{http.StatusOK, http.StatusConflict, http.StatusServiceUnavailable} {
		_, opt := newRecordingTracer()
		h := Tracing(opt)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		}))

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/admin/pool", nil))
		assert.Equal(t, code, w.Code)
	}
}
