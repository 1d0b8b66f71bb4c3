package handler

import (
	"context"
	"net/http"

	domainErrors "github.com/cassiomorais/payments-capture/internal/domain/errors"
	"github.com/cassiomorais/payments-capture/internal/domain/intent"
	"github.com/cassiomorais/payments-capture/internal/scheduler"
	"github.com/cassiomorais/payments-capture/internal/workerpool"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type JobRunner interface {
	Entries() []scheduler.EntryInfo
	RunNow(name string) error
}

type PoolController interface {
	Name() string
	Stats() workerpool.Stats
	Resize(n int) error
}

type IntentReader interface {
	Get(ctx context.Context, id uuid.UUID) (*intent.PaymentIntent, error)
}

type Enqueuer interface {
	Enqueue(id uuid.UUID) (uint64, error)
}

// AdminHandler exposes operator endpoints for the scheduler and the pool.
type AdminHandler struct {
	jobs    JobRunner
	pool    PoolController
	intents IntentReader
	queue   Enqueuer
}

func NewAdminHandler(jobs JobRunner, pool PoolController, intents IntentReader, queue Enqueuer) *AdminHandler {
	return &AdminHandler{jobs: jobs, pool: pool, intents: intents, queue: queue}
}

// ListJobs handles GET /admin/jobs
func (h *AdminHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	entries := h.jobs.Entries()
	resp := make([]JobResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toJobResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// RunJob handles POST /admin/jobs/{name}/run
func (h *AdminHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.jobs.RunNow(name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job": name, "status": "completed"})
}

// PoolStats handles GET /admin/pool
func (h *AdminHandler) PoolStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toPoolResponse(h.pool.Name(), h.pool.Stats()))
}

// ResizePool handles PUT /admin/pool. The next resize tick may override it.
func (h *AdminHandler) ResizePool(w http.ResponseWriter, r *http.Request) {
	var req ResizePoolRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.pool.Resize(req.MaxWorkers); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolResponse(h.pool.Name(), h.pool.Stats()))
}

// GetIntent handles GET /admin/intents/{id}
func (h *AdminHandler) GetIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := intentID(w, r)
	if !ok {
		return
	}
	pi, err := h.intents.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toIntentResponse(pi))
}

// CaptureIntent handles POST /admin/intents/{id}/capture. The attempt runs
// on the pool; the response only acknowledges the enqueue.
func (h *AdminHandler) CaptureIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := intentID(w, r)
	if !ok {
		return
	}
	pi, err := h.intents.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if pi.Status != intent.StatusRequiresCapture {
		writeError(w, domainErrors.NewDomainError("not_capturable",
			"payment intent is "+string(pi.Status), domainErrors.ErrInvalidStateTransition))
		return
	}
	taskID, err := h.queue.Enqueue(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, EnqueueResponse{IntentID: id.String(), TaskID: taskID})
}

func intentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payment intent ID", Code: "invalid_input"})
		return uuid.Nil, false
	}
	return id, true
}
