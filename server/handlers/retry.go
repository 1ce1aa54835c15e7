package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/retryqueue"
)

// EnqueueRequest defines the request body for POST /api/retry.
type EnqueueRequest struct {
	TenantID         string            `json:"tenant_id"`
	BusinessEntityID string            `json:"business_entity_id"`
	Platform         platform.Platform `json:"platform"`
	Identifier       string            `json:"identifier"`
	Error            string            `json:"error"`
}

// RetryHandler serves the retry queue endpoints.
type RetryHandler struct {
	queue            RetryQueue
	registry         *platform.Registry
	defaultBatchSize int
}

// NewRetryHandler creates a new RetryHandler. defaultBatchSize applies to
// process requests without a batch parameter.
func NewRetryHandler(queue RetryQueue, reg *platform.Registry, defaultBatchSize int) *RetryHandler {
	return &RetryHandler{
		queue:            queue,
		registry:         reg,
		defaultBatchSize: defaultBatchSize,
	}
}

// Stats serves GET /api/retry/stats.
func (h *RetryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Enqueue serves POST /api/retry. An entry that has exhausted its retries
// is reported with accepted=false and status 200.
func (h *RetryHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: %v", err)
		return
	}
	switch {
	case req.TenantID == "" || req.BusinessEntityID == "":
		writeError(w, http.StatusBadRequest, "tenant_id and business_entity_id are required")
		return
	case !h.registry.Supports(req.Platform):
		writeError(w, http.StatusBadRequest, "unsupported platform %q", req.Platform)
		return
	}

	res, err := h.queue.AddToQueue(r.Context(), retryqueue.Failure{
		TenantID:         req.TenantID,
		BusinessEntityID: req.BusinessEntityID,
		Platform:         req.Platform,
		Identifier:       req.Identifier,
		Error:            req.Error,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	status := http.StatusAccepted
	if !res.Accepted {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// Process serves POST /api/retry/process?batch=N and runs one pass over
// due entries.
func (h *RetryHandler) Process(w http.ResponseWriter, r *http.Request) {
	batch := h.defaultBatchSize
	if v := r.URL.Query().Get("batch"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "batch must be a positive integer")
			return
		}
		batch = n
	}

	res, err := h.queue.ProcessQueue(r.Context(), batch)
	if errors.Is(err, retryqueue.ErrNoRetryFunc) {
		writeError(w, http.StatusServiceUnavailable, "%v", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Remove serves DELETE /api/retry/{entity}/{platform}.
func (h *RetryHandler) Remove(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	p := platform.Platform(r.PathValue("platform"))
	if !h.registry.Supports(p) {
		writeError(w, http.StatusBadRequest, "unsupported platform %q", p)
		return
	}

	err := h.queue.RemoveFromQueue(r.Context(), entity, p)
	switch {
	case errors.Is(err, retryqueue.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "%v", err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "%v", err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
