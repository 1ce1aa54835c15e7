package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/tracker"
)

const defaultMessageLimit = 20

// TaskResponse is the progress view of a tenant's platform task.
type TaskResponse struct {
	Task     *tracker.Task     `json:"task"`
	Messages []tracker.Message `json:"messages"`
}

// TaskHandler serves GET /api/tasks/{tenant}/{platform}.
type TaskHandler struct {
	provider TaskProvider
	registry *platform.Registry
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(provider TaskProvider, reg *platform.Registry) *TaskHandler {
	return &TaskHandler{
		provider: provider,
		registry: reg,
	}
}

// ServeHTTP implements http.Handler. The messages query parameter caps how
// many recent messages are returned; 0 omits them.
func (h *TaskHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID, p, ok := tenantPlatform(w, r, h.registry)
	if !ok {
		return
	}

	limit := defaultMessageLimit
	if v := r.URL.Query().Get("messages"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "messages must be a non-negative integer")
			return
		}
		limit = n
	}

	task, err := h.provider.GetTask(r.Context(), tenantID, p)
	if errors.Is(err, tracker.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "no task for %s/%s", tenantID, p)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	resp := TaskResponse{Task: task, Messages: []tracker.Message{}}
	if limit > 0 {
		msgs, err := h.provider.GetMessages(r.Context(), tenantID, p, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		if msgs != nil {
			resp.Messages = msgs
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
