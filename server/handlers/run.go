package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/orchestrator"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/server/runner"
)

// RunRequest defines the request body for POST /api/run.
type RunRequest struct {
	TenantID     string            `json:"tenant_id"`
	Platform     platform.Platform `json:"platform"`
	Identifier   string            `json:"identifier"`
	ForceRefresh bool              `json:"force_refresh"`
	MaxItems     int               `json:"max_items"`
}

func (req RunRequest) validate(reg *platform.Registry) error {
	switch {
	case req.TenantID == "":
		return errors.New("tenant_id is required")
	case req.Identifier == "":
		return errors.New("identifier is required")
	case !reg.Supports(req.Platform):
		return fmt.Errorf("unsupported platform %q", req.Platform)
	case req.MaxItems < 0:
		return errors.New("max_items must not be negative")
	}
	return nil
}

// RunHandler handles requests to trigger a pipeline run.
type RunHandler struct {
	runner   PipelineRunner
	registry *platform.Registry
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(r PipelineRunner, reg *platform.Registry) *RunHandler {
	return &RunHandler{
		runner:   r,
		registry: reg,
	}
}

// ServeHTTP implements http.Handler.
func (h *RunHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: %v", err)
		return
	}
	if err := req.validate(h.registry); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	summary, err := h.runner.Run(orchestrator.Request{
		TenantID:   req.TenantID,
		Platform:   req.Platform,
		Identifier: req.Identifier,
		Options: orchestrator.Options{
			ForceRefresh: req.ForceRefresh,
			MaxItems:     req.MaxItems,
		},
	})
	switch {
	case errors.Is(err, runner.ErrRunInProgress):
		writeError(w, http.StatusConflict, "%v", err)
	case errors.Is(err, runner.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "%v", err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "%v", err)
	default:
		writeJSON(w, http.StatusAccepted, summary)
	}
}
