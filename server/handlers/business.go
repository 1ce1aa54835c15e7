package handlers

import (
	"errors"
	"net/http"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/orchestrator"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
)

// BusinessHandler serves GET /api/business/{tenant}/{platform}.
type BusinessHandler struct {
	provider BusinessDataProvider
	registry *platform.Registry
}

// NewBusinessHandler creates a new BusinessHandler.
func NewBusinessHandler(provider BusinessDataProvider, reg *platform.Registry) *BusinessHandler {
	return &BusinessHandler{
		provider: provider,
		registry: reg,
	}
}

// ServeHTTP implements http.Handler.
func (h *BusinessHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID, p, ok := tenantPlatform(w, r, h.registry)
	if !ok {
		return
	}

	data, err := h.provider.GetBusinessData(r.Context(), tenantID, p)
	switch {
	case errors.Is(err, orchestrator.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "%v", err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "%v", err)
	default:
		writeJSON(w, http.StatusOK, data)
	}
}
