package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
)

// ErrorResponse is returned when an error occurs.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, ErrorResponse{Error: fmt.Sprintf(format, args...)})
}

// tenantPlatform reads the {tenant} and {platform} path values and checks
// the platform against reg. It writes a 400 and returns false on failure.
func tenantPlatform(w http.ResponseWriter, r *http.Request, reg *platform.Registry) (string, platform.Platform, bool) {
	tenantID := r.PathValue("tenant")
	p := platform.Platform(r.PathValue("platform"))
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "missing tenant")
		return "", "", false
	}
	if !reg.Supports(p) {
		writeError(w, http.StatusBadRequest, "unsupported platform %q", p)
		return "", "", false
	}
	return tenantID, p, true
}
