package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

const defaultHealthTimeout = 2 * time.Second

// HealthHandler answers /health by checking the pipeline's dependencies,
// such as the database and Redis. It returns "ok" when every check passes
// and 503 listing the failed ones otherwise.
type HealthHandler struct {
	checks  map[string]func(context.Context) error
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler. With no checks it reports the
// process as healthy as long as it serves requests.
func NewHealthHandler(checks map[string]func(context.Context) error) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: defaultHealthTimeout}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", name, err))
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	if len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(strings.Join(failed, "\n")))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
