package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/logging"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/server/runner"
)

func TestHistoryHandler(t *testing.T) {
	m := &mockRunner{history: []runner.RunSummary{
		{ID: "run-2", State: runner.RunStateFailed, Error: "collect_reviews: timeout"},
		{ID: "run-1", State: runner.RunStateSucceeded},
	}}

	w := httptest.NewRecorder()
	NewHistoryHandler(m).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history", nil))

	require.Equal(t, http.StatusOK, w.Code)
	history := decode[[]map[string]any](t, w)
	require.Len(t, history, 2)
	assert.Equal(t, "run-2", history[0]["id"])
	assert.Equal(t, "failed", history[0]["state"])
}

func TestHistoryLogsHandler(t *testing.T) {
	m := &mockRunner{
		history: []runner.RunSummary{{ID: "run-1"}, {ID: "run-2"}},
		logs: map[string][]logging.LogEntry{
			"run-1": {{Level: "INFO", Message: "step started"}},
		},
	}
	handler := NewHistoryLogsHandler(m)

	tests := []struct {
		name       string
		id         string
		wantStatus int
		wantCount  int
	}{
		{name: "run with logs", id: "run-1", wantStatus: http.StatusOK, wantCount: 1},
		{name: "run without logs", id: "run-2", wantStatus: http.StatusOK, wantCount: 0},
		{name: "unknown run", id: "run-3", wantStatus: http.StatusNotFound},
		{name: "missing id", id: "", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/history/x/logs", nil)
			req.SetPathValue("id", tt.id)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Len(t, decode[[]logging.LogEntry](t, w), tt.wantCount)
			}
		})
	}
}
