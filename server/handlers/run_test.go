package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/orchestrator"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/server/runner"
)

func TestRunHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		runErr     error
		wantStatus int
		wantErr    string
	}{
		{
			name:       "accepted",
			body:       `{"tenant_id":"t1","platform":"google_maps","identifier":"place-1","force_refresh":true,"max_items":50}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "invalid json",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantErr:    "invalid JSON",
		},
		{
			name:       "missing tenant",
			body:       `{"platform":"google_maps","identifier":"place-1"}`,
			wantStatus: http.StatusBadRequest,
			wantErr:    "tenant_id",
		},
		{
			name:       "missing identifier",
			body:       `{"tenant_id":"t1","platform":"google_maps"}`,
			wantStatus: http.StatusBadRequest,
			wantErr:    "identifier",
		},
		{
			name:       "unsupported platform",
			body:       `{"tenant_id":"t1","platform":"yelp","identifier":"x"}`,
			wantStatus: http.StatusBadRequest,
			wantErr:    "unsupported platform",
		},
		{
			name:       "run in progress",
			body:       `{"tenant_id":"t1","platform":"facebook","identifier":"page"}`,
			runErr:     runner.ErrRunInProgress,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "shutting down",
			body:       `{"tenant_id":"t1","platform":"facebook","identifier":"page"}`,
			runErr:     runner.ErrShuttingDown,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "unexpected error",
			body:       `{"tenant_id":"t1","platform":"facebook","identifier":"page"}`,
			runErr:     errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockRunner{summary: runner.RunSummary{ID: "run-1", State: runner.RunStateRunning}, err: tt.runErr}
			handler := NewRunHandler(m, testRegistry)

			req := httptest.NewRequest(http.MethodPost, "/api/run", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantErr != "" {
				assert.Contains(t, decode[ErrorResponse](t, w).Error, tt.wantErr)
				assert.Empty(t, m.got)
			}
		})
	}
}

func TestRunHandler_PassesRequest(t *testing.T) {
	m := &mockRunner{summary: runner.RunSummary{ID: "run-1", State: runner.RunStateRunning}}
	handler := NewRunHandler(m, testRegistry)

	body := `{"tenant_id":"t1","platform":"tripadvisor","identifier":"loc-9","force_refresh":true,"max_items":25}`
	req := httptest.NewRequest(http.MethodPost, "/api/run", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, m.got, 1)
	assert.Equal(t, orchestrator.Request{
		TenantID:   "t1",
		Platform:   platform.TripAdvisor,
		Identifier: "loc-9",
		Options:    orchestrator.Options{ForceRefresh: true, MaxItems: 25},
	}, m.got[0])

	resp := decode[map[string]any](t, w)
	assert.Equal(t, "run-1", resp["id"])
	assert.Equal(t, "running", resp["state"])
}
