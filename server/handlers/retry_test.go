package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/retryqueue"
)

func TestRetryHandler_Stats(t *testing.T) {
	q := &mockQueue{stats: retryqueue.Stats{Pending: 2, Failed: 1, Total: 3}}
	w := httptest.NewRecorder()
	NewRetryHandler(q, testRegistry, 10).Stats(w, httptest.NewRequest(http.MethodGet, "/api/retry/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, q.stats, decode[retryqueue.Stats](t, w))
}

func TestRetryHandler_Enqueue(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		accepted   bool
		wantStatus int
	}{
		{
			name:       "accepted",
			body:       `{"tenant_id":"t1","business_entity_id":"biz-1","platform":"booking","identifier":"hotel","error":"timeout"}`,
			accepted:   true,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "permanently failed",
			body:       `{"tenant_id":"t1","business_entity_id":"biz-1","platform":"booking","error":"timeout"}`,
			wantStatus: http.StatusOK,
		},
		{name: "invalid json", body: `nope`, wantStatus: http.StatusBadRequest},
		{name: "missing entity", body: `{"tenant_id":"t1","platform":"booking"}`, wantStatus: http.StatusBadRequest},
		{name: "unsupported platform", body: `{"tenant_id":"t1","business_entity_id":"b","platform":"yelp"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQueue{addResult: retryqueue.AddResult{Accepted: tt.accepted}}
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/retry", strings.NewReader(tt.body))
			NewRetryHandler(q, testRegistry, 10).Enqueue(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if w.Code == http.StatusBadRequest {
				assert.Empty(t, q.added)
				return
			}
			require.Len(t, q.added, 1)
			assert.Equal(t, "biz-1", q.added[0].BusinessEntityID)
			assert.Equal(t, platform.Booking, q.added[0].Platform)
			assert.Equal(t, "timeout", q.added[0].Error)
		})
	}
}

func TestRetryHandler_Process(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		err        error
		wantStatus int
		wantBatch  int
	}{
		{name: "default batch", wantStatus: http.StatusOK, wantBatch: 10},
		{name: "explicit batch", query: "?batch=3", wantStatus: http.StatusOK, wantBatch: 3},
		{name: "bad batch", query: "?batch=0", wantStatus: http.StatusBadRequest},
		{name: "no retry action", err: retryqueue.ErrNoRetryFunc, wantStatus: http.StatusServiceUnavailable, wantBatch: 10},
		{name: "store error", err: errors.New("db locked"), wantStatus: http.StatusInternalServerError, wantBatch: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQueue{processRes: retryqueue.ProcessResult{Selected: 2, Resolved: 1, Requeued: 1}, processErr: tt.err}
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/retry/process"+tt.query, nil)
			NewRetryHandler(q, testRegistry, 10).Process(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantBatch, q.batch)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, q.processRes, decode[retryqueue.ProcessResult](t, w))
			}
		})
	}
}

func TestRetryHandler_Remove(t *testing.T) {
	tests := []struct {
		name       string
		platform   string
		err        error
		wantStatus int
	}{
		{name: "removed", platform: "facebook", wantStatus: http.StatusNoContent},
		{name: "not found", platform: "facebook", err: retryqueue.ErrEntryNotFound, wantStatus: http.StatusNotFound},
		{name: "unsupported platform", platform: "yelp", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQueue{removeErr: tt.err}
			req := httptest.NewRequest(http.MethodDelete, "/api/retry/biz-1/"+tt.platform, nil)
			req.SetPathValue("entity", "biz-1")
			req.SetPathValue("platform", tt.platform)
			w := httptest.NewRecorder()
			NewRetryHandler(q, testRegistry, 10).Remove(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusBadRequest {
				assert.Equal(t, []string{"biz-1/" + tt.platform}, q.removed)
			}
		})
	}
}
