package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthHandler(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("connection refused") }
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	tests := []struct {
		name       string
		checks     map[string]func(context.Context) error
		wantStatus int
		wantBody   string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{"all pass", map[string]func(context.Context) error{"database": ok, "redis": ok}, http.StatusOK, "ok"},
		{
			"one fails",
			map[string]func(context.Context) error{"database": ok, "redis": down},
			http.StatusServiceUnavailable,
			"redis: connection refused",
		},
		{
			"failures are sorted by name",
			map[string]func(context.Context) error{"redis": down, "database": down},
			http.StatusServiceUnavailable,
			"database: connection refused\nredis: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(tt.checks).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantBody, w.Body.String())
		})
	}

	t.Run("hung check times out", func(t *testing.T) {
		h := NewHealthHandler(map[string]func(context.Context) error{"database": slow})
		h.timeout = 10 * time.Millisecond

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "database: context deadline exceeded")
	})
}
