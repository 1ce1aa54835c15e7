package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/server/cron"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/server/runner"
)

func TestAPIStatusHandler(t *testing.T) {
	started := time.Now()
	runs := &mockRunner{status: runner.RunStatus{Active: []runner.RunSummary{{ID: "run-1", StartedAt: &started}}}}

	t.Run("with schedule", func(t *testing.T) {
		next := time.Date(2026, 6, 1, 2, 0, 0, 0, time.UTC)
		schedule := &mockSchedule{jobs: []cron.JobInfo{
			{Name: "refresh:t1:google_maps", Schedule: "0 2 * * *", NextRun: next},
			{Name: "retry-poll", Schedule: "@every 5m", NextRun: next.Add(time.Hour)},
		}}

		w := httptest.NewRecorder()
		NewAPIStatusHandler(runs, schedule).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[APIStatusResponse](t, w)
		assert.True(t, resp.NextRun.Scheduled)
		require.NotNil(t, resp.NextRun.NextRun)
		assert.True(t, next.Equal(*resp.NextRun.NextRun))
		assert.Len(t, resp.Schedule, 2)
		require.Len(t, resp.Run.Active, 1)
		assert.Equal(t, "run-1", resp.Run.Active[0].ID)
	})

	t.Run("without schedule", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewAPIStatusHandler(runs, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"scheduled":false`)
		assert.Contains(t, w.Body.String(), `"schedule":[]`)
	})
}
