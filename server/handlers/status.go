package handlers

import (
	"net/http"
	"time"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/server/cron"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/server/runner"
)

// NextRunResponse is the JSON response for the next run information.
type NextRunResponse struct {
	Scheduled bool       `json:"scheduled"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// APIStatusResponse is the consolidated response for /api/status.
type APIStatusResponse struct {
	Run      runner.RunStatus `json:"run"`
	NextRun  NextRunResponse  `json:"next_run"`
	Schedule []cron.JobInfo   `json:"schedule"`
}

// APIStatusHandler handles requests for the consolidated status endpoint.
type APIStatusHandler struct {
	runs     RunStatusProvider
	schedule ScheduleProvider
}

// NewAPIStatusHandler creates a new APIStatusHandler. schedule may be nil.
func NewAPIStatusHandler(runs RunStatusProvider, schedule ScheduleProvider) *APIStatusHandler {
	return &APIStatusHandler{
		runs:     runs,
		schedule: schedule,
	}
}

// ServeHTTP implements http.Handler.
func (h *APIStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := APIStatusResponse{
		Run:      h.runs.Status(),
		Schedule: []cron.JobInfo{},
	}
	if h.schedule != nil {
		resp.Schedule = h.schedule.Jobs()
	}
	if len(resp.Schedule) > 0 {
		next := resp.Schedule[0].NextRun
		resp.NextRun = NextRunResponse{Scheduled: true, NextRun: &next}
	}
	writeJSON(w, http.StatusOK, resp)
}
