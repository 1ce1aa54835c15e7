// Package handlers provides HTTP handlers for the wirecrest server.
//
// Each handler is in its own file and implements http.Handler.
// Handlers use interfaces to access server dependencies, avoiding
// circular imports.
package handlers

import (
	"context"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/logging"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/orchestrator"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/retryqueue"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/server/cron"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/server/runner"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/tracker"
)

// PipelineRunner can start pipeline runs.
type PipelineRunner interface {
	Run(req orchestrator.Request) (runner.RunSummary, error)
}

// RunStatusProvider provides access to run status.
type RunStatusProvider interface {
	Status() runner.RunStatus
}

// HistoryProvider provides access to run history.
type HistoryProvider interface {
	History() []runner.RunSummary
	Logs(id string) []logging.LogEntry
}

// ScheduleProvider lists scheduled jobs.
type ScheduleProvider interface {
	Jobs() []cron.JobInfo
}

// TaskProvider reads progress tracker state.
type TaskProvider interface {
	GetTask(ctx context.Context, tenantID string, p platform.Platform) (*tracker.Task, error)
	GetMessages(ctx context.Context, tenantID string, p platform.Platform, limit int) ([]tracker.Message, error)
}

// BusinessDataProvider reads a tenant's stored platform state.
type BusinessDataProvider interface {
	GetBusinessData(ctx context.Context, tenantID string, p platform.Platform) (orchestrator.BusinessData, error)
}

// RetryQueue is the retry backlog as seen by the API.
type RetryQueue interface {
	AddToQueue(ctx context.Context, f retryqueue.Failure) (retryqueue.AddResult, error)
	ProcessQueue(ctx context.Context, batchSize int) (retryqueue.ProcessResult, error)
	RemoveFromQueue(ctx context.Context, businessEntityID string, p platform.Platform) error
	GetStats(ctx context.Context) (retryqueue.Stats, error)
}
