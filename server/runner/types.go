package runner

import (
	"time"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/logging"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
)

// RunState represents the state of a pipeline run.
type RunState int

const (
	// RunStateRunning indicates the run is in progress.
	RunStateRunning RunState = iota
	// RunStateSucceeded indicates every required step completed.
	RunStateSucceeded
	// RunStateFailed indicates the run stopped at a failed step.
	RunStateFailed
	// RunStateCancelled indicates the run was interrupted by shutdown.
	RunStateCancelled
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	switch s {
	case RunStateRunning:
		return "running"
	case RunStateSucceeded:
		return "succeeded"
	case RunStateFailed:
		return "failed"
	case RunStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s RunState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler so persisted runs load back.
func (s *RunState) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"running"`:
		*s = RunStateRunning
	case `"succeeded"`:
		*s = RunStateSucceeded
	case `"failed"`:
		*s = RunStateFailed
	case `"cancelled"`:
		*s = RunStateCancelled
	default:
		*s = RunStateFailed
	}
	return nil
}

// Trigger records what started a run.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerCron   Trigger = "cron"
	TriggerRetry  Trigger = "retry"
)

// RunSummary describes one pipeline run started by the runner.
type RunSummary struct {
	ID         string            `json:"id"`
	Trigger    Trigger           `json:"trigger"`
	TenantID   string            `json:"tenant_id"`
	Platform   platform.Platform `json:"platform"`
	Identifier string            `json:"identifier,omitempty"`
	// TaskID links the run to its progress tracker task.
	TaskID         string     `json:"task_id,omitempty"`
	BusinessID     string     `json:"business_id,omitempty"`
	State          RunState   `json:"state"`
	ItemsProcessed int        `json:"items_processed"`
	FailedStep     string     `json:"failed_step,omitempty"`
	Error          string     `json:"error,omitempty"`
	Enqueued       bool       `json:"enqueued,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (s RunSummary) Duration() time.Duration {
	if s.StartedAt == nil || s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.StartedAt)
}

// RunStatus is a point-in-time view of the runner.
type RunStatus struct {
	// Active lists runs in progress, oldest first.
	Active []RunSummary `json:"active"`
	// Last is the most recently finished run, if any.
	Last *RunSummary `json:"last,omitempty"`
}

// runRecord is the persisted form of a run.
type runRecord struct {
	RunSummary
	Logs []logging.LogEntry `json:"logs,omitempty"`
}
