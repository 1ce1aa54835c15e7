package tracker

import (
	"errors"
	"fmt"
	"time"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
)

var (
	// ErrTaskNotFound is returned when no task exists for a (tenant, platform) key.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskTerminal is returned when mutating a completed, failed or cancelled task.
	ErrTaskTerminal = errors.New("task is in a terminal state")
	// ErrInvalidTransition is returned when a mutation is not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// Status is the state of a pipeline task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Step is one stage of the pipeline.
type Step string

const (
	StepProfile Step = "business_profile"
	StepCollect Step = "collect_reviews"
	StepAnalyze Step = "compute_analytics"
)

// Steps returns the pipeline stages in execution order.
func Steps() []Step {
	return []Step{StepProfile, StepCollect, StepAnalyze}
}

// Severity tags a task message.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Key identifies the single active task for a tenant and platform.
type Key struct {
	TenantID string
	Platform platform.Platform
}

// String returns "tenant/platform".
func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.TenantID, k.Platform)
}

// Task records how far one pipeline run got, and why.
type Task struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	Platform        platform.Platform `json:"platform"`
	Identifier      string            `json:"identifier"`
	Status          Status            `json:"status"`
	CurrentStep     Step              `json:"current_step,omitempty"`
	TotalSteps      int               `json:"total_steps"`
	CompletedSteps  int               `json:"completed_steps"`
	ProgressPercent int               `json:"progress_percent"`
	ErrorCount      int               `json:"error_count"`
	MaxRetries      int               `json:"max_retries"`
	LastError       string            `json:"last_error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	LastActivityAt  time.Time         `json:"last_activity_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// Key returns the task's (tenant, platform) key.
func (t *Task) Key() Key {
	return Key{TenantID: t.TenantID, Platform: t.Platform}
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Message is an immutable log entry attached to a task.
type Message struct {
	ID         string         `json:"id"`
	TaskID     string         `json:"task_id"`
	Step       Step           `json:"step,omitempty"`
	Status     Status         `json:"status"`
	Message    string         `json:"message"`
	Severity   Severity       `json:"severity"`
	Progress   *int           `json:"progress,omitempty"`
	ErrorCount *int           `json:"error_count,omitempty"`
	MaxRetries *int           `json:"max_retries,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ProgressUpdate is an intra-step update applied by UpdateProgress.
// Nil fields are left unchanged.
type ProgressUpdate struct {
	Status  *Status
	Step    *Step
	Percent *int
	Message string
}

func intPtr(v int) *int {
	return &v
}
