package providerclient

// JobState is the lifecycle state of a provider collection job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

type collectRequest struct {
	TenantID     string `json:"tenant_id"`
	BusinessID   string `json:"business_id"`
	Platform     string `json:"platform"`
	Identifier   string `json:"identifier"`
	ForceRefresh bool   `json:"force_refresh"`
	MaxItems     int    `json:"max_items,omitempty"`
}

// jobStatus is returned both when a job is started and when it is polled.
type jobStatus struct {
	JobID          string   `json:"job_id"`
	Status         JobState `json:"status"`
	Completed      int      `json:"completed"`
	Total          int      `json:"total"`
	Message        string   `json:"message,omitempty"`
	ItemsProcessed int      `json:"items_processed"`
	Error          string   `json:"error,omitempty"`
}

type analyticsRequest struct {
	BusinessID string `json:"business_id"`
	Platform   string `json:"platform"`
}

type analyticsResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
