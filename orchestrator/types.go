package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/tracker"
)

var (
	// ErrProfileNotFound is returned when a tenant has no profile for a platform.
	ErrProfileNotFound = errors.New("business profile not found")
	// ErrInvalidRequest is returned for requests missing required fields.
	ErrInvalidRequest = errors.New("invalid pipeline request")
	// ErrAnalyticsUnsuccessful is recorded when the analytics service reports
	// failure without an error.
	ErrAnalyticsUnsuccessful = errors.New("analytics computation reported failure")
)

// Options tune a single pipeline run.
type Options struct {
	// ForceRefresh asks the provider to re-collect data it already has.
	ForceRefresh bool `json:"force_refresh"`
	// MaxItems caps how many reviews the provider collects. Zero means no cap.
	MaxItems int `json:"max_items,omitempty"`
}

// Request identifies one pipeline run.
type Request struct {
	TenantID   string            `json:"tenant_id"`
	Platform   platform.Platform `json:"platform"`
	Identifier string            `json:"identifier"`
	Options    Options           `json:"options"`
}

// Result summarizes a pipeline run.
type Result struct {
	TenantID           string            `json:"tenant_id"`
	Platform           platform.Platform `json:"platform"`
	Identifier         string            `json:"identifier"`
	TaskID             string            `json:"task_id,omitempty"`
	Success            bool              `json:"success"`
	Cancelled          bool              `json:"cancelled,omitempty"`
	BusinessID         string            `json:"business_id,omitempty"`
	ProfileCreated     bool              `json:"profile_created,omitempty"`
	ItemsProcessed     int               `json:"items_processed"`
	AnalyticsGenerated bool              `json:"analytics_generated"`
	FailedStep         tracker.Step      `json:"failed_step,omitempty"`
	Error              string            `json:"error,omitempty"`
	Duration           time.Duration     `json:"duration"`
}

// Profile is a stored business profile.
type Profile struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	Platform   platform.Platform `json:"platform"`
	Identifier string            `json:"identifier"`
	// Attributes holds platform-specific fields such as place_id or page_id.
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ProfileRef is the outcome of EnsureProfile.
type ProfileRef struct {
	ID      string
	Created bool
}

// ProfileService stores business profiles.
type ProfileService interface {
	// EnsureProfile returns the existing profile for (tenant, platform) or
	// creates one. Calling it twice never creates two profiles.
	EnsureProfile(ctx context.Context, tenantID string, p platform.Platform, identifier string) (ProfileRef, error)
	// GetProfile returns the profile for (tenant, platform) or ErrProfileNotFound.
	GetProfile(ctx context.Context, tenantID string, p platform.Platform) (*Profile, error)
}

// ProgressFunc receives collection milestones from a ReviewCollector.
type ProgressFunc func(completed, total int, message string)

// CollectRequest asks a provider to collect reviews for one business.
type CollectRequest struct {
	TenantID     string
	BusinessID   string
	Platform     platform.Platform
	Identifier   string
	ForceRefresh bool
	MaxItems     int
}

// CollectResult is what a provider collected.
type CollectResult struct {
	ItemsProcessed int
}

// ReviewCollector collects reviews from a data provider. Collect must be
// safe to call again after a failure.
type ReviewCollector interface {
	Collect(ctx context.Context, req CollectRequest, progress ProgressFunc) (CollectResult, error)
}

// AnalyticsResult is the outcome of an analytics computation.
type AnalyticsResult struct {
	Success bool
}

// AnalyticsService recomputes and stores derived metrics for a business.
type AnalyticsService interface {
	ComputeAndPersist(ctx context.Context, businessID string, p platform.Platform) (AnalyticsResult, error)
}

// BusinessData is a read-only view of a tenant's platform state.
type BusinessData struct {
	Profile  *Profile          `json:"profile"`
	Task     *tracker.Task     `json:"task,omitempty"`
	Messages []tracker.Message `json:"messages,omitempty"`
}
