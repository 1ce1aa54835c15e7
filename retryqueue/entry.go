package retryqueue

import (
	"errors"
	"fmt"
	"time"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
)

var (
	// ErrEntryNotFound is returned when no entry exists for an (entity, platform) key.
	ErrEntryNotFound = errors.New("retry entry not found")
	// ErrInvalidEntry is returned by AddToQueue when required fields are missing.
	ErrInvalidEntry = errors.New("invalid retry entry")
	// ErrAttemptSkipped is wrapped by a RetryFunc that could not start the
	// run, for example because one is already in progress for the entity.
	// The attempt does not count against MaxRetries.
	ErrAttemptSkipped = errors.New("retry attempt skipped")
)

// Status is the state of a retry entry.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRetrying Status = "retrying"
	StatusResolved Status = "resolved"
	StatusFailed   Status = "failed"
)

// Statuses returns every entry status.
func Statuses() []Status {
	return []Status{StatusPending, StatusRetrying, StatusResolved, StatusFailed}
}

// IsTerminal reports whether the entry will never be retried automatically.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusFailed
}

// Key identifies a retry entry. Entries are keyed by the stable business
// entity ID rather than the platform identifier, which can change.
type Key struct {
	BusinessEntityID string
	Platform         platform.Platform
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.BusinessEntityID, k.Platform)
}

// Entry is one entity currently experiencing failures.
type Entry struct {
	TenantID         string            `json:"tenant_id"`
	BusinessEntityID string            `json:"business_entity_id"`
	Platform         platform.Platform `json:"platform"`
	Identifier       string            `json:"identifier"`
	RetryCount       int               `json:"retry_count"`
	MaxRetries       int               `json:"max_retries"`
	LastError        string            `json:"last_error"`
	NextRetryAt      time.Time         `json:"next_retry_at"`
	Status           Status            `json:"status"`
	LastAttemptAt    *time.Time        `json:"last_attempt_at,omitempty"`
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Key returns the entry's (entity, platform) key.
func (e *Entry) Key() Key {
	return Key{BusinessEntityID: e.BusinessEntityID, Platform: e.Platform}
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.LastAttemptAt != nil {
		t := *e.LastAttemptAt
		c.LastAttemptAt = &t
	}
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// claimAbandoned reports whether the entry is stuck in retrying from an
// attempt claimed before staleBefore.
func (e *Entry) claimAbandoned(staleBefore time.Time) bool {
	if e.Status != StatusRetrying {
		return false
	}
	return e.LastAttemptAt == nil || e.LastAttemptAt.Before(staleBefore)
}

// AddResult reports what AddToQueue did with a failure.
type AddResult struct {
	// Accepted is false once the entry has been marked permanently failed.
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
	Entry    *Entry `json:"entry"`
}

// Stats counts entries per status.
type Stats struct {
	Pending  int `json:"pending"`
	Retrying int `json:"retrying"`
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

func statsFromCounts(counts map[Status]int) Stats {
	s := Stats{
		Pending:  counts[StatusPending],
		Retrying: counts[StatusRetrying],
		Resolved: counts[StatusResolved],
		Failed:   counts[StatusFailed],
	}
	s.Total = s.Pending + s.Retrying + s.Resolved + s.Failed
	return s
}

// ProcessResult summarizes one ProcessQueue pass.
type ProcessResult struct {
	Selected int `json:"selected"`
	Resolved int `json:"resolved"`
	Requeued int `json:"requeued"`
	Deferred int `json:"deferred"`
	Failed   int `json:"failed"`
}
