package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
)

// entryRecord is the table row for an Entry.
type entryRecord struct {
	ID               uint      `gorm:"primaryKey"`
	TenantID         string    `gorm:"not null;index"`
	BusinessEntityID string    `gorm:"not null;uniqueIndex:idx_retry_entity_platform"`
	Platform         string    `gorm:"not null;uniqueIndex:idx_retry_entity_platform"`
	Identifier       string    `gorm:"not null"`
	RetryCount       int       `gorm:"default:0"`
	MaxRetries       int       `gorm:"not null"`
	LastError        string
	NextRetryAt      time.Time `gorm:"index"`
	Status           string    `gorm:"default:'pending';index"`
	LastAttemptAt    *time.Time
	ResolvedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (entryRecord) TableName() string {
	return "retry_queue_entries"
}

func recordFromEntry(e *Entry) *entryRecord {
	return &entryRecord{
		TenantID:         e.TenantID,
		BusinessEntityID: e.BusinessEntityID,
		Platform:         string(e.Platform),
		Identifier:       e.Identifier,
		RetryCount:       e.RetryCount,
		MaxRetries:       e.MaxRetries,
		LastError:        e.LastError,
		NextRetryAt:      e.NextRetryAt,
		Status:           string(e.Status),
		LastAttemptAt:    e.LastAttemptAt,
		ResolvedAt:       e.ResolvedAt,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func (r *entryRecord) toEntry() *Entry {
	return &Entry{
		TenantID:         r.TenantID,
		BusinessEntityID: r.BusinessEntityID,
		Platform:         platform.Platform(r.Platform),
		Identifier:       r.Identifier,
		RetryCount:       r.RetryCount,
		MaxRetries:       r.MaxRetries,
		LastError:        r.LastError,
		NextRetryAt:      r.NextRetryAt,
		Status:           Status(r.Status),
		LastAttemptAt:    r.LastAttemptAt,
		ResolvedAt:       r.ResolvedAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// GormStore keeps entries in a SQL table so the backlog survives restarts.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the retry table and returns a store using db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&entryRecord{}); err != nil {
		return nil, fmt.Errorf("migrating retry queue table: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Get returns the entry for key.
func (s *GormStore) Get(ctx context.Context, key Key) (*Entry, error) {
	var rec entryRecord
	err := s.db.WithContext(ctx).
		Where("business_entity_id = ? AND platform = ?", key.BusinessEntityID, string(key.Platform)).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading retry entry %s: %w", key, err)
	}
	return rec.toEntry(), nil
}

// Put upserts the entry on its (entity, platform) key.
func (s *GormStore) Put(ctx context.Context, entry *Entry) error {
	rec := recordFromEntry(entry)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "business_entity_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tenant_id", "identifier", "retry_count", "max_retries", "last_error",
			"next_retry_at", "status", "last_attempt_at", "resolved_at", "updated_at",
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("saving retry entry %s: %w", entry.Key(), err)
	}
	return nil
}

// Due returns pending entries whose retry time has passed and abandoned
// retrying entries.
func (s *GormStore) Due(ctx context.Context, now, staleBefore time.Time, limit int) ([]*Entry, error) {
	q := s.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", string(StatusPending), now).
		Or("status = ? AND (last_attempt_at IS NULL OR last_attempt_at < ?)", string(StatusRetrying), staleBefore).
		Order("next_retry_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []entryRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing due retry entries: %w", err)
	}

	entries := make([]*Entry, 0, len(recs))
	for i := range recs {
		entries = append(entries, recs[i].toEntry())
	}
	return entries, nil
}

// CountByStatus returns the number of entries per status.
func (s *GormStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	var rows []struct {
		Status string
		Count  int
	}
	err := s.db.WithContext(ctx).Model(&entryRecord{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting retry entries: %w", err)
	}

	counts := make(map[Status]int, len(rows))
	for _, r := range rows {
		counts[Status(r.Status)] = r.Count
	}
	return counts, nil
}

// DeleteResolvedBefore removes resolved entries older than cutoff.
func (s *GormStore) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND resolved_at IS NOT NULL AND resolved_at < ?", string(StatusResolved), cutoff).
		Delete(&entryRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting resolved retry entries: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}
