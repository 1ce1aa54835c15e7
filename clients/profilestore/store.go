// Package profilestore keeps business profiles in a SQL database.
//
// Profiles are unique per (tenant, platform); EnsureProfile relies on that
// index so concurrent calls for the same pair create exactly one row.
// Reads go through a short-lived in-process cache that is invalidated on
// every write made through the same Store.
package profilestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/orchestrator"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
)

const (
	DefaultCacheTTL      = 5 * time.Minute
	cacheCleanupInterval = 10 * time.Minute
)

type profileRecord struct {
	ID         string            `gorm:"primaryKey;size:36"`
	TenantID   string            `gorm:"not null;uniqueIndex:idx_profile_tenant_platform"`
	Platform   string            `gorm:"not null;uniqueIndex:idx_profile_tenant_platform"`
	Identifier string            `gorm:"not null"`
	Attributes map[string]string `gorm:"serializer:json"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (profileRecord) TableName() string {
	return "business_profiles"
}

func (r *profileRecord) toProfile() *orchestrator.Profile {
	return &orchestrator.Profile{
		ID:         r.ID,
		TenantID:   r.TenantID,
		Platform:   platform.Platform(r.Platform),
		Identifier: r.Identifier,
		Attributes: maps.Clone(r.Attributes),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// Store implements orchestrator.ProfileService on top of gorm.
type Store struct {
	db     *gorm.DB
	cache  *cache.Cache
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCacheTTL sets how long profile reads are cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.cache = cache.New(ttl, cacheCleanupInterval)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New migrates the profile table and returns a Store using db.
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	if err := db.AutoMigrate(&profileRecord{}); err != nil {
		return nil, fmt.Errorf("migrating profile table: %w", err)
	}

	s := &Store{
		db:     db,
		cache:  cache.New(DefaultCacheTTL, cacheCleanupInterval),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "profilestore")
	return s, nil
}

// EnsureProfile returns the profile for (tenantID, p), creating it with
// identifier if none exists.
func (s *Store) EnsureProfile(ctx context.Context, tenantID string, p platform.Platform, identifier string) (orchestrator.ProfileRef, error) {
	now := s.now()
	rec := &profileRecord{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Platform:   string(p),
		Identifier: identifier,
		Attributes: map[string]string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return orchestrator.ProfileRef{}, fmt.Errorf("creating profile %s/%s: %w", tenantID, p, res.Error)
	}
	if res.RowsAffected == 1 {
		s.cache.Delete(cacheKey(tenantID, p))
		s.logger.Info("business profile created", "tenant_id", tenantID, "platform", p, "profile_id", rec.ID)
		return orchestrator.ProfileRef{ID: rec.ID, Created: true}, nil
	}

	existing, err := s.load(ctx, tenantID, p)
	if err != nil {
		return orchestrator.ProfileRef{}, err
	}
	return orchestrator.ProfileRef{ID: existing.ID}, nil
}

// GetProfile returns the profile for (tenantID, p) or
// orchestrator.ErrProfileNotFound.
func (s *Store) GetProfile(ctx context.Context, tenantID string, p platform.Platform) (*orchestrator.Profile, error) {
	key := cacheKey(tenantID, p)
	if v, ok := s.cache.Get(key); ok {
		return clone(v.(*orchestrator.Profile)), nil
	}

	rec, err := s.load(ctx, tenantID, p)
	if err != nil {
		return nil, err
	}
	profile := rec.toProfile()
	s.cache.Set(key, profile, cache.DefaultExpiration)
	return clone(profile), nil
}

// SetAttributes merges attrs into the stored profile attributes. Empty
// values remove the attribute.
func (s *Store) SetAttributes(ctx context.Context, tenantID string, p platform.Platform, attrs map[string]string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec profileRecord
		err := tx.Where("tenant_id = ? AND platform = ?", tenantID, string(p)).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return orchestrator.ErrProfileNotFound
		}
		if err != nil {
			return err
		}

		if rec.Attributes == nil {
			rec.Attributes = map[string]string{}
		}
		for k, v := range attrs {
			if v == "" {
				delete(rec.Attributes, k)
				continue
			}
			rec.Attributes[k] = v
		}
		rec.UpdatedAt = s.now()
		return tx.Save(&rec).Error
	})
	s.cache.Delete(cacheKey(tenantID, p))
	if err != nil {
		return fmt.Errorf("updating profile %s/%s: %w", tenantID, p, err)
	}
	return nil
}

// DeleteProfile removes the profile for (tenantID, p). Deleting a missing
// profile is not an error.
func (s *Store) DeleteProfile(ctx context.Context, tenantID string, p platform.Platform) error {
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND platform = ?", tenantID, string(p)).
		Delete(&profileRecord{}).Error
	s.cache.Delete(cacheKey(tenantID, p))
	if err != nil {
		return fmt.Errorf("deleting profile %s/%s: %w", tenantID, p, err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, tenantID string, p platform.Platform) (*profileRecord, error) {
	var rec profileRecord
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND platform = ?", tenantID, string(p)).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, orchestrator.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading profile %s/%s: %w", tenantID, p, err)
	}
	return &rec, nil
}

func cacheKey(tenantID string, p platform.Platform) string {
	return tenantID + "/" + string(p)
}

func clone(p *orchestrator.Profile) *orchestrator.Profile {
	c := *p
	c.Attributes = maps.Clone(p.Attributes)
	return &c
}
