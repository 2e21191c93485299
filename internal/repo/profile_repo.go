// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Profile
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// carry no business rules: slug normalization and status validation live in
// services.ProfileService.
//
// Error semantics:
//   - When a profile is not found, functions return ErrNotFound (an alias of
//     gorm.ErrRecordNotFound).
//   - A slug collision on insert returns ErrDuplicate.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/medfolio-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that a unique constraint rejected the insert.
var ErrDuplicate = errors.New("duplicate")

// CreateProfile inserts p, assigning an ID and timestamps when absent.
// A slug that is already claimed yields ErrDuplicate.
func CreateProfile(ctx context.Context, db *gorm.DB, p *domain.Profile) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.VerificationStatus == "" {
		p.VerificationStatus = domain.VerificationPending
	}
	p.CreatedAt, p.UpdatedAt = now, now
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetProfile fetches a live (not soft-deleted) profile by ID.
func GetProfile(ctx context.Context, db *gorm.DB, id string) (*domain.Profile, error) {
	var p domain.Profile
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfileBySlug fetches a live profile by its claimed slug.
func GetProfileBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Profile, error) {
	var p domain.Profile
	if err := db.WithContext(ctx).Where("slug = ?", slug).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// CountProfiles returns the number of live profiles, optionally filtered by
// specialty (empty means all).
func CountProfiles(ctx context.Context, db *gorm.DB, specialty string) (int64, error) {
	var total int64
	err := bySpecialty(db.WithContext(ctx).Model(&domain.Profile{}), specialty).
		Count(&total).Error
	return total, err
}

// ListProfilesPage returns a page of live profiles ordered by creation time
// descending. Use CountProfiles for pagination metadata.
func ListProfilesPage(ctx context.Context, db *gorm.DB, specialty string, offset, limit int) ([]domain.Profile, error) {
	var out []domain.Profile
	err := bySpecialty(db.WithContext(ctx), specialty).
		Order("created_at desc").
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateVerificationStatus sets the verification state of the profile with
// the given slug. Returns ErrNotFound when no live profile matches.
func UpdateVerificationStatus(ctx context.Context, db *gorm.DB, slug, status string) error {
	res := db.WithContext(ctx).
		Model(&domain.Profile{}).
		Where("slug = ?", slug).
		Updates(map[string]any{
			"verification_status": status,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementRecommendationCount atomically adds one to the profile's
// denormalized counter. Returns ErrNotFound when the profile is gone.
func IncrementRecommendationCount(ctx context.Context, db *gorm.DB, profileID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Profile{}).
		Where("id = ?", profileID).
		UpdateColumns(map[string]any{
			"recommendation_count": gorm.Expr("recommendation_count + ?", 1),
			"updated_at":           time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecountRecommendations rewrites recommendation_count from the
// recommendations table for every profile whose counter has drifted, and
// returns how many profiles were corrected.
func RecountRecommendations(ctx context.Context, db *gorm.DB) (int64, error) {
	const q = `UPDATE profiles
SET recommendation_count = (SELECT COUNT(*) FROM recommendations r WHERE r.profile_id = profiles.id),
    updated_at = ?
WHERE recommendation_count <> (SELECT COUNT(*) FROM recommendations r WHERE r.profile_id = profiles.id)`
	res := db.WithContext(ctx).Exec(q, time.Now().UTC())
	return res.RowsAffected, res.Error
}

func bySpecialty(q *gorm.DB, specialty string) *gorm.DB {
	if s := strings.TrimSpace(specialty); s != "" {
		return q.Where("specialty = ?", s)
	}
	return q
}

// isDuplicate recognizes unique violations across drivers. glebarez/sqlite
// often returns plain-text errors; postgres errors are translated by GORM.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}
