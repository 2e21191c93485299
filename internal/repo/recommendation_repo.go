package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/medfolio-backend/internal/domain"
)

// CreateRecommendation inserts one recommendation row for profileID.
func CreateRecommendation(ctx context.Context, db *gorm.DB, profileID, fingerprint, ip string, at time.Time) (*domain.Recommendation, error) {
	rec := &domain.Recommendation{
		ID:          uuid.NewString(),
		ProfileID:   profileID,
		Fingerprint: fingerprint,
		IPAddress:   ip,
		CreatedAt:   at.UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// HasFingerprint reports whether any recommendation for profileID carries
// the given fingerprint, regardless of age.
func HasFingerprint(ctx context.Context, db *gorm.DB, profileID, fingerprint string) (bool, error) {
	return exists(db.WithContext(ctx).
		Where("profile_id = ? AND fingerprint = ?", profileID, fingerprint))
}

// HasIPSince reports whether a recommendation for profileID from ip was
// created at or after since.
func HasIPSince(ctx context.Context, db *gorm.DB, profileID, ip string, since time.Time) (bool, error) {
	return exists(db.WithContext(ctx).
		Where("profile_id = ? AND ip_address = ? AND created_at >= ?", profileID, ip, since.UTC()))
}

// CountRecommendations returns the number of stored recommendations for a
// profile.
func CountRecommendations(ctx context.Context, db *gorm.DB, profileID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Recommendation{}).
		Where("profile_id = ?", profileID).
		Count(&n).Error
	return n, err
}

func exists(q *gorm.DB) (bool, error) {
	var rec domain.Recommendation
	err := q.Select("id").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
