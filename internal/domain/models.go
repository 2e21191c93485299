// Package domain defines the persistence models for doctor profiles and the
// recommendations visitors leave on them. These types are mapped with GORM
// and form the core data layer of the application.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Verification states a profile moves through during document review.
const (
	VerificationPending  = "pending"
	VerificationApproved = "approved"
	VerificationRejected = "rejected"
)

// IsVerificationStatus reports whether s is one of the known states.
func IsVerificationStatus(s string) bool {
	switch s {
	case VerificationPending, VerificationApproved, VerificationRejected:
		return true
	}
	return false
}

// Profile is a doctor's public page, addressed by a claimed slug.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Slug: the claimed public URL segment; unique across profiles.
//   - DisplayName / Specialty / Bio: presentation fields.
//   - VerificationStatus: pending, approved or rejected (DB check constraint).
//   - RecommendationCount: denormalized number of recommendations. Maintained
//     by a separate increment after each insert, so it can drift; the
//     reconcile command recomputes it.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
type Profile struct {
	ID                  string         `json:"id"                   gorm:"type:char(36);primaryKey"`
	Slug                string         `json:"slug"                 gorm:"type:varchar(64);not null;uniqueIndex:ux_profiles_slug"`
	DisplayName         string         `json:"display_name"         gorm:"type:varchar(255);not null"`
	Specialty           string         `json:"specialty"            gorm:"type:varchar(128);not null;default:'';index:idx_profiles_specialty"`
	Bio                 string         `json:"bio"                  gorm:"type:text;not null;default:''"`
	VerificationStatus  string         `json:"verification_status"  gorm:"type:varchar(16);not null;default:'pending';check:verification_status IN ('pending','approved','rejected')"`
	RecommendationCount int64          `json:"recommendation_count" gorm:"not null;default:0"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `json:"-"                    gorm:"index"`
}

// TableName returns the database table name for Profile.
func (Profile) TableName() string { return "profiles" }

// Recommendation records one visitor vouching for a profile. Rows are
// created once and never updated or deleted by the application.
//
// Uniqueness per (profile_id, fingerprint) and per (profile_id, ip_address)
// within the rolling window is enforced by lookups before insert, not by a
// unique index. The composite indexes below only serve those lookups.
type Recommendation struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	ProfileID   string    `json:"profile_id"  gorm:"type:char(36);not null;index:idx_rec_profile_fp,priority:1;index:idx_rec_profile_ip,priority:1"`
	Fingerprint string    `json:"-"           gorm:"type:varchar(32);not null;index:idx_rec_profile_fp,priority:2"`
	IPAddress   string    `json:"-"           gorm:"type:varchar(64);not null;index:idx_rec_profile_ip,priority:2"`
	CreatedAt   time.Time `json:"created_at"  gorm:"not null;index:idx_rec_profile_ip,priority:3"`

	// Profile is the recommended doctor. Recommendations are cascade-deleted
	// when the profile row is hard-deleted.
	Profile Profile `json:"-" gorm:"foreignKey:ProfileID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Recommendation.
func (Recommendation) TableName() string { return "recommendations" }
