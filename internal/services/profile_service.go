// Package services – ProfileService
//
// This file implements ProfileService, which manages claimable public
// profile URLs. It normalizes requested handles into slugs, cleans
// presentation fields, drives the verification workflow, and repairs the
// denormalized recommendation counter.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/medfolio-backend/internal/cache"
	"github.com/tbourn/medfolio-backend/internal/domain"
	"github.com/tbourn/medfolio-backend/internal/repo"
)

// Slug length bounds, in bytes (slugs are ASCII).
const (
	SlugMinLen = 3
	SlugMaxLen = 64
)

// ProfileRepo defines the repository contract required by ProfileService.
type ProfileRepo interface {
	// CreateProfile inserts a profile or returns repo.ErrDuplicate on slug collision.
	CreateProfile(ctx context.Context, db *gorm.DB, p *domain.Profile) error

	// GetProfileBySlug fetches a live profile by slug.
	GetProfileBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Profile, error)

	// CountProfiles returns the total for pagination.
	CountProfiles(ctx context.Context, db *gorm.DB, specialty string) (int64, error)

	// ListProfilesPage returns one page of profiles.
	ListProfilesPage(ctx context.Context, db *gorm.DB, specialty string, offset, limit int) ([]domain.Profile, error)

	// ProfilesStats returns (count, max updated_at) for conditional responses.
	ProfilesStats(ctx context.Context, db *gorm.DB, specialty string) (int64, *time.Time, error)

	// UpdateVerificationStatus sets the status for slug.
	UpdateVerificationStatus(ctx context.Context, db *gorm.DB, slug, status string) error

	// RecountRecommendations repairs drifted counters and returns how many changed.
	RecountRecommendations(ctx context.Context, db *gorm.DB) (int64, error)
}

// ClaimInput is what an administrator supplies to claim a profile URL.
type ClaimInput struct {
	Handle      string
	DisplayName string
	Specialty   string
	Bio         string
}

// ProfileService provides profile operations.
type ProfileService struct {
	DB   *gorm.DB
	Repo ProfileRepo

	// Profiles is shared with the recommendation gate; nil disables caching.
	Profiles *cache.ProfileCache

	NameLocale   language.Tag
	NameMaxLen   int
	BioMaxLen    int
	SpecialtyMax int
}

// NewProfileService constructs a ProfileService with default field limits.
func NewProfileService(db *gorm.DB, r ProfileRepo, profiles *cache.ProfileCache) *ProfileService {
	return &ProfileService{
		DB:           db,
		Repo:         r,
		Profiles:     profiles,
		NameLocale:   language.English,
		NameMaxLen:   255,
		BioMaxLen:    2000,
		SpecialtyMax: 128,
	}
}

// Claim creates a pending profile at the slug derived from in.Handle.
func (s *ProfileService) Claim(ctx context.Context, in ClaimInput) (*domain.Profile, error) {
	slug, err := NormalizeSlug(in.Handle)
	if err != nil {
		return nil, err
	}
	name := cases.Title(s.NameLocale).String(collapseSpaces(in.DisplayName))
	if name == "" || utf8.RuneCountInString(name) > s.NameMaxLen {
		return nil, ErrInvalidDisplayName
	}

	p := &domain.Profile{
		Slug:               slug,
		DisplayName:        name,
		Specialty:          clipRunes(strings.ToLower(collapseSpaces(in.Specialty)), s.SpecialtyMax),
		Bio:                clipRunes(strings.TrimSpace(in.Bio), s.BioMaxLen),
		VerificationStatus: domain.VerificationPending,
	}
	if err := s.Repo.CreateProfile(ctx, s.DB, p); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrSlugTaken
		}
		return nil, internalErr("create profile", err)
	}
	return p, nil
}

// Get returns the live profile at slug.
func (s *ProfileService) Get(ctx context.Context, slug string) (*domain.Profile, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	p, err := s.Profiles.Get(ctx, cache.SlugKey(slug), func(ctx context.Context) (*domain.Profile, error) {
		return s.Repo.GetProfileBySlug(ctx, s.DB, slug)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, internalErr("get profile", err)
	}
	return p, nil
}

// ListPage returns a page of profiles and the total count. Invalid page
// values fall back to defaults.
func (s *ProfileService) ListPage(ctx context.Context, specialty string, page, pageSize int) ([]domain.Profile, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	specialty = strings.ToLower(collapseSpaces(specialty))

	total, err := s.Repo.CountProfiles(ctx, s.DB, specialty)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Profile{}, 0, nil
	}
	items, err := s.Repo.ListProfilesPage(ctx, s.DB, specialty, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Stats returns the (count, latest update) pair used to build list ETags.
func (s *ProfileService) Stats(ctx context.Context, specialty string) (int64, *time.Time, error) {
	return s.Repo.ProfilesStats(ctx, s.DB, strings.ToLower(collapseSpaces(specialty)))
}

// SetVerification moves the profile at slug to status.
func (s *ProfileService) SetVerification(ctx context.Context, slug, status string) error {
	status = strings.ToLower(strings.TrimSpace(status))
	if !domain.IsVerificationStatus(status) {
		return ErrInvalidStatus
	}
	slug = strings.ToLower(strings.TrimSpace(slug))
	p, err := s.Repo.GetProfileBySlug(ctx, s.DB, slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProfileNotFound
		}
		return internalErr("get profile", err)
	}
	if err := s.Repo.UpdateVerificationStatus(ctx, s.DB, slug, status); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProfileNotFound
		}
		return internalErr("update verification", err)
	}
	s.Profiles.Invalidate(cache.IDKey(p.ID), cache.SlugKey(slug))
	return nil
}

// Reconcile recomputes every drifted recommendation counter.
func (s *ProfileService) Reconcile(ctx context.Context) (int64, error) {
	n, err := s.Repo.RecountRecommendations(ctx, s.DB)
	if err != nil {
		return 0, internalErr("recount recommendations", err)
	}
	return n, nil
}

// NormalizeSlug folds a requested handle into a slug: accents are stripped,
// letters lowercased, and any run of other characters becomes a single dash.
func NormalizeSlug(handle string) (string, error) {
	folded, _, err := transform.String(accentFolder(), handle)
	if err != nil {
		return "", ErrInvalidSlug
	}
	slug := strings.Trim(nonSlugRE.ReplaceAllString(strings.ToLower(folded), "-"), "-")
	if len(slug) < SlugMinLen || len(slug) > SlugMaxLen {
		return "", ErrInvalidSlug
	}
	return slug, nil
}

// accentFolder decomposes, drops combining marks and recomposes. A new chain
// per call since transformers are stateful.
func accentFolder() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

var (
	nonSlugRE    = regexp.MustCompile(`[^a-z0-9]+`)
	whitespaceRE = regexp.MustCompile(`\s+`)
)

// collapseSpaces trims and collapses runs of whitespace to one space.
func collapseSpaces(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

func clipRunes(s string, max int) string {
	if max > 0 && utf8.RuneCountInString(s) > max {
		return string([]rune(s)[:max])
	}
	return s
}
