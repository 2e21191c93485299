// Package services – RecommendationService
//
// This file implements the recommendation gate: it decides whether a visitor
// may add a recommendation to a profile and records it when allowed.
//
// The gate runs the configured deduplicators in order and stops at the first
// positive match. Deduplicator errors are logged and read as "no match", so an
// unavailable anti-abuse backend never blocks a legitimate recommendation.
// Only a missing profile or a failed insert is returned as an error.
//
// The profile counter is bumped after the insert on a detached context; its
// failure is logged and counted but never changes the outcome.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/medfolio-backend/internal/cache"
	"github.com/tbourn/medfolio-backend/internal/domain"
	"github.com/tbourn/medfolio-backend/internal/identity"
	"github.com/tbourn/medfolio-backend/internal/ratelimit"
	"github.com/tbourn/medfolio-backend/internal/sysutil"
)

// Outcome is the non-error result of a recommendation attempt.
type Outcome int

const (
	// OutcomeRecommended means a new recommendation was stored.
	OutcomeRecommended Outcome = iota + 1
	// OutcomeAlreadyRecommended means a duplicate was detected; nothing was stored.
	OutcomeAlreadyRecommended
)

// Messages shown to the visitor.
const (
	MessageRecommended        = "Thank you for recommending this doctor"
	MessageAlreadyRecommended = "You've already recommended this doctor recently"
)

// AlreadyRecommended reports whether o is the duplicate outcome.
func (o Outcome) AlreadyRecommended() bool { return o == OutcomeAlreadyRecommended }

// Message returns the visitor-facing text for o.
func (o Outcome) Message() string {
	if o == OutcomeAlreadyRecommended {
		return MessageAlreadyRecommended
	}
	return MessageRecommended
}

func (o Outcome) String() string {
	switch o {
	case OutcomeRecommended:
		return "recommended"
	case OutcomeAlreadyRecommended:
		return "already_recommended"
	}
	return "unknown"
}

// RecommendationRepo defines the repository contract required by
// RecommendationService.
type RecommendationRepo interface {
	DuplicateLookup

	// GetProfile fetches a live profile by ID or returns gorm.ErrRecordNotFound.
	GetProfile(ctx context.Context, db *gorm.DB, id string) (*domain.Profile, error)

	// CreateRecommendation inserts one recommendation row.
	CreateRecommendation(ctx context.Context, db *gorm.DB, profileID, fingerprint, ip string, at time.Time) (*domain.Recommendation, error)

	// IncrementRecommendationCount bumps the profile's denormalized counter.
	IncrementRecommendationCount(ctx context.Context, db *gorm.DB, profileID string) error
}

// RecommendationService is the recommendation gate.
type RecommendationService struct {
	DB   *gorm.DB
	Repo RecommendationRepo

	// Profiles caches existence lookups; nil disables caching.
	Profiles *cache.ProfileCache

	// Dedupers run in order; the first positive match wins.
	Dedupers []Deduplicator

	// CounterTimeout bounds the detached counter increment.
	CounterTimeout time.Duration

	// Now and Go are seams for tests. Go runs the counter increment; the
	// default starts a goroutine.
	Now func() time.Time
	Go  func(func())
}

// NewRecommendationService wires the standard chain: distributed limiter,
// fingerprint lookup, then IP lookup over window.
func NewRecommendationService(db *gorm.DB, r RecommendationRepo, checker *ratelimit.Checker, window time.Duration, profiles *cache.ProfileCache) *RecommendationService {
	s := &RecommendationService{
		DB:             db,
		Repo:           r,
		Profiles:       profiles,
		CounterTimeout: 5 * time.Second,
	}
	s.Dedupers = []Deduplicator{
		LimiterDeduplicator{Checker: checker},
		FingerprintDeduplicator{DB: db, Lookup: r},
		IPWindowDeduplicator{DB: db, Lookup: r, Window: window, Now: s.now},
	}
	return s
}

// Recommend evaluates one recommendation attempt for profileID by the
// visitor described by id.
//
// Errors: ErrInvalidProfileID, ErrProfileNotFound, or an error matching
// ErrInternal when the profile lookup or the insert fails.
func (s *RecommendationService) Recommend(ctx context.Context, profileID string, id identity.Identity) (Outcome, error) {
	tr := otel.Tracer("services/RecommendationService")
	ctx, span := tr.Start(ctx, "Recommend",
		trace.WithAttributes(attribute.String("profile.id", profileID)),
	)
	defer span.End()

	pid, err := uuid.Parse(profileID)
	if err != nil {
		recommendationsTotal.WithLabelValues("invalid").Inc()
		return 0, ErrInvalidProfileID
	}
	profileID = pid.String()

	profile, err := s.Profiles.Get(ctx, cache.IDKey(profileID), func(ctx context.Context) (*domain.Profile, error) {
		return s.Repo.GetProfile(ctx, s.DB, profileID)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			recommendationsTotal.WithLabelValues("not_found").Inc()
			return 0, ErrProfileNotFound
		}
		return 0, s.fail(span, internalErr("load profile", err))
	}

	log := sysutil.Logger(ctx)
	for _, d := range s.Dedupers {
		dup, err := d.HasDuplicate(ctx, profileID, id)
		if err != nil {
			dedupeErrorsTotal.WithLabelValues(d.Name()).Inc()
			log.Warn().Err(err).
				Str("strategy", d.Name()).
				Str("profile_id", profileID).
				Msg("duplicate check failed, treating as no match")
			continue
		}
		if dup {
			duplicatesTotal.WithLabelValues(d.Name()).Inc()
			recommendationsTotal.WithLabelValues(OutcomeAlreadyRecommended.String()).Inc()
			span.SetAttributes(attribute.String("recommendation.duplicate_by", d.Name()))
			return OutcomeAlreadyRecommended, nil
		}
	}

	if _, err := s.Repo.CreateRecommendation(ctx, s.DB, profileID, id.Fingerprint, id.IP, s.now()); err != nil {
		return 0, s.fail(span, internalErr("insert recommendation", err))
	}

	s.dispatch(ctx, profile)

	recommendationsTotal.WithLabelValues(OutcomeRecommended.String()).Inc()
	return OutcomeRecommended, nil
}

// dispatch bumps the profile counter without holding up the response. The
// increment outlives request cancellation but is bounded by CounterTimeout.
func (s *RecommendationService) dispatch(ctx context.Context, p *domain.Profile) {
	detached := context.WithoutCancel(ctx)
	timeout := s.CounterTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	run := s.Go
	if run == nil {
		run = func(f func()) { go f() }
	}
	run(func() {
		cctx, cancel := context.WithTimeout(detached, timeout)
		defer cancel()
		if err := s.Repo.IncrementRecommendationCount(cctx, s.DB, p.ID); err != nil {
			counterFailuresTotal.Inc()
			sysutil.Logger(detached).Error().Err(err).
				Str("profile_id", p.ID).
				Msg("recommendation count increment failed")
			return
		}
		s.Profiles.Invalidate(cache.IDKey(p.ID), cache.SlugKey(p.Slug))
	})
}

func (s *RecommendationService) fail(span trace.Span, err error) error {
	recommendationsTotal.WithLabelValues("error").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, "recommendation failed")
	return err
}

func (s *RecommendationService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
