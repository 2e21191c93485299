// Package handlers exposes the REST endpoints for recommendations and
// doctor profiles. Handlers are transport-thin: they validate input, call
// application services, and translate results and sentinel errors into HTTP
// responses.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/medfolio-backend/internal/domain"
	"github.com/tbourn/medfolio-backend/internal/identity"
	"github.com/tbourn/medfolio-backend/internal/services"
	"github.com/tbourn/medfolio-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// RecommendationService runs the recommendation gate.
type RecommendationService interface {
	// Recommend records a recommendation for profileID by the visitor id,
	// or reports that the visitor already recommended it.
	Recommend(ctx context.Context, profileID string, id identity.Identity) (services.Outcome, error)
}

// ProfileService defines profile lifecycle operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ProfileService interface {
	// Claim creates a pending profile at the slug derived from the handle.
	Claim(ctx context.Context, in services.ClaimInput) (*domain.Profile, error)
	// Get returns the profile at slug.
	Get(ctx context.Context, slug string) (*domain.Profile, error)
	// ListPage returns a page of profiles and the total count.
	ListPage(ctx context.Context, specialty string, page, pageSize int) ([]domain.Profile, int64, error)
	// Stats returns the count and latest update used for list ETags.
	Stats(ctx context.Context, specialty string) (int64, *time.Time, error)
	// SetVerification moves the profile at slug to status.
	SetVerification(ctx context.Context, slug, status string) error
}

// Handlers groups the HTTP endpoints. It depends on service interfaces only.
type Handlers struct {
	recSvc  RecommendationService
	profSvc ProfileService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(recSvc RecommendationService, profSvc ProfileService) *Handlers {
	return &Handlers{recSvc: recSvc, profSvc: profSvc}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// clampPagination reads page and page_size from the query string, bounded
// to [1, ∞) and [1, 100] with defaults 1 and 20.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return page, pageSize
}
