// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// edge rate limiting, compression, CORS, and security headers.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/medfolio-backend/docs"
	"github.com/tbourn/medfolio-backend/internal/cache"
	"github.com/tbourn/medfolio-backend/internal/config"
	"github.com/tbourn/medfolio-backend/internal/domain"
	"github.com/tbourn/medfolio-backend/internal/http/handlers"
	"github.com/tbourn/medfolio-backend/internal/http/middleware"
	"github.com/tbourn/medfolio-backend/internal/ratelimit"
	"github.com/tbourn/medfolio-backend/internal/repo"
	"github.com/tbourn/medfolio-backend/internal/services"
)

// recommendationRepoShim adapts the repository free functions to the
// services.RecommendationRepo interface.
type recommendationRepoShim struct{}

// GetProfile proxies repo.GetProfile.
func (recommendationRepoShim) GetProfile(ctx context.Context, db *gorm.DB, id string) (*domain.Profile, error) {
	return repo.GetProfile(ctx, db, id)
}

// HasFingerprint proxies repo.HasFingerprint.
func (recommendationRepoShim) HasFingerprint(ctx context.Context, db *gorm.DB, profileID, fingerprint string) (bool, error) {
	return repo.HasFingerprint(ctx, db, profileID, fingerprint)
}

// HasIPSince proxies repo.HasIPSince.
func (recommendationRepoShim) HasIPSince(ctx context.Context, db *gorm.DB, profileID, ip string, since time.Time) (bool, error) {
	return repo.HasIPSince(ctx, db, profileID, ip, since)
}

// CreateRecommendation proxies repo.CreateRecommendation.
func (recommendationRepoShim) CreateRecommendation(ctx context.Context, db *gorm.DB, profileID, fingerprint, ip string, at time.Time) (*domain.Recommendation, error) {
	return repo.CreateRecommendation(ctx, db, profileID, fingerprint, ip, at)
}

// IncrementRecommendationCount proxies repo.IncrementRecommendationCount.
func (recommendationRepoShim) IncrementRecommendationCount(ctx context.Context, db *gorm.DB, profileID string) error {
	return repo.IncrementRecommendationCount(ctx, db, profileID)
}

// profileRepoShim adapts the repository free functions to the
// services.ProfileRepo interface.
type profileRepoShim struct{}

// CreateProfile proxies repo.CreateProfile.
func (profileRepoShim) CreateProfile(ctx context.Context, db *gorm.DB, p *domain.Profile) error {
	return repo.CreateProfile(ctx, db, p)
}

// GetProfileBySlug proxies repo.GetProfileBySlug.
func (profileRepoShim) GetProfileBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Profile, error) {
	return repo.GetProfileBySlug(ctx, db, slug)
}

// CountProfiles proxies repo.CountProfiles (pagination support).
func (profileRepoShim) CountProfiles(ctx context.Context, db *gorm.DB, specialty string) (int64, error) {
	return repo.CountProfiles(ctx, db, specialty)
}

// ListProfilesPage proxies repo.ListProfilesPage (pagination support).
func (profileRepoShim) ListProfilesPage(ctx context.Context, db *gorm.DB, specialty string, offset, limit int) ([]domain.Profile, error) {
	return repo.ListProfilesPage(ctx, db, specialty, offset, limit)
}

// ProfilesStats proxies repo.ProfilesStats (ETag support).
func (profileRepoShim) ProfilesStats(ctx context.Context, db *gorm.DB, specialty string) (int64, *time.Time, error) {
	return repo.ProfilesStats(ctx, db, specialty)
}

// UpdateVerificationStatus proxies repo.UpdateVerificationStatus.
func (profileRepoShim) UpdateVerificationStatus(ctx context.Context, db *gorm.DB, slug, status string) error {
	return repo.UpdateVerificationStatus(ctx, db, slug, status)
}

// RecountRecommendations proxies repo.RecountRecommendations.
func (profileRepoShim) RecountRecommendations(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.RecountRecommendations(ctx, db)
}

// Deps carries the shared infrastructure built by the caller. Zero values
// are valid: a nil Checker allows every request and a nil Profiles cache
// reads through to the database.
type Deps struct {
	Checker  *ratelimit.Checker
	Profiles *cache.ProfileCache
}

// NewRecommendationService builds the recommendation gate over the
// repository shims.
func NewRecommendationService(db *gorm.DB, cfg config.Config, deps Deps) *services.RecommendationService {
	svc := services.NewRecommendationService(db, recommendationRepoShim{}, deps.Checker, cfg.Recommend.Window, deps.Profiles)
	svc.CounterTimeout = cfg.Recommend.CounterTimeout
	return svc
}

// NewProfileService builds the profile service over the repository shims.
func NewProfileService(db *gorm.DB, deps Deps) *services.ProfileService {
	return services.NewProfileService(db, profileRepoShim{}, deps.Profiles)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Edge rate limiter (per client IP)
//  8. Gzip, CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, deps Deps) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())

	// Request bodies here are tiny JSON documents.
	r.Use(limitBody(64 << 10))

	r.Use(middleware.Metrics())
	r.GET("/metrics", middleware.MetricsHandler())

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	useCORS(r, cfg.CORS.AllowedOrigins)

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(NewRecommendationService(db, cfg, deps), NewProfileService(db, deps))

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/recommendations", h.Recommend)

		api.GET("/profiles", h.ListProfiles)
		api.GET("/profiles/:slug", h.GetProfile)
	}

	admin := api.Group("", middleware.AdminToken(cfg.Security.AdminToken))
	{
		admin.POST("/profiles", h.ClaimProfile)
		admin.PUT("/profiles/:slug/verification", h.UpdateVerification)
	}
}

// useCORS installs the CORS posture: allow any origin when no allowlist is
// configured, otherwise echo allowlisted origins only.
func useCORS(r *gin.Engine, origins []string) {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "If-None-Match", middleware.AdminTokenHeader},
		ExposeHeaders:    []string{"X-Request-ID", "ETag", "Retry-After", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(origins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		base.AllowAllOrigins = true
		r.Use(cors.New(base))
		return
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	base.AllowOrigins = origins
	r.Use(cors.New(base))
}

// limitBody caps the request body at maxBytes; reads past the cap fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
