package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/medfolio-backend/internal/cache"
	"github.com/tbourn/medfolio-backend/internal/config"
	httpapi "github.com/tbourn/medfolio-backend/internal/http"
	"github.com/tbourn/medfolio-backend/internal/observability"
	"github.com/tbourn/medfolio-backend/internal/ratelimit"
)

func newServeCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer closeDB(db)

			ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, db, version)
		},
	}
}

// serve runs the API until ctx is canceled, then drains in-flight requests
// for up to cfg.ShutdownTimeout.
func serve(ctx context.Context, cfg config.Config, db *gorm.DB, version string) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	deps, closeDeps, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDeps()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, cfg, deps)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down http server")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// buildDeps wires the recommendation limiter and the profile cache. An
// empty REDIS_URL leaves the limiter disabled; an unreachable Redis is only
// logged since the checker allows requests when the limiter fails.
func buildDeps(ctx context.Context, cfg config.Config) (httpapi.Deps, func(), error) {
	profiles := cache.NewProfileCache(cfg.Recommend.CacheTTL)
	closers := []func(){profiles.Close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Redis.URL == "" {
		log.Info().Msg("recommendation limiter disabled: REDIS_URL not set")
		return httpapi.Deps{Checker: ratelimit.NewChecker(nil), Profiles: profiles}, closeAll, nil
	}

	client, err := ratelimit.NewClient(cfg.Redis.URL, cfg.Redis.Timeout)
	if err != nil {
		closeAll()
		return httpapi.Deps{}, func() {}, err
	}
	pctx, cancel := context.WithTimeout(ctx, cfg.Redis.Timeout+time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unreachable; recommendation limiter will fail open")
	}

	limiter := ratelimit.NewSlidingWindow(client, cfg.Recommend.LimitPrefix, cfg.Recommend.Window, cfg.Recommend.Quota)
	closers = append(closers, func() { _ = limiter.Close() })

	return httpapi.Deps{Checker: ratelimit.NewChecker(limiter), Profiles: profiles}, closeAll, nil
}
