package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"labstock/internal/handlers"
	"labstock/internal/jobs/background"
	"labstock/internal/logger"
	"labstock/internal/middleware"
	"labstock/internal/services"
	"labstock/internal/views"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
)

const (
	jwksRefreshInterval = time.Hour
	shutdownTimeout     = 15 * time.Second
)

func newServeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.serve(ctx)
		},
	}
}

// blobStore connects MinIO and makes sure the bucket exists. Image uploads
// are disabled when MinIO cannot be reached.
func (a *App) blobStore(ctx context.Context) services.BlobStore {
	if a.Memory {
		return nil
	}
	log := logger.Named("storage")
	minioSvc, err := services.NewMinioService(a.cfg.MinioEndpoint, a.cfg.MinioAccessKey, a.cfg.MinioSecretKey, a.cfg.MinioUseSSL)
	if err != nil {
		log.Warnw("MinIO unavailable, image uploads disabled", "endpoint", a.cfg.MinioEndpoint, "error", err)
		return nil
	}
	bucketCtx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	if err := minioSvc.EnsureBucketExists(bucketCtx, a.cfg.MinioBucket); err != nil {
		log.Warnw("Failed to ensure bucket exists", "bucket", a.cfg.MinioBucket, "error", err)
	}
	return services.NewMinioBlobStore(minioSvc, a.cfg.MinioBucket, a.cfg.MinioPublicBaseURL)
}

// openCatalogs starts one editor session per catalog. A catalog whose tree
// cannot be loaded starts from its defaults; the refresh job picks up the
// stored tree once the store is back.
func (a *App) openCatalogs(ctx context.Context, blobs services.BlobStore) ([]*services.CatalogServices, []*handlers.CatalogEndpoint, error) {
	log := logger.Named("catalogs")
	var all []*services.CatalogServices
	var endpoints []*handlers.CatalogEndpoint
	for _, c := range a.catalogs {
		catalog, def, err := a.catalog(c.Name)
		if err != nil {
			return nil, nil, err
		}
		preview := views.NewPreview(catalog.Name)
		cs, err := services.OpenCatalog(ctx, a.deps(blobs), catalog, def, preview)
		if err != nil {
			log.Warnw("Catalog opened over default tree", "catalog", catalog.Name, "error", err)
		}
		all = append(all, cs)
		endpoints = append(endpoints, &handlers.CatalogEndpoint{CatalogServices: cs, Preview: preview})
	}
	return all, endpoints, nil
}

func (a *App) serve(ctx context.Context) error {
	log := logger.Named("server")

	blobs := a.blobStore(ctx)
	catalogs, endpoints, err := a.openCatalogs(ctx, blobs)
	if err != nil {
		return err
	}

	scheduler, err := background.NewJobScheduler(catalogs, background.Intervals{
		TreeRefresh:  a.cfg.TreeRefreshInterval,
		OrphanReport: a.cfg.OrphanReportInterval,
	})
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Stop(); err != nil {
			log.Warnw("Scheduler did not stop cleanly", "error", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(echoMiddleware.RequestID())
	e.Use(middleware.RequestLogger())
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORS())
	e.Use(echoMiddleware.RemoveTrailingSlash())
	e.Use(echoMiddleware.BodyLimit("12M"))

	// Health endpoints (no auth required)
	health := handlers.NewHealthHandlers(a.store, a.cache, blobs, a.cfg.StoreTimeout)
	e.GET("/health", health.HealthCheck)
	e.GET("/health/ready", health.ReadinessCheck)
	e.GET("/health/live", health.LivenessCheck)

	write := []echo.MiddlewareFunc{}
	if a.cfg.JWKSURL != "" {
		auth, err := middleware.NewJWKSAuthenticator(a.cfg.JWKSURL, jwksRefreshInterval)
		if err != nil {
			return err
		}
		defer auth.Close()
		write = append(write, auth.JWTMiddleware())
	} else {
		log.Warn("JWKS_URL not set, mutating routes are unauthenticated")
	}
	write = append(write, middleware.NewAuditMiddleware().AuditRequest())

	v1 := middleware.VersionRoute(e, middleware.CurrentAPIVersion)
	handlers.NewCatalogHandlers(endpoints...).Register(v1, write...)

	errCh := make(chan error, 1)
	go func() {
		log.Infow("labstock server starting", "port", a.cfg.Port, "env", a.cfg.Env, "memory", a.Memory)
		errCh <- e.Start(":" + a.cfg.Port)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
