package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cholera-ops/triage/internal/config"
	"github.com/cholera-ops/triage/internal/domain/triage"
	"github.com/cholera-ops/triage/internal/platform/auth"
	"github.com/cholera-ops/triage/internal/platform/db"
	"github.com/cholera-ops/triage/internal/platform/middleware"
)

const version = "0.1.0"

// routerDeps is everything newRouter needs. Pool may be nil, in which case
// no tenant connection is attached and /health/db is not mounted.
type routerDeps struct {
	cfg        *config.Config
	logger     zerolog.Logger
	pool       *pgxpool.Pool
	repo       triage.AssessmentRepository
	classifier *triage.Classifier
	registry   *prometheus.Registry
	authMW     echo.MiddlewareFunc
}

func newRouter(d routerDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	httpMetrics := middleware.NewHTTPMetrics(d.registry)

	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.logger))
	e.Use(httpMetrics.Middleware())
	e.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{HSTS: d.cfg.TLSEnabled}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  d.cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
		ExposeHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
	}))
	e.Use(echomw.BodyLimit("1M"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{Registry: d.registry})))
	if d.pool != nil {
		e.GET("/health/db", db.HealthHandler(d.pool))
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(d.authMW)
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: d.cfg.RateLimitRPS,
		BurstSize:         d.cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))
	if d.pool != nil {
		apiV1.Use(db.TenantMiddleware(d.pool, d.cfg.DefaultTenant))
	}

	svc := triage.NewService(d.classifier, d.repo, d.logger)
	svc.SetMetrics(triage.NewMetrics(d.registry))
	triage.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}

func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(), nil
	}
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: key,
	})
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: every request is authenticated as admin; do not expose this server")
	}

	table, err := loadTable(cfg.TriageTablePath)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.TriageTablePath).Msg("failed to load triage table")
		return err
	}
	classifier, err := triage.NewClassifier(table)
	if err != nil {
		return err
	}
	logger.Info().
		Int("symptoms", len(table.Symptoms)).
		Int("critical_combinations", len(table.CriticalCombinations)).
		Msg("triage table loaded")

	authMW, err := authMiddleware(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to configure authentication")
		return err
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		db.NewPoolCollector(pool),
	)

	e := newRouter(routerDeps{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		repo:       triage.NewAssessmentRepoPG(pool),
		classifier: classifier,
		registry:   registry,
		authMW:     authMW,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			logger.Error().Err(err).Msg("server error")
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
