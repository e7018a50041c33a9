// Package app はサーバーとCLIで共有する依存関係の組み立てを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"shc-verification-service/config"
	"shc-verification-service/internal/cache"
	"shc-verification-service/internal/handler"
	"shc-verification-service/internal/infra"
	"shc-verification-service/internal/metrics"
	"shc-verification-service/internal/repository"
	"shc-verification-service/internal/usecase"
	"shc-verification-service/internal/worker"
	"shc-verification-service/migrations"
)

// Version はビルドのバージョン。
const Version = "1.0.0"

const feedFetchTimeout = 30 * time.Second

// App は組み立て済みのサービス群。
type App struct {
	Config  *config.Config
	DB      *gorm.DB
	Cache   cache.Cache
	Metrics *metrics.Metrics

	TrustStore   *usecase.TrustStore
	Resolver     *usecase.KeyResolver
	Vaccines     *usecase.VaccineRegistry
	Verification *usecase.VerificationService
	CVXImport    *usecase.CVXImportService
	Directory    *usecase.IssuerDirectoryService
	Migrations   *usecase.MigrationService
	Reaper       *worker.CacheReaper
}

// New は設定からサービス群を組み立てる。
// reg が nil の場合はメトリクスを収集しない。
func New(cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	db, err := infra.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL, cfg.OtelEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	store, err := cache.New(cache.Config{
		Driver:        cfg.CacheDriver,
		Prefix:        cfg.CachePrefix,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	}, db)
	if err != nil {
		return nil, fmt.Errorf("failed to init cache: %w", err)
	}

	files, err := migrations.ForDriver(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	// DI
	fetcher := infra.NewHTTPFetcher(feedFetchTimeout, "shc-verification-service/"+Version)
	trustStore := usecase.NewTrustStore(repository.NewIssuerRepository(db))
	resolver := usecase.NewKeyResolver(trustStore, store, fetcher, usecase.KeyResolverConfig{
		KeySetTTL:          cfg.KeySetTTL,
		FetchTimeout:       cfg.FetchTimeout,
		AllowStaleKeys:     cfg.AllowStaleKeys,
		MinRefreshInterval: cfg.MinRefreshInterval,
	}, m)
	cvxRepo := repository.NewCVXCodeRepository(db)
	vaccines := usecase.NewVaccineRegistry(cvxRepo)

	return &App{
		Config:       cfg,
		DB:           db,
		Cache:        store,
		Metrics:      m,
		TrustStore:   trustStore,
		Resolver:     resolver,
		Vaccines:     vaccines,
		Verification: usecase.NewVerificationService(resolver, vaccines, m),
		CVXImport:    usecase.NewCVXImportService(cvxRepo, store, fetcher, cfg.CVXFeedURL, vaccines),
		Directory:    usecase.NewIssuerDirectoryService(trustStore, resolver, fetcher, cfg.VCIDirectoryURL),
		Migrations:   usecase.NewMigrationService(repository.NewMigrationRepository(db), db, files),
		Reaper: worker.NewCacheReaper(store,
			worker.WithInterval(cfg.CacheReapInterval),
			worker.WithMetrics(m),
			worker.WithLogger(slog.Default().With("component", "cache_reaper")),
		),
	}, nil
}

// Handlers はHTTPハンドラを組み立てる。
func (a *App) Handlers() *handler.Handlers {
	checks := map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if p, ok := a.Cache.(interface{ Ping(context.Context) error }); ok {
		checks["cache"] = p.Ping
	}

	return &handler.Handlers{
		Verification: handler.NewVerificationHandler(a.Verification),
		Issuer:       handler.NewIssuerHandler(a.TrustStore, a.Resolver),
		Vaccine:      handler.NewVaccineHandler(a.Vaccines),
		Health:       handler.NewHealthHandler(checks),
	}
}

// Close はデータベースとキャッシュの接続を閉じる。
func (a *App) Close() error {
	if c, ok := a.Cache.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Error("failed to close cache", "error", err)
		}
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
