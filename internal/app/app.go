package app

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/atelierhq/atelier/internal/cache"
	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/db"
	"github.com/atelierhq/atelier/internal/ratelimit"
	"github.com/atelierhq/atelier/internal/repository"
	"github.com/atelierhq/atelier/internal/service"
	"github.com/atelierhq/atelier/internal/storage"
	"github.com/atelierhq/atelier/internal/validation"
)

type App struct {
	Cfg            *config.Config
	DB             *sqlx.DB
	Cache          cache.Cache
	UploadService  *service.UploadService
	BillingService *service.BillingService
	Sweeper        *service.Sweeper
	Limiter        *ratelimit.Limiter
}

func New(cfg *config.Config) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}

	// Run database migrations
	err = db.RunMigrations(database.DB, cfg.DBDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %v", err)
	}

	// Cache
	cacheStore, err := cache.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %v", err)
	}

	// Storage
	objectStore, err := storage.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %v", err)
	}

	// Repositories
	assetRepository := repository.NewAssetRepository(database)
	billingRepository := repository.NewBillingRepository(database)

	// Services
	constraints := validation.DefaultConstraints
	constraints.MaxSize = cfg.UploadMaxSize

	uploadService := service.NewUploadService(assetRepository, cacheStore, objectStore, service.UploadPolicy{
		Constraints:    constraints,
		URLExpiry:      cfg.UploadURLExpiry,
		DownloadExpiry: cfg.DownloadURLExpiry,
	})
	billingService := service.NewBillingService(billingRepository, cacheStore, cfg.BalanceCacheTTL, cfg.FreeTierCredits)
	sweeper := service.NewSweeper(assetRepository, cacheStore, objectStore, cfg.UploadURLExpiry, cfg.FailedAssetRetention, cfg.SweepBatchSize)

	limiter := ratelimit.New(cacheStore, cfg.RateLimitFailClosed)

	return &App{
		Cfg:            cfg,
		DB:             database,
		Cache:          cacheStore,
		UploadService:  uploadService,
		BillingService: billingService,
		Sweeper:        sweeper,
		Limiter:        limiter,
	}, nil
}

func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
