package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	AppEnv  string
	Port    string

	// Database (optional driver switch via ENV, default: sqlite)
	DBDriver     string
	DBConnection string

	// Cache (redis in production, memory for local development)
	CacheDriver   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Observability (optional)
	SentryDSN string

	// Storage (S3-compatible: MinIO, AWS S3, Cloudflare R2, DigitalOcean Spaces, etc.)
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string // Optional: for S3-compatible services (MinIO, DO Spaces, R2, etc.)

	// Uploads
	UploadURLExpiry      time.Duration // Signed PUT URL lifetime; pending records share this TTL
	DownloadURLExpiry    time.Duration
	UploadMaxSize        int64
	FailedAssetRetention time.Duration // FAILED rows older than this are purged by the sweeper
	SweepBatchSize       int

	// Billing
	BalanceCacheTTL  time.Duration
	CreditCostUpload int
	CreditCostGen    int
	FreeTierCredits  int

	// Rate limiting
	RateLimitFailClosed bool
	UploadRateMax       int
	UploadRateWindow    time.Duration
	GenerateRateMax     int
	GenerateRateWindow  time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := &Config{
		// Application
		AppName: envString("APP_NAME", "Atelier"),
		AppEnv:  envRequired("APP_ENV"), // Required: 'development' or 'production'
		Port:    envString("PORT", "8090"),

		// Database
		DBDriver:     envString("DB_DRIVER", "sqlite"),
		DBConnection: envString("DB_CONNECTION", "./data/atelier.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"),

		// Cache
		CacheDriver:   envString("CACHE_DRIVER", "memory"),
		RedisAddr:     envString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envString("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		// Observability
		SentryDSN: envString("SENTRY_DSN", ""),

		// Storage (S3-compatible - required for uploads)
		S3Region:    envRequired("S3_REGION"),
		S3Bucket:    envRequired("S3_BUCKET"),
		S3AccessKey: envRequired("S3_ACCESS_KEY"),
		S3SecretKey: envRequired("S3_SECRET_KEY"),
		S3Endpoint:  envString("S3_ENDPOINT", ""), // Optional: for non-AWS providers

		// Uploads
		UploadURLExpiry:      envDuration("UPLOAD_URL_EXPIRY", 30*time.Minute),
		DownloadURLExpiry:    envDuration("DOWNLOAD_URL_EXPIRY", 1*time.Hour),
		UploadMaxSize:        envInt64("UPLOAD_MAX_SIZE", 10<<20), // 10 MiB
		FailedAssetRetention: envDuration("FAILED_ASSET_RETENTION", 30*24*time.Hour),
		SweepBatchSize:       envInt("SWEEP_BATCH_SIZE", 100),

		// Billing
		BalanceCacheTTL:  envDuration("BALANCE_CACHE_TTL", 30*time.Second),
		CreditCostUpload: envInt("CREDIT_COST_UPLOAD", 0),
		CreditCostGen:    envInt("CREDIT_COST_GENERATE", 1),
		FreeTierCredits:  envInt("FREE_TIER_CREDITS", 50),

		// Rate limiting
		RateLimitFailClosed: envBool("RATE_LIMIT_FAIL_CLOSED", false),
		UploadRateMax:       envInt("RATE_LIMIT_UPLOAD_MAX", 30),
		UploadRateWindow:    envDuration("RATE_LIMIT_UPLOAD_WINDOW", 60*time.Second),
		GenerateRateMax:     envInt("RATE_LIMIT_GENERATE_MAX", 10),
		GenerateRateWindow:  envDuration("RATE_LIMIT_GENERATE_WINDOW", 60*time.Second),
	}

	// Pending-upload records share this TTL, so it also bounds how long the
	// sweeper waits before treating an open upload as abandoned.
	if cfg.UploadURLExpiry < 15*time.Minute {
		slog.Warn("UPLOAD_URL_EXPIRY below 15m, clamping", "value", cfg.UploadURLExpiry)
		cfg.UploadURLExpiry = 15 * time.Minute
	}
	if cfg.UploadURLExpiry > 60*time.Minute {
		slog.Warn("UPLOAD_URL_EXPIRY above 60m, clamping", "value", cfg.UploadURLExpiry)
		cfg.UploadURLExpiry = 60 * time.Minute
	}

	// Production: validate required services
	if cfg.IsProduction() {
		validateProduction(cfg)
	}

	return cfg
}

// validateProduction ensures all required services are configured for production
// deployments. Development allows the in-memory cache for easier local testing,
// but a single-process cache cannot coordinate a multi-worker deployment.
func validateProduction(cfg *Config) {
	if cfg.CacheDriver != "redis" {
		slog.Error("production deployment requires CACHE_DRIVER=redis",
			"hint", "set APP_ENV=development for local testing with the memory cache")
		os.Exit(1)
	}
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config invalid bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envRequired(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Error("config required env var missing", "key", key)
	os.Exit(1)
	return ""
}

// Sanitized returns a copy of the config with only public/safe fields.
// All secrets, credentials, and sensitive data are excluded.
func (c *Config) Sanitized() *Config {
	return &Config{
		AppName: c.AppName,
		AppEnv:  c.AppEnv,
		Port:    c.Port,

		DBDriver:    c.DBDriver,
		CacheDriver: c.CacheDriver,

		S3Region:   c.S3Region,
		S3Bucket:   c.S3Bucket,
		S3Endpoint: c.S3Endpoint,

		UploadURLExpiry:   c.UploadURLExpiry,
		DownloadURLExpiry: c.DownloadURLExpiry,
		UploadMaxSize:     c.UploadMaxSize,
	}
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
