package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig aggregates runtime configuration, injected via environment
// variables so nothing is hard-coded.
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	RedisAddr string
	RedisDB   int

	// Intake queue capacity: must absorb the worst expected per-second
	// admission burst, because admission has already committed stock by
	// the time an intent is enqueued.
	OrderQueueSize int

	// Fulfillment per-user lock bounds.
	OrderLockTTL  time.Duration
	OrderLockWait time.Duration

	// Read-through cache policy.
	CacheTTL        time.Duration
	CacheNullTTL    time.Duration
	CacheLockTTL    time.Duration
	CacheRetryDelay time.Duration
	CacheMaxRetries int
	RebuildWorkers  int

	// Buy endpoint rate limit and the stock mirror TTL.
	BuyRateLimit  int
	BuyRateWindow time.Duration
	StockCacheTTL time.Duration

	// Simple admin token guarding the preload endpoint (demo-grade).
	PreloadAdminToken string
}

// Load reads and validates configuration, falling back to defaults.
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		DBPath:            getEnv("DB_PATH", "seckill.db"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:           0,
		OrderQueueSize:    1024,
		OrderLockTTL:      30 * time.Second,
		OrderLockWait:     time.Second,
		CacheTTL:          30 * time.Minute,
		CacheNullTTL:      2 * time.Minute,
		CacheLockTTL:      10 * time.Second,
		CacheRetryDelay:   50 * time.Millisecond,
		CacheMaxRetries:   20,
		RebuildWorkers:    10,
		BuyRateLimit:      1000,
		BuyRateWindow:     time.Second,
		StockCacheTTL:     24 * time.Hour,
		PreloadAdminToken: getEnv("PRELOAD_ADMIN_TOKEN", "dev-admin-token"),
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	queueSize, err := getEnvInt("ORDER_QUEUE_SIZE", cfg.OrderQueueSize)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid ORDER_QUEUE_SIZE: %w", err)
	}
	if queueSize <= 0 {
		return AppConfig{}, fmt.Errorf("ORDER_QUEUE_SIZE must be > 0")
	}
	cfg.OrderQueueSize = queueSize

	rebuildWorkers, err := getEnvInt("CACHE_REBUILD_WORKERS", cfg.RebuildWorkers)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CACHE_REBUILD_WORKERS: %w", err)
	}
	if rebuildWorkers <= 0 {
		return AppConfig{}, fmt.Errorf("CACHE_REBUILD_WORKERS must be > 0")
	}
	cfg.RebuildWorkers = rebuildWorkers

	rateLimit, err := getEnvInt("BUY_RATE_LIMIT", cfg.BuyRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BUY_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("BUY_RATE_LIMIT must be > 0")
	}
	cfg.BuyRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("BUY_RATE_WINDOW_SEC", int(cfg.BuyRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BUY_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("BUY_RATE_WINDOW_SEC must be > 0")
	}
	cfg.BuyRateWindow = time.Duration(rateWindowSec) * time.Second

	cacheTTLMin, err := getEnvInt("CACHE_TTL_MIN", int(cfg.CacheTTL.Minutes()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CACHE_TTL_MIN: %w", err)
	}
	if cacheTTLMin <= 0 {
		return AppConfig{}, fmt.Errorf("CACHE_TTL_MIN must be > 0")
	}
	cfg.CacheTTL = time.Duration(cacheTTLMin) * time.Minute

	stockTTLHour, err := getEnvInt("STOCK_CACHE_TTL_HOUR", int(cfg.StockCacheTTL.Hours()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid STOCK_CACHE_TTL_HOUR: %w", err)
	}
	if stockTTLHour <= 0 {
		return AppConfig{}, fmt.Errorf("STOCK_CACHE_TTL_HOUR must be > 0")
	}
	cfg.StockCacheTTL = time.Duration(stockTTLHour) * time.Hour

	return cfg, nil
}

// getEnv reads a string env var, returning fallback when unset or blank.
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt reads an integer env var, returning fallback when unset.
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
