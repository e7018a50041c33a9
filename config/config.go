// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultVCIDirectoryURL = "https://raw.githubusercontent.com/the-commons-project/vci-directory/main/vci-issuers.json"
	defaultCVXFeedURL      = "https://www2a.cdc.gov/vaccines/iis/iisstandards/downloads/cvx.txt"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port               string
	DatabaseDriver     string
	DatabaseURL        string
	GoogleCloudProject string
	LogLevel           string

	CacheDriver   string
	CachePrefix   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KeySetTTL         time.Duration
	FetchTimeout      time.Duration
	AllowStaleKeys    bool
	CacheReapInterval time.Duration

	// MinRefreshInterval は未知の kid による鍵セット再取得の最小間隔。
	MinRefreshInterval time.Duration

	VCIDirectoryURL string
	CVXFeedURL      string

	OtelEnabled      bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64
	OtelInsecure     bool
}

// Load は環境変数から設定を読み込む。
// 数値や期間の形式が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseDriver:     getEnv("DATABASE_DRIVER", "mysql"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		CacheDriver:        getEnv("CACHE_DRIVER", "database"),
		CachePrefix:        os.Getenv("CACHE_PREFIX"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		VCIDirectoryURL:    getEnv("VCI_DIRECTORY_URL", defaultVCIDirectoryURL),
		CVXFeedURL:         getEnv("CVX_FEED_URL", defaultCVXFeedURL),
		OtelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:    getEnv("OTEL_SERVICE_NAME", "shc-verification-service"),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.KeySetTTL, err = getDuration("KEY_SET_TTL", 6*time.Hour); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = getDuration("FETCH_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheReapInterval, err = getDuration("CACHE_REAP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MinRefreshInterval, err = getDuration("MIN_REFRESH_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.AllowStaleKeys, err = getBool("ALLOW_STALE_KEYS", false); err != nil {
		return nil, err
	}
	if cfg.OtelEnabled, err = getBool("OTEL_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.OtelInsecure, err = getBool("OTEL_INSECURE", false); err != nil {
		return nil, err
	}
	if cfg.OtelSamplingRate, err = getFloat("OTEL_SAMPLING_RATE", 1.0); err != nil {
		return nil, err
	}
	if cfg.OtelSamplingRate < 0 || cfg.OtelSamplingRate > 1 {
		return nil, fmt.Errorf("OTEL_SAMPLING_RATE must be between 0 and 1: %v", cfg.OtelSamplingRate)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive: %s", key, val)
	}
	return d, nil
}
