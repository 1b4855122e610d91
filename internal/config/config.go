// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストアのバックエンド種別
const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// ブロブストアのバックエンド種別
const (
	BlobLocal = "local"
	BlobGCS   = "gcs"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort       string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	// Store
	StoreBackend    string
	MongoURL        string
	DBName          string
	MongoCollection string
	DatabaseURL     string

	// Blob
	BlobBackend      string
	UploadsDir       string
	GCSBucket        string
	GCSPublicBaseURL string
	UploadMaxBytes   int64

	// Facet cache
	RedisURL      string
	FacetCacheTTL time.Duration

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel slog.Level

	// Import
	ImportSourcesFile   string
	ImportInterval      time.Duration
	ImportTimeout       time.Duration
	ImportMaxSize       int64
	ImportRatePerSec    float64
	ImportMaxConcurrent int
}

// Load は環境変数からConfigを読み込む。
// 選択したバックエンドに必要な環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StoreBackend = strings.ToLower(getEnvString("STORE_BACKEND", StoreMongo))
	cfg.BlobBackend = strings.ToLower(getEnvString("BLOB_BACKEND", BlobLocal))

	var missing []string
	require := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	switch cfg.StoreBackend {
	case StoreMongo:
		cfg.MongoURL = require("MONGO_URL")
		cfg.DBName = require("DB_NAME")
	case StorePostgres:
		cfg.DatabaseURL = require("DATABASE_URL")
	case StoreMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND: %q", cfg.StoreBackend)
	}

	switch cfg.BlobBackend {
	case BlobLocal:
	case BlobGCS:
		cfg.GCSBucket = require("GCS_BUCKET")
	default:
		return nil, fmt.Errorf("unsupported BLOB_BACKEND: %q", cfg.BlobBackend)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.HTTPReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 5*time.Minute)
	cfg.HTTPWriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 5*time.Minute)
	cfg.MongoCollection = getEnvString("MONGO_COLLECTION", "tutorials")
	cfg.UploadsDir = getEnvString("UPLOADS_DIR", "uploads")
	cfg.GCSPublicBaseURL = getEnvString("GCS_PUBLIC_BASE_URL", "")
	cfg.UploadMaxBytes = getEnvInt64("UPLOAD_MAX_BYTES", 536870912)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.FacetCacheTTL = getEnvDuration("FACET_CACHE_TTL", time.Minute)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")
	cfg.LogLevel = getEnvLogLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ImportSourcesFile = getEnvString("IMPORT_SOURCES_FILE", "")
	cfg.ImportInterval = getEnvDuration("IMPORT_INTERVAL", time.Hour)
	cfg.ImportTimeout = getEnvDuration("IMPORT_TIMEOUT", 10*time.Second)
	cfg.ImportMaxSize = getEnvInt64("IMPORT_MAX_SIZE", 5242880)
	cfg.ImportRatePerSec = getEnvFloat("IMPORT_RATE_PER_SEC", 1)
	cfg.ImportMaxConcurrent = getEnvInt("IMPORT_MAX_CONCURRENT", 4)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvLogLevel はdebug/info/warn/errorを解釈する。不明な値はdefaultValを返す。
func getEnvLogLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}
