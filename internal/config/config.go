package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// レコードストアのドライバー
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// スキャンジョブのデフォルトスケジュール（秒フィールド付きcron式）
const (
	DefaultExpiredScanSchedule  = "0 0 9 * * *"
	DefaultExpiringSoonSchedule = "0 30 9 * * *"
	DefaultHealthCheckSchedule  = "0 0 * * * *"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver string
	DatabaseURL string

	// Server
	ServerPort  string
	MetricsPort string

	// CORS
	CORSAllowedOrigin string

	// Rate Limit
	RateLimitGeneral int

	// Scan
	Timezone             string
	Location             *time.Location
	ExpiredScanSchedule  string
	ExpiringSoonSchedule string
	HealthCheckSchedule  string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は不足分をまとめたエラーを返す。
// 不正な値はデフォルトにフォールバックする。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StoreDriver = strings.ToLower(getEnvString("STORE_DRIVER", StoreDriverPostgres))
	if cfg.StoreDriver != StoreDriverPostgres && cfg.StoreDriver != StoreDriverMemory {
		cfg.StoreDriver = StoreDriverPostgres
	}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StoreDriver == StoreDriverPostgres {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.RateLimitGeneral = getEnvPositiveInt("RATE_LIMIT_GENERAL", 120)
	cfg.Timezone, cfg.Location = getEnvLocation("TIMEZONE")
	cfg.ExpiredScanSchedule = getEnvString("EXPIRED_SCAN_SCHEDULE", DefaultExpiredScanSchedule)
	cfg.ExpiringSoonSchedule = getEnvString("EXPIRING_SOON_SCHEDULE", DefaultExpiringSoonSchedule)
	cfg.HealthCheckSchedule = getEnvString("HEALTH_CHECK_SCHEDULE", DefaultHealthCheckSchedule)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

// getEnvPositiveInt は正の整数を読み込む。未設定・不正・0以下はデフォルト値。
func getEnvPositiveInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

// getEnvLocation はIANAタイムゾーン名を読み込む。
// 未設定または解決できない場合はtime.Localを返す。
func getEnvLocation(key string) (string, *time.Location) {
	name := os.Getenv(key)
	if name == "" {
		return "Local", time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return "Local", time.Local
	}
	return name, loc
}
