package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストアドライバー
const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config はAPIサーバーの設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Remote reasoning service
	PerplexityAPIKey  string
	PerplexityBaseURL string
	AnalysisModel     string
	ChatModel         string
	RemoteTimeout     time.Duration

	// Extraction
	ScraperURL    string
	ScrapeTimeout time.Duration
	ScrapeMaxSize int64

	// Storage
	StoreDriver     string
	DatabaseURL     string
	SQLitePath      string
	RedisURL        string
	SessionCacheTTL time.Duration
	DeviceMode      bool

	// Guest retention (0 disables the cleanup job)
	GuestRetention  time.Duration
	CleanupInterval time.Duration

	// Rate Limit (req/min)
	RateLimitGeneral int
	RateLimitAnalyze int

	// Server
	ServerPort string

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// ScraperConfig は単独で動かすURL抽出ブリッジの設定を保持する。
type ScraperConfig struct {
	Port          string
	ScrapeTimeout time.Duration
	ScrapeMaxSize int64
	LogLevel      string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.PerplexityAPIKey = os.Getenv("PERPLEXITY_API_KEY")
	if cfg.PerplexityAPIKey == "" {
		missing = append(missing, "PERPLEXITY_API_KEY")
	}

	cfg.StoreDriver = strings.ToLower(getEnvString("STORE_DRIVER", StoreDriverSQLite))
	switch cfg.StoreDriver {
	case StoreDriverSQLite, StoreDriverMemory:
	case StoreDriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER: %q", cfg.StoreDriver)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.PerplexityBaseURL = getEnvString("PERPLEXITY_BASE_URL", "https://api.perplexity.ai/")
	cfg.AnalysisModel = getEnvString("ANALYSIS_MODEL", "sonar-pro")
	cfg.ChatModel = getEnvString("CHAT_MODEL", "sonar-pro")
	cfg.RemoteTimeout = getEnvDuration("REMOTE_TIMEOUT", 60*time.Second)
	cfg.ScraperURL = getEnvString("SCRAPER_URL", "")
	cfg.ScrapeTimeout = getEnvDuration("SCRAPE_TIMEOUT", 15*time.Second)
	cfg.ScrapeMaxSize = getEnvInt64("SCRAPE_MAX_SIZE", 5242880)
	cfg.SQLitePath = getEnvString("SQLITE_PATH", "clarus.db")
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.SessionCacheTTL = getEnvDuration("SESSION_CACHE_TTL", 24*time.Hour)
	cfg.DeviceMode = getEnvBool("DEVICE_MODE", false)
	cfg.GuestRetention = getEnvDuration("GUEST_RETENTION", 720*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAnalyze = getEnvInt("RATE_LIMIT_ANALYZE", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// LoadScraper は scrape コマンドに必要な設定だけを読み込む。必須項目はない。
func LoadScraper() *ScraperConfig {
	return &ScraperConfig{
		Port:          getEnvString("SCRAPER_PORT", "8000"),
		ScrapeTimeout: getEnvDuration("SCRAPE_TIMEOUT", 15*time.Second),
		ScrapeMaxSize: getEnvInt64("SCRAPE_MAX_SIZE", 5242880),
		LogLevel:      getEnvString("LOG_LEVEL", "info"),
	}
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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
