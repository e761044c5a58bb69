package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Telegram
	TelegramBotToken       string
	AdminIDs               []int64
	SupportedSitesURL      string
	WelcomeImageURL        string
	ConversationTimeoutSec int

	// External tools
	YtdlpPath  string
	FfmpegPath string
	CookieFile string

	// Storage
	DownloadDir     string
	SnapshotBackend string
	SnapshotPath    string

	// Snapshot database (postgres backend only)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Scheduler
	MaxConcurrentFetches int
	TaskPauseSec         int

	// Pipeline
	ResolveTimeoutSec  int
	FetchTimeoutSec    int
	ResolveCacheTTLSec int
	MinArtifactBytes   int64

	// Delivery
	DirectSendMaxBytes int64
	UploadTimeoutSec   int

	// Progress reporting
	ProgressIntervalMS int

	// Cleanup
	JanitorSpec       string
	ArtifactMaxAgeSec int

	// Logging
	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool

	// Monitoring
	MetricsPort     int
	HealthCheckPort int
}

func LoadConfig() (*Config, error) {
	// Load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{}

	// Parse Telegram config
	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	cfg.AdminIDs = parseAdminIDs(getEnv("ADMIN_IDS", ""))
	cfg.SupportedSitesURL = getEnv("SUPPORTED_SITES_URL", "https://github.com/yt-dlp/yt-dlp/blob/master/supportedsites.md")
	cfg.WelcomeImageURL = getEnv("WELCOME_IMAGE_URL", "https://i.ibb.co/bMNj87bT/download.jpg")
	cfg.ConversationTimeoutSec = getEnvInt("CONVERSATION_TIMEOUT_SEC", 600)

	// Parse tool config
	cfg.YtdlpPath = getEnv("YTDLP_PATH", "yt-dlp")
	cfg.FfmpegPath = getEnv("FFMPEG_PATH", "ffmpeg")
	cfg.CookieFile = getEnv("COOKIE_FILE", "cookies.txt")

	// Parse storage config
	cfg.DownloadDir = getEnv("DOWNLOAD_DIR", "downloads")
	cfg.SnapshotBackend = getEnv("SNAPSHOT_BACKEND", "json")
	switch cfg.SnapshotBackend {
	case "json", "sqlite":
		cfg.SnapshotPath = getEnv("SNAPSHOT_PATH", defaultSnapshotPath(cfg.SnapshotBackend))
	case "postgres":
		cfg.DBHost = getEnv("DB_HOST", "localhost")
		cfg.DBPort = getEnvInt("DB_PORT", 5432)
		cfg.DBName = getEnv("DB_NAME", "fetchbot")
		cfg.DBUser = getEnv("DB_USER", "fetchbot")
		cfg.DBPassword = getEnv("DB_PASSWORD", "")
		if cfg.DBPassword == "" {
			return nil, fmt.Errorf("DB_PASSWORD is required for the postgres backend")
		}
		cfg.DBSSLMode = getEnv("DB_SSL_MODE", "disable")
	default:
		return nil, fmt.Errorf("SNAPSHOT_BACKEND must be json, sqlite or postgres, got %q", cfg.SnapshotBackend)
	}

	// Parse scheduler config
	cfg.MaxConcurrentFetches = getEnvInt("MAX_CONCURRENT_FETCHES", 3)
	if cfg.MaxConcurrentFetches < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_FETCHES must be at least 1")
	}
	cfg.TaskPauseSec = getEnvInt("TASK_PAUSE_SEC", 1)

	// Parse pipeline config
	cfg.ResolveTimeoutSec = getEnvInt("RESOLVE_TIMEOUT_SEC", 60)
	cfg.FetchTimeoutSec = getEnvInt("FETCH_TIMEOUT_SEC", 7200)
	cfg.ResolveCacheTTLSec = getEnvInt("RESOLVE_CACHE_TTL_SEC", 300)
	cfg.MinArtifactBytes = getEnvInt64("MIN_ARTIFACT_BYTES", 1024)

	// Parse delivery config
	cfg.DirectSendMaxBytes = getEnvInt64("DIRECT_SEND_MAX_BYTES", 49*1024*1024)
	if cfg.DirectSendMaxBytes < 1 {
		return nil, fmt.Errorf("DIRECT_SEND_MAX_BYTES must be positive")
	}
	cfg.UploadTimeoutSec = getEnvInt("UPLOAD_TIMEOUT_SEC", 600)

	// Parse progress config
	cfg.ProgressIntervalMS = getEnvInt("PROGRESS_INTERVAL_MS", 1500)

	// Parse cleanup config
	cfg.JanitorSpec = getEnv("JANITOR_SPEC", "@every 15m")
	cfg.ArtifactMaxAgeSec = getEnvInt("ARTIFACT_MAX_AGE_SEC", 3600)

	// Parse logging config
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "json")
	cfg.LogFile = getEnv("LOG_FILE", "logs/fetchbot.log")
	cfg.LogMaxSizeMB = getEnvInt("LOG_MAX_SIZE_MB", 100)
	cfg.LogMaxBackups = getEnvInt("LOG_MAX_BACKUPS", 3)
	cfg.LogMaxAgeDays = getEnvInt("LOG_MAX_AGE_DAYS", 28)
	cfg.LogCompress = getEnvBool("LOG_COMPRESS", true)

	// Parse monitoring config
	cfg.MetricsPort = getEnvInt("METRICS_PORT", 9090)
	cfg.HealthCheckPort = getEnvInt("HEALTH_CHECK_PORT", 8080)

	return cfg, nil
}

// IsAdmin checks if a user ID is in the admin list
func (c *Config) IsAdmin(userID int64) bool {
	for _, adminID := range c.AdminIDs {
		if adminID == userID {
			return true
		}
	}
	return false
}

func defaultSnapshotPath(backend string) string {
	if backend == "sqlite" {
		return "queue.db"
	}
	return "queue.json"
}

// GetDatabaseDSN returns the PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func parseAdminIDs(input string) []int64 {
	parts := strings.Split(input, ",")
	ids := make([]int64, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}

	return ids
}
