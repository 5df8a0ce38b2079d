// Package config содержит загрузку и валидацию конфигурации.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config представляет конфигурацию приложения
type Config struct {
	// Database
	DatabaseURL  string
	EnsureSchema bool

	// Telegram
	Telegram TelegramConfig

	// Object store
	ObjectStore ObjectStoreConfig

	// Webhooks
	Webhook WebhookConfig

	// Publication
	Publication PublicationConfig

	// Poll answers
	PollAnswers PollAnswerConfig

	// Renderer
	Render RenderConfig

	// Video
	VideoServiceURL string
	VideoTimeout    time.Duration

	// Languages
	SupportedLanguages []string
	DefaultLanguage    string

	// Health
	HealthPort         string
	HealthCheckEnabled bool

	// Logging
	LogLevel   string
	LogPath    string
	AppDataDir string
}

// TelegramConfig представляет конфигурацию Bot API
type TelegramConfig struct {
	BotToken      string
	APIEndpoint   string
	MediaTimeout  time.Duration
	ButtonTimeout time.Duration
	RateLimit     float64
}

// ObjectStoreConfig представляет конфигурацию S3-совместимого хранилища
type ObjectStoreConfig struct {
	Endpoint     string
	Bucket       string
	AccessKey    string
	Secret       string
	PublicDomain string
	Region       string
}

// WebhookConfig представляет настройки рассылки вебхуков
type WebhookConfig struct {
	Timeout        time.Duration
	Retries        int
	RetryBaseDelay time.Duration
	PauseMin       time.Duration
	PauseMax       time.Duration
}

// PublicationConfig представляет настройки оркестратора публикаций
type PublicationConfig struct {
	Workers      int
	QueueSize    int
	PauseMin     time.Duration
	PauseMax     time.Duration
	ClaimLease   time.Duration
	Cron         string
	CronBatch    int
	RetryAfter   time.Duration
	DeleteBefore int
	DeleteAfter  int
}

// PollAnswerConfig представляет настройки обработчика ответов на опросы
type PollAnswerConfig struct {
	Shards    int
	Shard     int
	CacheSize int
	RedisURL  string
}

// RenderConfig представляет настройки рендера картинок кода
type RenderConfig struct {
	LogoPath string
	Style    string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	// .env необязателен, переменные могут прийти из окружения
	_ = godotenv.Load()

	languages := getEnvList("SUPPORTED_LANGUAGES", []string{"en", "ru"})
	defaultLanguage := getEnv("DEFAULT_LANGUAGE", "")
	if defaultLanguage == "" && len(languages) > 0 {
		defaultLanguage = languages[0]
	}

	config := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		EnsureSchema: getEnvBool("DB_ENSURE_SCHEMA", false),
		Telegram: TelegramConfig{
			BotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
			APIEndpoint:   getEnv("TELEGRAM_API_ENDPOINT", "https://api.telegram.org/bot%s/%s"),
			MediaTimeout:  getEnvDuration("TELEGRAM_MEDIA_TIMEOUT", 30*time.Second),
			ButtonTimeout: getEnvDuration("TELEGRAM_BUTTON_TIMEOUT", 60*time.Second),
			RateLimit:     getEnvFloat("TELEGRAM_RATE_LIMIT", 20),
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:     getEnv("OBJECT_STORE_ENDPOINT", ""),
			Bucket:       getEnv("OBJECT_STORE_BUCKET", ""),
			AccessKey:    getEnv("OBJECT_STORE_ACCESS_KEY", ""),
			Secret:       getEnv("OBJECT_STORE_SECRET", ""),
			PublicDomain: getEnv("OBJECT_STORE_PUBLIC_DOMAIN", ""),
			Region:       getEnv("OBJECT_STORE_REGION", "auto"),
		},
		Webhook: WebhookConfig{
			Timeout:        getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			Retries:        getEnvInt("WEBHOOK_RETRIES", 3),
			RetryBaseDelay: getEnvDuration("WEBHOOK_RETRY_BASE_DELAY", 5*time.Second),
			PauseMin:       getEnvDuration("WEBHOOK_PAUSE_MIN", 2*time.Second),
			PauseMax:       getEnvDuration("WEBHOOK_PAUSE_MAX", 4*time.Second),
		},
		Publication: PublicationConfig{
			Workers:      getEnvInt("PUBLICATION_WORKERS", 4),
			QueueSize:    getEnvInt("PUBLICATION_QUEUE_SIZE", 64),
			PauseMin:     getEnvDuration("PUBLISH_PAUSE_MIN", 3*time.Second),
			PauseMax:     getEnvDuration("PUBLISH_PAUSE_MAX", 6*time.Second),
			ClaimLease:   getEnvDuration("PUBLISH_CLAIM_LEASE", 15*time.Minute),
			Cron:         getEnv("PUBLISH_CRON", ""),
			CronBatch:    getEnvInt("PUBLISH_CRON_BATCH", 1),
			RetryAfter:   getEnvDuration("PUBLISH_RETRY_AFTER", time.Hour),
			DeleteBefore: getEnvInt("DELETE_WINDOW_BEFORE", 2),
			DeleteAfter:  getEnvInt("DELETE_WINDOW_AFTER", 1),
		},
		PollAnswers: PollAnswerConfig{
			Shards:    getEnvInt("POLL_CONSUMER_SHARDS", 1),
			Shard:     getEnvInt("POLL_CONSUMER_SHARD", 0),
			CacheSize: getEnvInt("POLL_CACHE_SIZE", 4096),
			RedisURL:  getEnv("REDIS_URL", ""),
		},
		Render: RenderConfig{
			LogoPath: getEnv("RENDER_LOGO_PATH", ""),
			Style:    getEnv("RENDER_STYLE", "monokai"),
		},
		VideoServiceURL:    getEnv("VIDEO_SERVICE_URL", ""),
		VideoTimeout:       getEnvDuration("VIDEO_TIMEOUT", 10*time.Minute),
		SupportedLanguages: languages,
		DefaultLanguage:    defaultLanguage,
		HealthPort:         getEnv("HEALTH_PORT", "8080"),
		HealthCheckEnabled: getEnvBool("HEALTH_CHECK_ENABLED", true),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogPath:            getEnv("LOG_PATH", ""),
		AppDataDir:         getEnv("APP_DATA_DIR", "./data"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Webhook.Retries < 1 {
		return fmt.Errorf("WEBHOOK_RETRIES must be at least 1")
	}

	if c.Webhook.PauseMax < c.Webhook.PauseMin {
		return fmt.Errorf("WEBHOOK_PAUSE_MAX must not be less than WEBHOOK_PAUSE_MIN")
	}

	if c.Publication.Workers < 1 {
		return fmt.Errorf("PUBLICATION_WORKERS must be at least 1")
	}

	if c.Publication.PauseMax < c.Publication.PauseMin {
		return fmt.Errorf("PUBLISH_PAUSE_MAX must not be less than PUBLISH_PAUSE_MIN")
	}

	if len(c.SupportedLanguages) == 0 {
		return fmt.Errorf("SUPPORTED_LANGUAGES must list at least one language")
	}

	if !c.IsSupportedLanguage(c.DefaultLanguage) {
		return fmt.Errorf("DEFAULT_LANGUAGE %q is not in SUPPORTED_LANGUAGES", c.DefaultLanguage)
	}

	if c.PollAnswers.Shards < 1 || c.PollAnswers.Shard < 0 || c.PollAnswers.Shard >= c.PollAnswers.Shards {
		return fmt.Errorf("POLL_CONSUMER_SHARD must be in [0, POLL_CONSUMER_SHARDS)")
	}

	if c.HealthCheckEnabled && c.HealthPort == "" {
		return fmt.Errorf("HEALTH_PORT is required when health check is enabled")
	}

	return nil
}

// ObjectStoreEnabled сообщает, настроено ли объектное хранилище
func (c *Config) ObjectStoreEnabled() bool {
	return c.ObjectStore.Bucket != ""
}

// IsSupportedLanguage проверяет, входит ли язык в список поддерживаемых
func (c *Config) IsSupportedLanguage(lang string) bool {
	for _, l := range c.SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// getEnv получает переменную окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает переменную окружения как int
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration получает переменную окружения как time.Duration
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvBool получает переменную окружения как bool
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvFloat получает переменную окружения как float64
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvList получает переменную окружения как список через запятую
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
