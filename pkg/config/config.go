package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Integrations IntegrationsConfig
	Webhooks     WebhooksConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// IntegrationsConfig governs the provider framework.
type IntegrationsConfig struct {
	ProductName      string
	EncryptionSecret string
	StatsCacheTTL    time.Duration
	LMSBaseURL       string
	LMSTimeout       time.Duration
	LMSRateLimit     int
	LMSRateWindow    time.Duration
}

// WebhooksConfig holds outbound delivery defaults and retry-worker tuning.
type WebhooksConfig struct {
	DefaultTimeout       time.Duration
	DefaultRetryAttempts int
	DefaultRetryDelay    time.Duration
	RetryPollInterval    time.Duration
	WorkerConcurrency    int
	RateLimit            int
	RateWindow           time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Integrations = IntegrationsConfig{
		ProductName:      v.GetString("INTEGRATIONS_PRODUCT_NAME"),
		EncryptionSecret: v.GetString("INTEGRATIONS_ENCRYPTION_SECRET"),
		StatsCacheTTL:    parseDuration(v.GetString("INTEGRATIONS_STATS_CACHE_TTL"), time.Minute),
		LMSBaseURL:       v.GetString("LMS_API_BASE_URL"),
		LMSTimeout:       parseDuration(v.GetString("LMS_API_TIMEOUT"), 30*time.Second),
		LMSRateLimit:     v.GetInt("LMS_RATE_LIMIT"),
		LMSRateWindow:    parseDuration(v.GetString("LMS_RATE_WINDOW"), time.Minute),
	}

	cfg.Webhooks = WebhooksConfig{
		DefaultTimeout:       parseDuration(v.GetString("WEBHOOK_DEFAULT_TIMEOUT"), 30*time.Second),
		DefaultRetryAttempts: v.GetInt("WEBHOOK_DEFAULT_RETRY_ATTEMPTS"),
		DefaultRetryDelay:    parseDuration(v.GetString("WEBHOOK_DEFAULT_RETRY_DELAY"), 5*time.Second),
		RetryPollInterval:    parseDuration(v.GetString("WEBHOOK_RETRY_POLL_INTERVAL"), 5*time.Second),
		WorkerConcurrency:    v.GetInt("WEBHOOK_WORKER_CONCURRENCY"),
		RateLimit:            v.GetInt("WEBHOOK_RATE_LIMIT"),
		RateWindow:           parseDuration(v.GetString("WEBHOOK_RATE_WINDOW"), time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "exam_forge_integrations")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("INTEGRATIONS_PRODUCT_NAME", "ExamForge")
	v.SetDefault("INTEGRATIONS_ENCRYPTION_SECRET", "dev_integrations_secret")
	v.SetDefault("INTEGRATIONS_STATS_CACHE_TTL", "1m")
	v.SetDefault("LMS_API_BASE_URL", "https://classroom.googleapis.com/v1")
	v.SetDefault("LMS_API_TIMEOUT", "30s")
	v.SetDefault("LMS_RATE_LIMIT", 60)
	v.SetDefault("LMS_RATE_WINDOW", "1m")

	v.SetDefault("WEBHOOK_DEFAULT_TIMEOUT", "30s")
	v.SetDefault("WEBHOOK_DEFAULT_RETRY_ATTEMPTS", 3)
	v.SetDefault("WEBHOOK_DEFAULT_RETRY_DELAY", "5s")
	v.SetDefault("WEBHOOK_RETRY_POLL_INTERVAL", "5s")
	v.SetDefault("WEBHOOK_WORKER_CONCURRENCY", 2)
	v.SetDefault("WEBHOOK_RATE_LIMIT", 120)
	v.SetDefault("WEBHOOK_RATE_WINDOW", "1m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
