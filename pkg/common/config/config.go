package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers       []string
	KafkaGroupID       string
	DeliveryTopic      string
	LocationTopic      string

	// Token vault
	VaultKey string

	// OAuth
	OAuthCallbackBaseURL string
	SettingsRedirectURL  string
	OAuthStateTTL        time.Duration

	// Token lifecycle
	RefreshWindow   time.Duration
	RefreshLockTTL  time.Duration

	// Delivery cache
	CacheTTL             time.Duration
	SessionProxyCacheTTL time.Duration

	// Webhooks
	WebhookDedupeTTL     time.Duration
	WebhookRateLimitRPS  int
	WebhookRateLimitBurst int

	// Status tables
	StatusTablePath string

	// Outbound platform calls
	UpstreamTimeout time.Duration

	// API rate limiting
	RateLimitRPS   int
	RateLimitBurst int
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "doorstep"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "doorstep123"),
		PostgresDB:       getEnv("POSTGRES_DB", "doorstep"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:  getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:  getEnv("KAFKA_GROUP_ID", "doorstep-platform"),
		DeliveryTopic: getEnv("KAFKA_DELIVERY_TOPIC", "delivery-updates"),
		LocationTopic: getEnv("KAFKA_LOCATION_TOPIC", "location-updates"),

		VaultKey: getEnv("VAULT_KEY", ""),

		OAuthCallbackBaseURL: getEnv("OAUTH_CALLBACK_BASE_URL", "http://localhost:8080"),
		SettingsRedirectURL:  getEnv("SETTINGS_REDIRECT_URL", "http://localhost:3000/settings/connections"),
		OAuthStateTTL:        getDuration("OAUTH_STATE_TTL", 10*time.Minute),

		RefreshWindow:  getDuration("TOKEN_REFRESH_WINDOW", 5*time.Minute),
		RefreshLockTTL: getDuration("TOKEN_REFRESH_LOCK_TTL", 30*time.Second),

		CacheTTL:             getDuration("DELIVERY_CACHE_TTL", 90*time.Second),
		SessionProxyCacheTTL: getDuration("SESSION_PROXY_CACHE_TTL", 45*time.Second),

		WebhookDedupeTTL:      getDuration("WEBHOOK_DEDUPE_TTL", 24*time.Hour),
		WebhookRateLimitRPS:   getIntEnv("WEBHOOK_RATE_LIMIT_RPS", 20),
		WebhookRateLimitBurst: getIntEnv("WEBHOOK_RATE_LIMIT_BURST", 60),

		StatusTablePath: getEnv("STATUS_TABLE_PATH", ""),

		UpstreamTimeout: getDuration("UPSTREAM_TIMEOUT", 10*time.Second),

		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),
	}
}

// PlatformEnv reads a per-platform OAuth setting, e.g.
// PlatformEnv("doordash", "CLIENT_ID") -> DOORDASH_CLIENT_ID.
func PlatformEnv(platform, key string) string {
	return os.Getenv(strings.ToUpper(platform) + "_" + strings.ToUpper(key))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
