package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Token cache modes.
const (
	TokenCacheNone   = "none"
	TokenCacheMemory = "memory"
	TokenCacheRedis  = "redis"
)

// Config holds dispatch service configuration loaded from the environment.
type Config struct {
	AppName  string
	LogLevel string
	LogJSON  bool
	HTTPPort string

	ServiceAccountJSON string
	ServiceAccountFile string
	TokenURL           string
	Scope              string
	FCMBaseURL         string

	ProviderTimeout time.Duration
	RequestTimeout  time.Duration
	MaxConcurrency  int

	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration

	TokenCache     string
	TokenCacheSkew time.Duration
	RedisURL       string

	DatabaseURL string
	StatusTable string

	RabbitURL       string
	PushQueue       string
	DeadLetterQueue string
	PrefetchCount   int
	WorkerCount     int
	MaxDeliveries   int
}

// Load reads an optional .env file (or the given files) and then the process
// environment, and validates the result.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	cfg := &Config{
		AppName:             getEnv("APP_NAME", "push_dispatch"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogJSON:             getEnvAsBool("LOG_JSON", false),
		HTTPPort:            getEnv("HTTP_PORT", "8082"),
		ServiceAccountJSON:  getEnv("FIREBASE_SERVICE_ACCOUNT", ""),
		ServiceAccountFile:  getEnv("FIREBASE_SERVICE_ACCOUNT_FILE", ""),
		TokenURL:            getEnv("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		Scope:               getEnv("FCM_SCOPE", "https://www.googleapis.com/auth/firebase.messaging"),
		FCMBaseURL:          getEnv("FCM_BASE_URL", "https://fcm.googleapis.com"),
		ProviderTimeout:     getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
		RequestTimeout:      getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		MaxConcurrency:      getEnvAsInt("MAX_CONCURRENCY", 0),
		RetryMaxAttempts:    getEnvAsInt("RETRY_MAX_ATTEMPTS", 1),
		RetryInitialBackoff: getEnvAsDuration("RETRY_INITIAL_BACKOFF", time.Second),
		RetryMaxBackoff:     getEnvAsDuration("RETRY_MAX_BACKOFF", 15*time.Second),
		TokenCache:          strings.ToLower(getEnv("TOKEN_CACHE", TokenCacheNone)),
		TokenCacheSkew:      getEnvAsDuration("TOKEN_CACHE_SKEW", time.Minute),
		RedisURL:            getEnv("REDIS_URL", ""),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		StatusTable:         getEnv("STATUS_TABLE", "dispatch_statuses"),
		RabbitURL:           getEnv("RABBITMQ_URL", ""),
		PushQueue:           getEnv("PUSH_QUEUE", "push.queue"),
		DeadLetterQueue:     getEnv("PUSH_DLQ", "failed.queue"),
		PrefetchCount:       getEnvAsInt("PUSH_PREFETCH", 100),
		WorkerCount:         getEnvAsInt("WORKER_COUNT", 5),
		MaxDeliveries:       getEnvAsInt("PUSH_MAX_DELIVERIES", 5),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.ServiceAccountJSON == "" && c.ServiceAccountFile == "" {
		missing = append(missing, "FIREBASE_SERVICE_ACCOUNT")
	}
	if c.TokenCache == TokenCacheRedis && c.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	switch c.TokenCache {
	case TokenCacheNone, TokenCacheMemory, TokenCacheRedis:
	default:
		return fmt.Errorf("invalid TOKEN_CACHE %q: want none, memory or redis", c.TokenCache)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

func getEnv(key, def string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return value
}

func getEnvAsInt(key string, def int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid int for %s, using default %d: %v", key, def, err)
			return def
		}
		return i
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("invalid bool for %s, using default %t: %v", key, def, err)
			return def
		}
		return b
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			log.Printf("invalid duration for %s, using default %s: %v", key, def, err)
			return def
		}
		return d
	}
	return def
}
