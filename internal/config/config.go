package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/zhejian/shorten/internal/ratelimit"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Queue         QueueConfig
	RateLimit     RateLimitConfig
	App           AppConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// CacheConfig holds the Redis caching layer configuration. TTL bounds the
// lifetime of cached slug lookups.
type CacheConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	TTL      time.Duration
}

// QueueConfig holds the RabbitMQ connection used by the audit publisher.
// When disabled, audit events go to the log only.
type QueueConfig struct {
	Enabled    bool
	Host       string
	Port       string
	User       string
	Password   string
	AuditQueue string
}

// RateLimitConfig holds the fixed-window limits per action. Rates are
// parsed from "<count>/<period>" strings at load time.
type RateLimitConfig struct {
	Enabled      bool
	ShortenShort ratelimit.Rate // per-client burst limit on link creation
	ShortenLong  ratelimit.Rate // per-client sustained limit on link creation
	Redirect     ratelimit.Rate // per-client limit on redirects
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	BaseURL        string // Base URL for generating short links
	RecentLimit    int    // links shown on the index page
	MaxURLLength   int
	MinSlugLength  int
	MaxSlugLength  int
	BlockedDomains []string // overrides the built-in suspicious-domain list
}

// ObservabilityConfig holds telemetry configuration
type ObservabilityConfig struct {
	ServiceName  string
	Environment  string
	OTLPEndpoint string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	_ = godotenv.Load()

	rateShortenShort, err := ratelimit.ParseRate(getEnv("RATE_LIMIT_SHORTEN_SHORT", "10/m"))
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_SHORTEN_SHORT: %w", err)
	}
	rateShortenLong, err := ratelimit.ParseRate(getEnv("RATE_LIMIT_SHORTEN_LONG", "100/h"))
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_SHORTEN_LONG: %w", err)
	}
	rateRedirect, err := ratelimit.ParseRate(getEnv("RATE_LIMIT_REDIRECT", "100/m"))
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_REDIRECT: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "zhejian"),
			Password: getEnv("DB_PASSWORD", "zhejian_secret"),
			DBName:   getEnv("DB_NAME", "shorten"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Cache: CacheConfig{
			Host:     getEnv("RDB_HOST", "localhost"),
			Port:     getEnv("RDB_PORT", "6379"),
			Password: getEnv("RDB_PASSWORD", "zhejian"),
			TTL:      time.Duration(getEnvInt("CACHE_TTL_SECONDS", 3600)) * time.Second,
		},
		Queue: QueueConfig{
			Enabled:    getEnvBool("MQ_ENABLED", false),
			Host:       getEnv("MQ_HOST", "localhost"),
			Port:       getEnv("MQ_PORT", "5672"),
			User:       getEnv("MQ_USER", "guest"),
			Password:   getEnv("MQ_PASSWORD", "guest"),
			AuditQueue: getEnv("MQ_AUDIT_QUEUE", "audit_events"),
		},
		RateLimit: RateLimitConfig{
			Enabled:      getEnvBool("RATE_LIMIT_ENABLED", true),
			ShortenShort: rateShortenShort,
			ShortenLong:  rateShortenLong,
			Redirect:     rateRedirect,
		},
		App: AppConfig{
			BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
			RecentLimit:    getEnvInt("RECENT_LINKS_LIMIT", 10),
			MaxURLLength:   getEnvInt("MAX_URL_LENGTH", 2048),
			MinSlugLength:  getEnvInt("MIN_SLUG_LENGTH", 3),
			MaxSlugLength:  getEnvInt("MAX_SLUG_LENGTH", 10),
			BlockedDomains: getEnvList("BLOCKED_DOMAINS"),
		},
		Observability: ObservabilityConfig{
			ServiceName:  getEnv("SERVICE_NAME", "shorten"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),
		},
	}, nil
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// ConnectionString returns the Redis connection string
func (c *CacheConfig) ConnectionString() string {
	return fmt.Sprintf("redis://%s:%s@%s:%s/0", c.User, c.Password, c.Host, c.Port)
}

// ConnectionString returns the AMQP connection string
func (q *QueueConfig) ConnectionString() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", q.User, q.Password, q.Host, q.Port)
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvList splits a comma-separated variable, dropping empty entries.
// A missing variable yields nil so callers can fall back to their defaults.
func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
