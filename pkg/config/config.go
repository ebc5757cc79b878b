package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/platinummonkey/accesscore/pkg/access"
	"github.com/platinummonkey/accesscore/pkg/middleware"
	"github.com/platinummonkey/accesscore/pkg/oauth"
	"github.com/platinummonkey/accesscore/pkg/observability"
	"github.com/platinummonkey/accesscore/pkg/storage"
	"github.com/sirupsen/logrus"
)

const envPrefix = "ACCESSCORE_"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// OAuth grant lifetimes and client registry caching
	OAuth OAuthConfig

	// Access decision settings
	Access AccessConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// Token endpoint rate limit per client IP
	TokenRateLimit  int
	TokenRateWindow time.Duration
	// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For is believed
	TrustedProxies []string
}

// OAuthConfig holds the OAuth engine settings
type OAuthConfig struct {
	oauth.Config

	ClientCacheSize int
	ClientCacheTTL  time.Duration
}

// AccessConfig holds access decision settings
type AccessConfig struct {
	PrivateCacheTTL time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel logrus.Level

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTel observability.OTelConfig
}

// LoadConfig loads configuration from environment variables. A .env file in
// the working directory is read first when present; real environment
// variables take precedence over it.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		OAuth:         loadOAuthConfig(),
		Access:        loadAccessConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "8080"),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("HEALTH_PORT", "9090"),
		TokenRateLimit:  getEnvInt("TOKEN_RATE_LIMIT", 60),
		TokenRateWindow: getEnvDuration("TOKEN_RATE_WINDOW", time.Minute),
		TrustedProxies:  splitList(getEnv("TRUSTED_PROXIES", "")),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	cfg.PostgresURL = getEnv("POSTGRES_URL", cfg.PostgresURL)
	if replicaURLs := getEnv("POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = splitList(replicaURLs)
	}
	if maxConns := getEnvInt("POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	cfg.PostgresTimeout = getEnvDuration("POSTGRES_TIMEOUT", cfg.PostgresTimeout)

	// Redis config
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}
	cfg.KeyPrefix = getEnv("KEY_PREFIX", cfg.KeyPrefix)

	return cfg
}

// loadOAuthConfig loads grant lifetimes from environment
func loadOAuthConfig() OAuthConfig {
	defaults := oauth.DefaultConfig()
	return OAuthConfig{
		Config: oauth.Config{
			AccessTokenTTL:     getEnvDuration("ACCESS_TOKEN_TTL", defaults.AccessTokenTTL),
			RefreshTokenTTL:    getEnvDuration("REFRESH_TOKEN_TTL", defaults.RefreshTokenTTL),
			CodeTTL:            getEnvDuration("CODE_TTL", defaults.CodeTTL),
			IssueRefreshTokens: getEnvBool("ISSUE_REFRESH_TOKENS", defaults.IssueRefreshTokens),
		},
		ClientCacheSize: getEnvInt("CLIENT_CACHE_SIZE", 1000),
		ClientCacheTTL:  getEnvDuration("CLIENT_CACHE_TTL", 5*time.Minute),
	}
}

// loadAccessConfig loads access decision settings from environment
func loadAccessConfig() AccessConfig {
	return AccessConfig{
		PrivateCacheTTL: getEnvDuration("PRIVATE_CACHE_TTL", access.DefaultPrivateCacheTTL),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLevel(getEnv("LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		OTel: observability.OTelConfig{
			Enabled:        getEnvBool("OTEL_ENABLED", false),
			Endpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "accesscore"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Insecure:       getEnvBool("OTEL_INSECURE", true),
			SampleRatio:    getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.TokenRateLimit <= 0 || c.Server.TokenRateWindow <= 0 {
		return fmt.Errorf("token rate limit and window must be positive")
	}
	if _, err := middleware.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return err
	}

	// Validate storage config
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}

	// Validate lifetimes
	if c.OAuth.AccessTokenTTL <= 0 || c.OAuth.RefreshTokenTTL <= 0 || c.OAuth.CodeTTL <= 0 {
		return fmt.Errorf("token and code lifetimes must be positive")
	}
	if c.Access.PrivateCacheTTL <= 0 {
		return fmt.Errorf("private cache TTL must be positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTel.Enabled {
		if c.Observability.OTel.Endpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTel.ServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Addr returns the API listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// HealthAddr returns the health/metrics listen address
func (s ServerConfig) HealthAddr() string {
	return s.Host + ":" + s.HealthPort
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns a prefixed environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(envPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
