package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/La-R19/fiverecruit/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Billing       BillingConfig
	Entitlements  EntitlementsConfig
	Notifications NotificationsConfig
	Worker        WorkerConfig
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

	// CORSOrigins lists the dashboard origins allowed to call the API
	CORSOrigins []string
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	ConnectTimeout  time.Duration
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	AutoMigrate     bool
}

// RedisConfig holds the optional shared cache settings. An empty URL
// disables the L2 entitlement memo.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// Enabled reports whether a Redis URL was configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// BillingConfig holds price catalog settings
type BillingConfig struct {
	PremiumPriceID   string
	PriceCatalogPath string
}

// EntitlementsConfig holds entitlement memo settings
type EntitlementsConfig struct {
	CacheTTL             time.Duration
	CacheSize            int
	InvalidationChannel  string
	ListenerReconnectMax time.Duration
}

// NotificationsConfig holds outbound notification settings
type NotificationsConfig struct {
	DiscordEnabled bool
	PublicBaseURL  string
}

// WorkerConfig holds cron schedules for the background worker
type WorkerConfig struct {
	InvitePurgeSchedule string
	InvitePurgeGrace    time.Duration
	PlanGaugeSchedule   string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads an optional .env file and then reads configuration from
// environment variables. Variables already set in the environment win over
// the file.
func LoadConfig() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWorkerConfig is LoadConfig for processes that never verify bearer
// tokens (the worker and the operator CLI), so no JWT secret is required.
func LoadWorkerConfig() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(false); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func load() (*Config, error) {
	envFile := getEnv("FIVERECRUIT_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	return &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		Billing:       loadBillingConfig(),
		Entitlements:  loadEntitlementsConfig(),
		Notifications: loadNotificationsConfig(),
		Worker:        loadWorkerConfig(),
		Observability: loadObservabilityConfig(),
	}, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("FIVERECRUIT_HOST", "0.0.0.0"),
		Port:            getEnv("FIVERECRUIT_PORT", "8080"),
		ReadTimeout:     getEnvDuration("FIVERECRUIT_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("FIVERECRUIT_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("FIVERECRUIT_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("FIVERECRUIT_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("FIVERECRUIT_HEALTH_PORT", "9090"),
		CORSOrigins:     getEnvList("FIVERECRUIT_CORS_ORIGINS", []string{"http://localhost:3000"}),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("FIVERECRUIT_DATABASE_URL", ""),
		MaxConns:        getEnvInt("FIVERECRUIT_DATABASE_MAX_CONNS", 20),
		MinConns:        getEnvInt("FIVERECRUIT_DATABASE_MIN_CONNS", 2),
		ConnectTimeout:  getEnvDuration("FIVERECRUIT_DATABASE_CONNECT_TIMEOUT", 5*time.Second),
		ConnMaxLifetime: getEnvDuration("FIVERECRUIT_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		ConnMaxIdleTime: getEnvDuration("FIVERECRUIT_DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute),
		AutoMigrate:     getEnvBool("FIVERECRUIT_DATABASE_AUTO_MIGRATE", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("FIVERECRUIT_REDIS_URL", ""),
		Password: getEnv("FIVERECRUIT_REDIS_PASSWORD", ""),
		DB:       getEnvInt("FIVERECRUIT_REDIS_DB", 0),
		PoolSize: getEnvInt("FIVERECRUIT_REDIS_POOL_SIZE", 10),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret: getEnv("FIVERECRUIT_JWT_SECRET", ""),
		Issuer:    getEnv("FIVERECRUIT_JWT_ISSUER", ""),
		Audience:  getEnv("FIVERECRUIT_JWT_AUDIENCE", ""),
	}
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		PremiumPriceID:   getEnv("FIVERECRUIT_PREMIUM_PRICE_ID", ""),
		PriceCatalogPath: getEnv("FIVERECRUIT_PRICE_CATALOG", ""),
	}
}

func loadEntitlementsConfig() EntitlementsConfig {
	return EntitlementsConfig{
		CacheTTL:             getEnvDuration("FIVERECRUIT_ENTITLEMENT_CACHE_TTL", 60*time.Second),
		CacheSize:            getEnvInt("FIVERECRUIT_ENTITLEMENT_CACHE_SIZE", 10000),
		InvalidationChannel:  getEnv("FIVERECRUIT_ENTITLEMENT_CHANNEL", "entitlement_changed"),
		ListenerReconnectMax: getEnvDuration("FIVERECRUIT_ENTITLEMENT_LISTENER_BACKOFF", 30*time.Second),
	}
}

func loadNotificationsConfig() NotificationsConfig {
	return NotificationsConfig{
		DiscordEnabled: getEnvBool("FIVERECRUIT_DISCORD_NOTIFICATIONS", true),
		PublicBaseURL:  strings.TrimRight(getEnv("FIVERECRUIT_PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
	}
}

func loadWorkerConfig() WorkerConfig {
	return WorkerConfig{
		InvitePurgeSchedule: getEnv("FIVERECRUIT_WORKER_INVITE_PURGE", "0 * * * *"),
		InvitePurgeGrace:    getEnvDuration("FIVERECRUIT_WORKER_INVITE_GRACE", 24*time.Hour),
		PlanGaugeSchedule:   getEnv("FIVERECRUIT_WORKER_PLAN_GAUGES", "*/15 * * * *"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("FIVERECRUIT_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("FIVERECRUIT_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("FIVERECRUIT_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("FIVERECRUIT_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("FIVERECRUIT_OTEL_SERVICE_NAME", "fiverecruit"),
		OTelServiceVersion: getEnv("FIVERECRUIT_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("FIVERECRUIT_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("FIVERECRUIT_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return c.validate(true)
}

func (c *Config) validate(requireAuth bool) error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("database max conns must be at least 1")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database min conns (%d) exceeds max conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if requireAuth && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 bytes")
	}

	if c.Entitlements.CacheTTL <= 0 {
		return fmt.Errorf("entitlement cache TTL must be positive")
	}
	if c.Entitlements.CacheSize < 1 {
		return fmt.Errorf("entitlement cache size must be at least 1")
	}
	if c.Entitlements.InvalidationChannel == "" {
		return fmt.Errorf("entitlement invalidation channel is required")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default.
// Blank entries are dropped.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
