package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Redis         RedisConfig         `json:"redis"`
	Logging       LoggingConfig       `json:"logging"`
	Metrics       MetricsConfig       `json:"metrics"`
	Tracing       TracingConfig       `json:"tracing"`
	Recovery      RecoveryConfig      `json:"recovery"`
	AI            AIConfig            `json:"ai"`
	Auth          AuthConfig          `json:"auth"`
	Notifications NotificationsConfig `json:"notifications"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// DatabaseConfig contains the error-record archive connection settings.
// The archive is disabled when Host is empty.
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig contains Redis connection configuration.
// The classification cache falls back to memory when Host is empty.
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// MetricsConfig contains Prometheus configuration
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
	Environment    string  `json:"environment"`
}

// RecoveryConfig tunes the recovery pipeline and its background sweeps
type RecoveryConfig struct {
	BreakerThreshold          int           `json:"breaker_threshold"`
	BreakerTimeout            time.Duration `json:"breaker_timeout"`
	PatternSweepInterval      time.Duration `json:"pattern_sweep_interval"`
	BreakerSweepInterval      time.Duration `json:"breaker_sweep_interval"`
	OptimizationSweepInterval time.Duration `json:"optimization_sweep_interval"`
	RetentionMaxAge           time.Duration `json:"retention_max_age"`
	RetentionMaxRecords       int           `json:"retention_max_records"`
	SimulatedSuccessRate      float64       `json:"simulated_success_rate"`
	EventBuffer               int           `json:"event_buffer"`
}

// AIConfig configures the optional text-completion advisor
type AIConfig struct {
	Enabled           bool          `json:"enabled"`
	APIKey            string        `json:"-"`
	BaseURL           string        `json:"base_url"`
	Model             string        `json:"model"`
	Timeout           time.Duration `json:"timeout"`
	ClassificationTTL time.Duration `json:"classification_ttl"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	Burst             int           `json:"burst"`
}

// AuthConfig protects the administrative API endpoints
type AuthConfig struct {
	JWTSecret string `json:"-"`
}

// NotificationsConfig configures alert fan-out
type NotificationsConfig struct {
	SlackWebhookURL string `json:"-"`
	SlackChannel    string `json:"slack_channel"`
	SlackUsername   string `json:"slack_username"`
	MinSeverity     string `json:"min_severity"`
}

// Load loads configuration from environment variables with sensible defaults.
// A .env file in the working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:           getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 2*time.Minute),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			AllowedOrigins: getEnvList("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", ""),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "recovery"),
			User:            getEnvString("DB_USER", "recovery"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", ""),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("METRICS_ENABLED", true),
			Namespace: getEnvString("METRICS_NAMESPACE", "recovery"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
			Environment:    getEnvString("ENVIRONMENT", "development"),
		},
		Recovery: RecoveryConfig{
			BreakerThreshold:          getEnvInt("RECOVERY_BREAKER_THRESHOLD", 5),
			BreakerTimeout:            getEnvDuration("RECOVERY_BREAKER_TIMEOUT", 60*time.Second),
			PatternSweepInterval:      getEnvDuration("RECOVERY_PATTERN_SWEEP_INTERVAL", 5*time.Minute),
			BreakerSweepInterval:      getEnvDuration("RECOVERY_BREAKER_SWEEP_INTERVAL", time.Minute),
			OptimizationSweepInterval: getEnvDuration("RECOVERY_OPTIMIZATION_SWEEP_INTERVAL", 30*time.Minute),
			RetentionMaxAge:           getEnvDuration("RECOVERY_RETENTION_MAX_AGE", 24*time.Hour),
			RetentionMaxRecords:       getEnvInt("RECOVERY_RETENTION_MAX_RECORDS", 10000),
			SimulatedSuccessRate:      getEnvFloat("RECOVERY_SIMULATED_SUCCESS_RATE", 0.7),
			EventBuffer:               getEnvInt("RECOVERY_EVENT_BUFFER", 256),
		},
		AI: AIConfig{
			Enabled:           getEnvBool("AI_ENABLED", false),
			APIKey:            getEnvString("OPENAI_API_KEY", ""),
			BaseURL:           getEnvString("OPENAI_BASE_URL", ""),
			Model:             getEnvString("OPENAI_MODEL", "gpt-4o-mini"),
			Timeout:           getEnvDuration("AI_TIMEOUT", 5*time.Second),
			ClassificationTTL: getEnvDuration("AI_CLASSIFICATION_TTL", time.Hour),
			RequestsPerSecond: getEnvFloat("AI_REQUESTS_PER_SECOND", 2),
			Burst:             getEnvInt("AI_BURST", 4),
		},
		Auth: AuthConfig{
			JWTSecret: getEnvString("AUTH_JWT_SECRET", ""),
		},
		Notifications: NotificationsConfig{
			SlackWebhookURL: getEnvString("NOTIFY_SLACK_WEBHOOK_URL", ""),
			SlackChannel:    getEnvString("NOTIFY_SLACK_CHANNEL", ""),
			SlackUsername:   getEnvString("NOTIFY_SLACK_USERNAME", "recovery-orchestrator"),
			MinSeverity:     getEnvString("NOTIFY_MIN_SEVERITY", "high"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d is out of range", c.Server.Port)
	}

	if c.Recovery.BreakerThreshold <= 0 {
		return fmt.Errorf("breaker threshold must be positive")
	}

	if c.Recovery.BreakerTimeout <= 0 {
		return fmt.Errorf("breaker timeout must be positive")
	}

	if c.Recovery.SimulatedSuccessRate < 0 || c.Recovery.SimulatedSuccessRate > 1 {
		return fmt.Errorf("simulated success rate must be within [0,1]")
	}

	if c.Recovery.EventBuffer <= 0 {
		return fmt.Errorf("event buffer must be positive")
	}

	if c.AI.Enabled && c.AI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI is enabled")
	}

	switch c.Notifications.MinSeverity {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("notification severity %q is not one of low, medium, high, critical", c.Notifications.MinSeverity)
	}

	if c.Database.Host != "" && c.Database.Password == "" {
		return fmt.Errorf("database password is required when the archive is enabled")
	}

	return nil
}

// DatabaseURL returns the database connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisAddr returns the host:port address of Redis
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// ServerAddr returns the HTTP listen address
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
