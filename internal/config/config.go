package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the environment-driven infrastructure settings: where the
// orchestrator's dependencies live and how to reach them. Behavioral
// settings (tier policies, auth, streaming) live in humboldt.yaml and
// hot-reload through the ConfigManager instead.
type Config struct {
	Environment string
	LogLevel    string

	HTTPPort   int
	AdminPort  int
	ConfigDir  string

	// DatabaseURL is the report store DSN; empty disables persistence.
	DatabaseURL string

	Postgres PostgresConfig
	Redis    RedisConfig
	Temporal TemporalConfig
	LLM      LLMServiceConfig
	Metrics  MetricsConfig
	Tracing  TracingConfig
}

// PostgresConfig holds report store connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnectionString builds a lib/pq DSN.
func (p PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// RedisConfig holds event mirror connection settings.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port for the go-redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// TemporalConfig holds workflow engine connection settings.
type TemporalConfig struct {
	Host      string
	Namespace string
	TaskQueue string
}

// LLMServiceConfig holds model service connection settings.
type LLMServiceConfig struct {
	BaseURL        string
	TimeoutSeconds int
}

// MetricsConfig holds the Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds OTLP exporter settings.
type TracingConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
}

// Load reads configuration from environment variables with defaults that
// match the docker-compose topology.
func Load() *Config {
	cfg := &Config{
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort:    getEnvInt("HTTP_PORT", 8081),
		AdminPort:   getEnvInt("ADMIN_PORT", 8081),
		ConfigDir:   getEnvOrDefault("CONFIG_DIR", "/app/config"),
		Postgres: PostgresConfig{
			Host:     getEnvOrDefault("POSTGRES_HOST", "postgres"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnvOrDefault("POSTGRES_USER", "humboldt"),
			Password: getEnvOrDefault("POSTGRES_PASSWORD", "humboldt"),
			Database: getEnvOrDefault("POSTGRES_DB", "humboldt"),
			SSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnvOrDefault("REDIS_HOST", "redis"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Temporal: TemporalConfig{
			Host:      getEnvOrDefault("TEMPORAL_HOST", "temporal:7233"),
			Namespace: getEnvOrDefault("TEMPORAL_NAMESPACE", "default"),
			TaskQueue: getEnvOrDefault("TEMPORAL_TASK_QUEUE", "humboldt-research"),
		},
		LLM: LLMServiceConfig{
			BaseURL:        getEnvOrDefault("LLM_SERVICE_URL", "http://llm-service:8000"),
			TimeoutSeconds: getEnvInt("LLM_TIMEOUT_SECONDS", 60),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("ENABLE_METRICS", true),
			Port:    getEnvInt("METRICS_PORT", 2112),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("ENABLE_TRACING", false),
			ServiceName:  getEnvOrDefault("TRACING_SERVICE_NAME", "humboldt-orchestrator"),
			OTLPEndpoint: getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		},
	}

	// Persistence is opt-in: DATABASE_URL wins, an explicit POSTGRES_HOST
	// builds the DSN from the parts, anything else leaves the store off.
	cfg.DatabaseURL = getEnvOrDefault("DATABASE_URL", "")
	if cfg.DatabaseURL == "" {
		if _, ok := os.LookupEnv("POSTGRES_HOST"); ok {
			cfg.DatabaseURL = cfg.Postgres.ConnectionString()
		}
	}

	return cfg
}

// Validate checks the loaded configuration for values that would fail at
// dial time anyway; failing here gives a clearer startup error.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.Postgres.Host != "" && (c.Postgres.Port < 1 || c.Postgres.Port > 65535) {
		return fmt.Errorf("postgres port must be between 1 and 65535, got %d", c.Postgres.Port)
	}
	if c.Redis.Host != "" && (c.Redis.Port < 1 || c.Redis.Port > 65535) {
		return fmt.Errorf("redis port must be between 1 and 65535, got %d", c.Redis.Port)
	}
	if c.Temporal.Host == "" {
		return fmt.Errorf("temporal host cannot be empty")
	}
	if c.Temporal.TaskQueue == "" {
		return fmt.Errorf("temporal task queue cannot be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
