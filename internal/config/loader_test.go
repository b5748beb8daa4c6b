package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetenv clears a variable for the test and restores it afterwards,
// covering what t.Setenv cannot express.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	if old, ok := os.LookupEnv(key); ok {
		t.Cleanup(func() { os.Setenv(key, old) })
	}
	os.Unsetenv(key)
}

func TestLoadConfig(t *testing.T) {
	t.Run("default configuration", func(t *testing.T) {
		cfg := Load()
		require.NotNil(t, cfg)

		assert.NotEmpty(t, cfg.LogLevel)
		assert.NotEmpty(t, cfg.Environment)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("environment variable override", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "debug")

		cfg := Load()
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("postgres configuration", func(t *testing.T) {
		t.Setenv("POSTGRES_HOST", "testhost")
		t.Setenv("POSTGRES_PORT", "54321")
		t.Setenv("POSTGRES_USER", "testuser")
		t.Setenv("POSTGRES_PASSWORD", "testpass")
		t.Setenv("POSTGRES_DB", "testdb")

		cfg := Load()
		assert.Equal(t, "testhost", cfg.Postgres.Host)
		assert.Equal(t, 54321, cfg.Postgres.Port)
		assert.Equal(t, "testuser", cfg.Postgres.User)
		assert.Equal(t, "testpass", cfg.Postgres.Password)
		assert.Equal(t, "testdb", cfg.Postgres.Database)
	})

	t.Run("redis configuration", func(t *testing.T) {
		t.Setenv("REDIS_HOST", "redis-test")
		t.Setenv("REDIS_PORT", "6380")

		cfg := Load()
		assert.Equal(t, "redis-test", cfg.Redis.Host)
		assert.Equal(t, 6380, cfg.Redis.Port)
		assert.Equal(t, "redis-test:6380", cfg.Redis.Addr())
	})

	t.Run("temporal configuration", func(t *testing.T) {
		t.Setenv("TEMPORAL_HOST", "temporal:7234")
		t.Setenv("TEMPORAL_NAMESPACE", "test-namespace")

		cfg := Load()
		assert.Equal(t, "temporal:7234", cfg.Temporal.Host)
		assert.Equal(t, "test-namespace", cfg.Temporal.Namespace)
		assert.Equal(t, "humboldt-research", cfg.Temporal.TaskQueue)
	})

	t.Run("llm service configuration", func(t *testing.T) {
		t.Setenv("LLM_SERVICE_URL", "http://localhost:9000")
		t.Setenv("LLM_TIMEOUT_SECONDS", "120")

		cfg := Load()
		assert.Equal(t, "http://localhost:9000", cfg.LLM.BaseURL)
		assert.Equal(t, 120, cfg.LLM.TimeoutSeconds)
	})

	t.Run("database url wins over parts", func(t *testing.T) {
		t.Setenv("POSTGRES_HOST", "parts-host")
		t.Setenv("DATABASE_URL", "postgres://u:p@elsewhere:5432/reports")

		cfg := Load()
		assert.Equal(t, "postgres://u:p@elsewhere:5432/reports", cfg.DatabaseURL)
	})

	t.Run("explicit postgres host opts in to persistence", func(t *testing.T) {
		unsetenv(t, "DATABASE_URL")
		t.Setenv("POSTGRES_HOST", "parts-host")

		cfg := Load()
		assert.Contains(t, cfg.DatabaseURL, "host=parts-host")
	})

	t.Run("persistence disabled without database env", func(t *testing.T) {
		unsetenv(t, "DATABASE_URL")
		unsetenv(t, "POSTGRES_HOST")

		cfg := Load()
		assert.Empty(t, cfg.DatabaseURL)
	})
}

func TestConfigValidation(t *testing.T) {
	t.Run("valid configuration", func(t *testing.T) {
		cfg := Load()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := Load()
		cfg.LogLevel = "verbose"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "log level")
	})

	t.Run("invalid http port", func(t *testing.T) {
		cfg := Load()
		cfg.HTTPPort = 0

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http port")
	})

	t.Run("empty temporal task queue", func(t *testing.T) {
		cfg := Load()
		cfg.Temporal.TaskQueue = ""

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "task queue")
	})

	t.Run("invalid postgres port", func(t *testing.T) {
		cfg := Load()
		cfg.Postgres.Port = 99999

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "postgres port")
	})
}

func TestConnectionString(t *testing.T) {
	p := PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	connStr := p.ConnectionString()
	require.NotEmpty(t, connStr)

	assert.Contains(t, connStr, "host=localhost")
	assert.Contains(t, connStr, "port=5432")
	assert.Contains(t, connStr, "user=testuser")
	assert.Contains(t, connStr, "dbname=testdb")
	assert.Contains(t, connStr, "sslmode=disable")
}

func TestFeatureFlags(t *testing.T) {
	t.Run("enable features via environment", func(t *testing.T) {
		t.Setenv("ENABLE_METRICS", "true")
		t.Setenv("ENABLE_TRACING", "true")

		cfg := Load()
		assert.True(t, cfg.Metrics.Enabled)
		assert.True(t, cfg.Tracing.Enabled)
	})

	t.Run("disable features", func(t *testing.T) {
		t.Setenv("ENABLE_METRICS", "false")

		cfg := Load()
		assert.False(t, cfg.Metrics.Enabled)
	})
}

func TestGetEnvHelpers(t *testing.T) {
	t.Run("string variable exists", func(t *testing.T) {
		t.Setenv("TEST_VAR", "test_value")

		assert.Equal(t, "test_value", getEnvOrDefault("TEST_VAR", "default"))
	})

	t.Run("string variable missing uses default", func(t *testing.T) {
		assert.Equal(t, "default_value", getEnvOrDefault("NONEXISTENT_VAR", "default_value"))
	})

	t.Run("string variable empty but set", func(t *testing.T) {
		t.Setenv("EMPTY_VAR", "")

		// Empty string is valid, should not use default
		assert.Equal(t, "", getEnvOrDefault("EMPTY_VAR", "default"))
	})

	t.Run("int variable", func(t *testing.T) {
		t.Setenv("TEST_INT", "42")

		assert.Equal(t, 42, getEnvInt("TEST_INT", 7))
	})

	t.Run("int variable unparseable uses default", func(t *testing.T) {
		t.Setenv("TEST_INT", "forty-two")

		assert.Equal(t, 7, getEnvInt("TEST_INT", 7))
	})

	t.Run("bool variable", func(t *testing.T) {
		t.Setenv("TEST_BOOL", "true")

		assert.True(t, getEnvBool("TEST_BOOL", false))
	})

	t.Run("bool variable unparseable uses default", func(t *testing.T) {
		t.Setenv("TEST_BOOL", "yes please")

		assert.True(t, getEnvBool("TEST_BOOL", true))
	})
}
