package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToml = `
[development]
environment = "development"
port = 9001
log_level = "debug"
api_base_url = "http://localhost:9000/api/auth/"
api_timeout = "3s"
storage_backend = "memory"

[production]
environment = "production"
api_base_url = "https://gym.example.com/api/auth"
register_mode = "remote"
storage_backend = "redis"
redis_host = "redis"
redis_port = "6379"
allowed_origins = ["https://gym.example.com", "https://www.gym.example.com"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, testToml)

	cfg, err := Load("dev", path)
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://localhost:9000/api/auth", cfg.ApiBaseURL)
	assert.Equal(t, 3*time.Second, cfg.ApiTimeout)
	assert.Equal(t, RegisterModeLocal, cfg.RegisterMode)
	assert.Equal(t, StorageMemory, cfg.StorageBackend)
	assert.Equal(t, 15, cfg.LoginRateLimitPerMin)
	assert.Equal(t, "2112", cfg.PrometheusMetricsPort)
	assert.False(t, cfg.RedisEnabled())

	cfg, err = Load("production", path)
	require.NoError(t, err)
	assert.Equal(t, RegisterModeRemote, cfg.RegisterMode)
	assert.Equal(t, StorageRedis, cfg.StorageBackend)
	assert.Equal(t, time.Duration(0), cfg.ApiTimeout)
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, []string{"https://gym.example.com", "https://www.gym.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("dev", "/invalid/path/config.toml")
	require.Error(t, err)

	path := writeConfig(t, testToml)
	_, err = Load("staging", path)
	require.EqualError(t, err, "unknown env: staging")

	for name, content := range map[string]string{
		"missing api url":     "[development]\nstorage_backend = \"memory\"\n",
		"bad timeout":         "[development]\napi_base_url = \"http://x\"\napi_timeout = \"soon\"\nstorage_backend = \"memory\"\n",
		"bad register mode":   "[development]\napi_base_url = \"http://x\"\nregister_mode = \"magic\"\nstorage_backend = \"memory\"\n",
		"file without path":   "[development]\napi_base_url = \"http://x\"\nstorage_backend = \"file\"\n",
		"redis without host":  "[development]\napi_base_url = \"http://x\"\nstorage_backend = \"redis\"\n",
		"postgres without db": "[development]\napi_base_url = \"http://x\"\nstorage_backend = \"postgres\"\npostgres_host = \"db\"\npostgres_port = \"5432\"\n",
		"unknown storage":     "[development]\napi_base_url = \"http://x\"\nstorage_backend = \"etcd\"\n",
		"missing section":     "[production]\napi_base_url = \"http://x\"\n",
		"negative rate limit": "[development]\napi_base_url = \"http://x\"\nstorage_backend = \"memory\"\nlogin_rate_limit_per_min = -5\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load("development", writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadSecrets(t *testing.T) {
	t.Setenv("GYMWEB_REDIS_PASS", "redis-pass")
	t.Setenv("SENTRY_DSN", "https://key@sentry.example.com/1")
	t.Setenv("HONEYCOMB_ENABLED", "true")

	secrets, err := LoadSecrets()
	require.NoError(t, err)
	assert.Equal(t, "redis-pass", secrets.RedisPassword)
	assert.Equal(t, "https://key@sentry.example.com/1", secrets.SentryDSN)
	assert.True(t, secrets.HoneycombEnabled)
	assert.Equal(t, "gymweb", secrets.OtelServiceName)
	assert.Empty(t, secrets.PostgresPassword)
}
