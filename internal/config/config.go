package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"

	RegisterModeLocal  = "local"
	RegisterModeRemote = "remote"
)

type Config struct {
	Environment string
	Host        string
	Port        int

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`
	SentryEnabled bool   `toml:"sentry_enabled"`

	// metrics
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`

	// backend api
	ApiBaseURL         string        `toml:"api_base_url"`
	ApiTimeoutRaw      string        `toml:"api_timeout"`
	ApiTimeout         time.Duration `toml:"-"`
	RegisterMode       string        `toml:"register_mode"`
	DetachAuthRequests bool          `toml:"detach_auth_requests"`

	// persistent store
	StorageBackend   string `toml:"storage_backend"`
	StorageFilePath  string `toml:"storage_file_path"`
	StorageKeyPrefix string `toml:"storage_key_prefix"`

	// redis
	RedisHost string `toml:"redis_host"`
	RedisPort string `toml:"redis_port"`

	// postgres
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`
	PostgresUser   string `toml:"postgres_user"`

	LoginRateLimitPerMin int      `toml:"login_rate_limit_per_min"`
	AllowedOrigins       []string `toml:"allowed_origins"`
}

// Secrets are never read from the TOML file.
type Secrets struct {
	RedisPassword    string `env:"GYMWEB_REDIS_PASS"`
	PostgresPassword string `env:"GYMWEB_POSTGRES_PASS"`
	SentryDSN        string `env:"SENTRY_DSN"`
	HoneycombEnabled bool   `env:"HONEYCOMB_ENABLED" envDefault:"false"`
	HoneycombAPIKey  string `env:"HONEYCOMB_API_KEY"`
	OtelServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"gymweb"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	var cfg *Config
	switch strings.ToLower(env) {
	case "dev", "development":
		cfg = t.Development
	case "prod", "production":
		cfg = t.Production
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
	if cfg == nil {
		return nil, fmt.Errorf("no config section for env: %s", env)
	}
	return cfg, nil
}

func Load(env, path string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("decode toml config %s: %w", path, err)
	}
	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}
	if err := cfg.setDefaultsAndValidate(); err != nil {
		return nil, fmt.Errorf("invalid [%s] config: %w", env, err)
	}
	return cfg, nil
}

func LoadSecrets() (Secrets, error) {
	return env.ParseAs[Secrets]()
}

func (c *Config) setDefaultsAndValidate() error {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.PrometheusMetricsHost == "" {
		c.PrometheusMetricsHost = "localhost"
	}
	if c.PrometheusMetricsPort == "" {
		c.PrometheusMetricsPort = "2112"
	}
	if c.RegisterMode == "" {
		c.RegisterMode = RegisterModeLocal
	}
	if c.StorageBackend == "" {
		c.StorageBackend = StorageFile
	}
	if c.LoginRateLimitPerMin == 0 {
		c.LoginRateLimitPerMin = 15
	}

	if c.LoginRateLimitPerMin < 0 {
		return fmt.Errorf("login_rate_limit_per_min must not be negative: %d", c.LoginRateLimitPerMin)
	}

	if c.ApiBaseURL == "" {
		return errors.New("api_base_url not set")
	}
	c.ApiBaseURL = strings.TrimSuffix(c.ApiBaseURL, "/")

	if c.ApiTimeoutRaw != "" {
		timeout, err := time.ParseDuration(c.ApiTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parse api_timeout: %w", err)
		}
		c.ApiTimeout = timeout
	}

	switch c.RegisterMode {
	case RegisterModeLocal, RegisterModeRemote:
	default:
		return fmt.Errorf("unknown register_mode: %s", c.RegisterMode)
	}

	switch c.StorageBackend {
	case StorageMemory:
	case StorageFile:
		if c.StorageFilePath == "" {
			return errors.New("storage_file_path must be set for the file storage backend")
		}
	case StorageRedis:
		if c.RedisHost == "" || c.RedisPort == "" {
			return errors.New("redis_host and redis_port must be set for the redis storage backend")
		}
	case StoragePostgres:
		if c.PostgresHost == "" || c.PostgresPort == "" || c.PostgresDBName == "" {
			return errors.New("postgres_host, postgres_port and postgres_db_name must be set for the postgres storage backend")
		}
	default:
		return fmt.Errorf("unknown storage_backend: %s", c.StorageBackend)
	}

	return nil
}

// RedisEnabled reports whether a redis instance is configured, either as the
// persistent store or only for rate limiting.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != "" && c.RedisPort != ""
}
