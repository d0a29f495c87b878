package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

type Config struct {
	// HTTP server
	Server ServerConfig `mapstructure:"server"`

	// PostgreSQL
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Redis
	Redis RedisConfig `mapstructure:"redis"`

	// NATS
	NATS NATSConfig `mapstructure:"nats"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`

	// Krunker public API (evidence source)
	Krunker KrunkerConfig `mapstructure:"krunker"`

	// Account verification
	Verification VerificationConfig `mapstructure:"verification"`
}

type ServerConfig struct {
	Addr          string `mapstructure:"addr"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	PageSecret    string `mapstructure:"page_secret"`
	RateLimit     int    `mapstructure:"rate_limit"`
	// RateWindow is the window RateLimit commands are counted over.
	RateWindow     time.Duration `mapstructure:"rate_window"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	Port              int    `mapstructure:"port"`
	SSLMode           string `mapstructure:"sslmode"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	CommandSubject string `mapstructure:"command_subject"`
}

type PrometheusConfig struct {
	Port int `mapstructure:"port"`
}

type KrunkerConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	PostLimit int           `mapstructure:"post_limit"`
}

type VerificationConfig struct {
	CodePrefix    string        `mapstructure:"code_prefix"`
	CodeLength    int           `mapstructure:"code_length"`
	TTL           time.Duration `mapstructure:"ttl"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the verification flow cannot run with.
func (c *Config) Validate() error {
	var err error
	v := c.Verification
	if v.CodeLength < 4 {
		err = multierr.Append(err, fmt.Errorf("verification.code_length must be at least 4, got %d", v.CodeLength))
	}
	if v.MaxAttempts < 1 {
		err = multierr.Append(err, fmt.Errorf("verification.max_attempts must be positive, got %d", v.MaxAttempts))
	}
	if v.TTL <= 0 {
		err = multierr.Append(err, fmt.Errorf("verification.ttl must be positive, got %s", v.TTL))
	}
	if c.Krunker.PostLimit < 1 {
		err = multierr.Append(err, fmt.Errorf("krunker.post_limit must be positive, got %d", c.Krunker.PostLimit))
	}
	if c.Server.PublicBaseURL != "" && c.Server.PageSecret == "" {
		err = multierr.Append(err, fmt.Errorf("server.page_secret is required when server.public_base_url is set"))
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.rate_window", time.Minute)

	v.SetDefault("nats.command_subject", "krunklink.commands")

	v.SetDefault("prometheus.port", 9090)

	v.SetDefault("krunker.base_url", "https://gapi.svc.krunker.io/api")
	v.SetDefault("krunker.timeout", 10*time.Second)
	v.SetDefault("krunker.post_limit", 5)

	v.SetDefault("verification.code_prefix", "VERIFY-")
	v.SetDefault("verification.code_length", 8)
	v.SetDefault("verification.ttl", 2*time.Minute)
	v.SetDefault("verification.max_attempts", 5)
	v.SetDefault("verification.sweep_interval", time.Minute)
}

func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.addr", "HTTP_ADDR")
	v.BindEnv("server.public_base_url", "PUBLIC_BASE_URL")
	v.BindEnv("server.page_secret", "PAGE_SECRET")

	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")

	// Krunker
	v.BindEnv("krunker.base_url", "KRUNKER_BASE_URL")
	v.BindEnv("krunker.api_key", "KRUNKER_API_KEY", "KRUNKER_KEY")
}
