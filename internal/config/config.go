package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Filter    FilterConfig    `yaml:"filter"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Inference InferenceConfig `yaml:"inference"`
	Audit     AuditConfig     `yaml:"audit"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// Connection lifecycle
	MaxRetries          int           `yaml:"max_retries"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	RecoveryInterval    time.Duration `yaml:"recovery_interval"`
}

// DSN builds a postgres URL with the credentials escaped.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel        string  `yaml:"log_level"`
	LogFormat       string  `yaml:"log_format"`
	MetricsPort     int     `yaml:"metrics_port"`
	OTLPEndpoint    string  `yaml:"otlp_endpoint"`
	TraceSampleRate float64 `yaml:"trace_sample_rate"`
}

type FilterConfig struct {
	MaxPromptLength int                   `yaml:"max_prompt_length"`
	Injection       InjectionFilterConfig `yaml:"injection"`
	Secrets         SecretsFilterConfig   `yaml:"secrets"`
	Policy          PolicyFilterConfig    `yaml:"policy"`
}

type InjectionFilterConfig struct {
	Enabled bool `yaml:"enabled"`
}

type SecretsFilterConfig struct {
	Enabled bool `yaml:"enabled"`
}

type PolicyFilterConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type InferenceConfig struct {
	Provider string        `yaml:"provider"` // "ollama" or "openai"
	BaseURL  string        `yaml:"base_url"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

type AuditConfig struct {
	Enabled      bool          `yaml:"enabled"`
	AsyncBuffer  int           `yaml:"async_buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SuccessTopic string        `yaml:"success_topic"`
	FailureTopic string        `yaml:"failure_topic"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             3000,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
			MaxBodyBytes:     1 << 20,
		},
		Database: DatabaseConfig{
			Host:                "localhost",
			Port:                5432,
			Name:                "gateway",
			User:                "gateway",
			MaxOpenConns:        10,
			ConnMaxLifetime:     5 * time.Minute,
			MaxRetries:          5,
			RetryDelay:          5 * time.Second,
			HealthCheckInterval: 10 * time.Second,
			RecoveryInterval:    30 * time.Second,
		},
		Redis: RedisConfig{
			DB:       0,
			PoolSize: 10,
		},
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "json",
			MetricsPort:     9090,
			TraceSampleRate: 0.1,
		},
		Filter: FilterConfig{
			MaxPromptLength: 4096,
			Injection:       InjectionFilterConfig{Enabled: true},
			Secrets:         SecretsFilterConfig{Enabled: true},
			Policy: PolicyFilterConfig{
				Enabled:           false,
				BundlePath:        "/etc/gateway/policies",
				EvaluationTimeout: 100 * time.Millisecond,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 20,
			Window:   time.Minute,
		},
		Inference: InferenceConfig{
			Provider: "ollama",
			BaseURL:  "http://localhost:11434",
			Model:    "llama3.2",
			Timeout:  60 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:      true,
			AsyncBuffer:  1000,
			WriteTimeout: 5 * time.Second,
			SuccessTopic: "audit.completed",
			FailureTopic: "audit.failed",
		},
	}
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Database.MaxRetries < 1 {
		return fmt.Errorf("database.max_retries must be at least 1, got %d", c.Database.MaxRetries)
	}
	if c.Database.RetryDelay < 0 {
		return fmt.Errorf("database.retry_delay must not be negative")
	}
	if c.Filter.MaxPromptLength < 1 {
		return fmt.Errorf("filter.max_prompt_length must be positive, got %d", c.Filter.MaxPromptLength)
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests < 1 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate_limit requires positive requests and window")
	}
	switch c.Inference.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("inference.provider must be ollama or openai, got %q", c.Inference.Provider)
	}
	if c.Inference.BaseURL == "" {
		return fmt.Errorf("inference.base_url is required")
	}
	if c.Audit.Enabled && c.Audit.AsyncBuffer < 1 {
		return fmt.Errorf("audit.async_buffer must be positive")
	}
	return nil
}
