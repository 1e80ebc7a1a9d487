package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sungwon/psp-relay/internal/auth"
	"github.com/sungwon/psp-relay/internal/queue"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Queue   queue.Config  `mapstructure:"queue"`
	Logging LoggingConfig `mapstructure:"logging"`
	TLS     TLSConfig     `mapstructure:"tls"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// ServerConfig holds the HTTP listener configuration shared by the producer API
// and the WebSocket endpoint.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxPayloadBytes int64         `mapstructure:"max_payload_bytes"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RelayConfig tunes pharmacy WebSocket connections.
type RelayConfig struct {
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// TLSConfig holds TLS certificate configuration. Both files must be set to
// serve wss.
type TLSConfig struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// Enabled reports whether a certificate pair is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// AuthConfig configures producer authentication. With no signing key and no
// API keys the producer routes are open.
type AuthConfig struct {
	SigningKey string             `mapstructure:"signing_key"`
	Issuer     string             `mapstructure:"issuer"`
	Audience   string             `mapstructure:"audience"`
	TokenTTL   time.Duration      `mapstructure:"token_ttl"`
	APIKeys    []auth.ProducerKey `mapstructure:"api_keys"`
	// RateLimitPerMinute caps requests per producer. Zero disables limiting.
	// Counters are kept in Redis.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
}

// RedisConfig holds the connection used for shared producer rate limits.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether any producer authentication method is configured.
func (a AuthConfig) Enabled() bool {
	return a.SigningKey != "" || len(a.APIKeys) > 0
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory.
// Environment variables with prefix PSP_RELAY_ override file values.
// For example, PSP_RELAY_SERVER_PORT overrides server.port.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("PSP_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys missing
// from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8887)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_payload_bytes", 1<<20)

	v.SetDefault("relay.write_timeout", 10*time.Second)
	v.SetDefault("relay.read_limit", 64*1024)
	v.SetDefault("relay.read_buffer_size", 1024)
	v.SetDefault("relay.write_buffer_size", 1024)

	v.SetDefault("queue.max_per_recipient", 0)
	v.SetDefault("queue.overflow", queue.OverflowReject)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 5)

	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")

	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.issuer", "psp-relay")
	v.SetDefault("auth.audience", "psp-relay-producers")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("auth.rate_limit_per_minute", 0)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

// Validate checks values that would otherwise fail at startup or at runtime.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxPayloadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_payload_bytes must be positive, got %d", c.Server.MaxPayloadBytes))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}
	if err := c.Queue.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.FilePath == "" {
			errs = append(errs, errors.New("logging.file_path is required when logging.output is file"))
		}
	default:
		errs = append(errs, fmt.Errorf("logging.output must be stdout, stderr or file, got %q", c.Logging.Output))
	}
	if c.Auth.SigningKey != "" && c.Auth.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl must be positive, got %v", c.Auth.TokenTTL))
	}
	if c.Auth.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit_per_minute must not be negative, got %d", c.Auth.RateLimitPerMinute))
	}
	if c.Auth.RateLimitPerMinute > 0 && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when auth.rate_limit_per_minute is set"))
	}
	for i, k := range c.Auth.APIKeys {
		if err := k.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("auth.api_keys[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}
