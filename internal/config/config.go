package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format" validate:"omitempty,oneof=console json"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path" validate:"required"`
	HistoryLimit int    `mapstructure:"history_limit" yaml:"history_limit" validate:"gte=1"`

	// ClientBuffer is the per-connection event queue size.
	ClientBuffer    int      `mapstructure:"client_buffer" yaml:"client_buffer" validate:"gte=1"`
	MaxMessageBytes int64    `mapstructure:"max_message_bytes" yaml:"max_message_bytes" validate:"gte=0"`
	OriginPatterns  []string `mapstructure:"origin_patterns" yaml:"origin_patterns"`

	// Identity tokens are verified only when JWTSecret is set.
	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	// Notifications are published to NATS only when NATSURL is set.
	NATSURL           string `mapstructure:"nats_url" yaml:"nats_url" validate:"omitempty,url"`
	NATSSubjectPrefix string `mapstructure:"nats_subject_prefix" yaml:"nats_subject_prefix"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "chatlink.db",
		HistoryLimit:      100,
		ClientBuffer:      64,
		MaxMessageBytes:   1 << 20,
		OriginPatterns:    []string{},
		NATSSubjectPrefix: "chatlink",
	}
}

// JWTEnabled reports whether identity tokens are required.
func (c Config) JWTEnabled() bool {
	return c.JWTSecret != ""
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.HistoryLimit != 0 {
		c.HistoryLimit = other.HistoryLimit
	}
	if other.ClientBuffer != 0 {
		c.ClientBuffer = other.ClientBuffer
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if len(other.OriginPatterns) > 0 {
		c.OriginPatterns = other.OriginPatterns
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if other.NATSURL != "" {
		c.NATSURL = other.NATSURL
	}
	if other.NATSSubjectPrefix != "" {
		c.NATSSubjectPrefix = other.NATSSubjectPrefix
	}
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
