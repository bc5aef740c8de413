package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "CHATLINK_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load resolves configuration and returns it with the config file path used.
// Precedence: defaults < config file < CHATLINK_* env vars. Flags are applied
// by the caller with UpdateFrom. A missing file is created with the defaults.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()
	configPath := resolveConfigPath(explicitPath)

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(configPath)
	setDefaults(v, cfg)

	v.SetEnvPrefix("CHATLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readOrCreate(v, logger, configPath, cfg); err != nil {
		return cfg, configPath, err
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, configPath, err
	}
	return cfg, configPath, nil
}

// readOrCreate reads the config file, writing the defaults first when the
// file does not exist yet. Failing to write the default file is not fatal.
func readOrCreate(v *viper.Viper, logger *zerolog.Logger, path string, cfg Config) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read config: %w", err)
	}

	if writeErr := writeDefaultConfig(path, cfg); writeErr != nil {
		if logger != nil {
			logger.Warn().Err(writeErr).Str("path", path).Msg("failed to write default config")
		}
		return nil
	}
	if logger != nil {
		logger.Info().Str("path", path).Msg("created default config")
	}
	if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
		logger.Warn().Err(readErr).Str("path", path).Msg("failed to read config after writing default")
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("history_limit", cfg.HistoryLimit)
	v.SetDefault("client_buffer", cfg.ClientBuffer)
	v.SetDefault("max_message_bytes", cfg.MaxMessageBytes)
	v.SetDefault("origin_patterns", cfg.OriginPatterns)
	v.SetDefault("jwt_secret", cfg.JWTSecret)
	v.SetDefault("jwt_issuer", cfg.JWTIssuer)
	v.SetDefault("jwt_audience", cfg.JWTAudience)
	v.SetDefault("nats_url", cfg.NATSURL)
	v.SetDefault("nats_subject_prefix", cfg.NATSSubjectPrefix)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
