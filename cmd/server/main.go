package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatlink/internal/app"
	"github.com/vovakirdan/chatlink/internal/config"
	"github.com/vovakirdan/chatlink/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:           "chatlink",
		Short:         "Presence and direct messaging server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLogger := log.New(overrides.LogLevel, "console")

			cfg, path, err := config.Load(bootLogger, configPath)
			if err != nil {
				bootLogger.Error().Err(err).Msg("failed to load config")
				return err
			}
			cfg.UpdateFrom(overrides)
			if err := cfg.Validate(); err != nil {
				bootLogger.Error().Err(err).Msg("invalid configuration")
				return err
			}

			logger := log.New(cfg.LogLevel, cfg.LogFormat)
			logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting chatlink")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(&cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to initialize app")
				return err
			}

			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return fmt.Errorf("run: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to config.yaml (default $CHATLINK_CONFIG_DEFAULT_PATH or ./config.yaml)")
	flags.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&overrides.DatabasePath, "db", "", "SQLite database path")
	flags.StringVar(&overrides.NATSURL, "nats-url", "", "NATS server for outward notifications")
	flags.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")

	return cmd
}
