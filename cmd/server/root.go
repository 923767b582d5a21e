package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/rtchat-server/internal/app"
	"github.com/vovakirdan/rtchat-server/internal/config"
	applog "github.com/vovakirdan/rtchat-server/internal/log"
	"github.com/vovakirdan/rtchat-server/internal/store/sqlite"
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "rtchat",
		Short:         "Real-time group chat server",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml or $RTCHAT_CONFIG_DEFAULT_PATH/config.yaml)")

	root.AddCommand(newServeCmd(&cfgFile), newMigrateCmd(&cfgFile))
	return root
}

// loadConfig resolves configuration and builds the logger it asks for.
func loadConfig(cmd *cobra.Command, cfgFile string) (*config.Config, *zerolog.Logger, error) {
	boot := applog.New("info", true)
	cfg, path, err := config.Load(boot, cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger := applog.New(cfg.LogLevel, cfg.LogPretty)
	logger.Debug().Str("path", path).Msg("config loaded")
	return &cfg, logger, nil
}

func newServeCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, *cfgFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting rtchat server")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	def := config.Default()
	f := cmd.Flags()
	f.String("addr", def.Addr, "HTTP listen address")
	f.Duration("read-header-timeout", def.ReadHeaderTimeout, "HTTP read header timeout")
	f.Duration("shutdown-timeout", def.ShutdownTimeout, "graceful shutdown timeout")
	f.String("log-level", def.LogLevel, "log level (trace, debug, info, warn, error)")
	f.Bool("log-pretty", def.LogPretty, "human readable console logs")
	f.String("database-path", def.DatabasePath, "SQLite database file")
	f.String("jwt-secret", def.JWTSecret, "HMAC secret for access tokens")
	f.Duration("jwt-ttl", def.JWTTTL, "access token lifetime")
	f.Int("session-queue-size", def.SessionQueueSize, "outbound events buffered per websocket session")
	f.Float64("message-rate-per-sec", def.MessageRatePerSec, "messages per second per session")
	f.Int("message-burst", def.MessageBurst, "message burst per session")
	f.Int("max-message-length", def.MaxMessageLength, "maximum message length in characters")
	f.Int64("max-upload-bytes", def.MaxUploadBytes, "maximum upload size")
	f.String("upload-dir", def.UploadDir, "directory for uploads when nats-url is empty")
	f.String("nats-url", def.NATSURL, "NATS server for JetStream file storage")
	return cmd
}

func newMigrateCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and seed public rooms",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, *cfgFile)
			if err != nil {
				return err
			}

			st, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer st.Close()

			if err := app.EnsurePublicRooms(cmd.Context(), st, append([]string{cfg.OnlineRoom}, cfg.PublicRooms...)); err != nil {
				return err
			}
			logger.Info().Str("db_path", cfg.DatabasePath).Msg("database migrated")
			return nil
		},
	}
	cmd.Flags().String("database-path", config.Default().DatabasePath, "SQLite database file")
	return cmd
}
