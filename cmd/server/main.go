package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avoronin/threadcast-server/internal/app"
	"github.com/avoronin/threadcast-server/internal/config"
	"github.com/avoronin/threadcast-server/internal/log"
)

func main() {
	var (
		configPath string
		overrides  config.Config
	)

	root := &cobra.Command{
		Use:   "threadcast-server",
		Short: "AI chat server with streaming completions over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootstrapLog := log.New("info", false)

			cfg, resolvedPath, err := config.Load(bootstrapLog, configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.UpdateFrom(overrides)

			logger := log.New(cfg.LogLevel, cfg.LogJSON)
			logger.Info().Str("config", resolvedPath).Str("addr", cfg.Addr).Msg("starting threadcast server")

			application, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("run server: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to config file")
	root.Flags().StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	root.Flags().StringVar(&overrides.DatabasePath, "db", "", "path to the sqlite database")
	root.Flags().StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
