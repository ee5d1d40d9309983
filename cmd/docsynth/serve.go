package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docsynth/backend/internal/api"
	appLogger "github.com/docsynth/backend/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		appLogger.Info("Starting docsynth API server")

		app, err := newApplication(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer app.Close()

		deps := api.Deps{
			Config:    cfg,
			DB:        app.db,
			Processor: app.processor,
			Engine:    app.engine,
		}
		if app.cache != nil {
			deps.Cache = app.cache
		}
		server := api.NewApp(deps)

		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		appLogger.Info("Server starting", zap.String("address", addr))

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Listen(addr)
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		case <-quit:
		}

		appLogger.Info("Server shutting down gracefully...")
		if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
			appLogger.Error("Server shutdown failed", zap.Error(err))
		}
		appLogger.Info("Server stopped")
		return nil
	},
}
