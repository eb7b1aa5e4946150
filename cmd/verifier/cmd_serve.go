package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"carbon-scribe/verification-service/internal/api"
	"carbon-scribe/verification-service/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the verification scheduler and the operational API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	start := time.Now()
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start verifier", zap.Error(err))
		return err
	}
	defer a.Close()

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	defer a.scheduler.Stop()

	opts := []api.Option{
		api.WithReviews(a.reviews),
		api.WithRewards(a.ledger),
		api.WithProgress(a.progress),
	}
	if a.archive != nil {
		opts = append(opts, api.WithArchive(a.archive))
	}
	handler := api.NewHandler(a.store, a.scheduler, logger.Named("api"), opts...)
	defer handler.Close()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      handler.NewRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("Verifier started", zap.String("addr", srv.Addr))

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Verifier exiting", zap.Duration("uptime", time.Since(start)))
	return nil
}
