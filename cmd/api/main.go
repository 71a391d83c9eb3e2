package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"scene-forge/internal/api"
	"scene-forge/internal/config"
	"scene-forge/internal/database"
	"scene-forge/internal/execution"
	"scene-forge/internal/logger"
	"scene-forge/internal/policy"
	"scene-forge/internal/repository"
	"scene-forge/internal/synthesis"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zapLogger, err := logger.New(cfg.Logger(), "scene-forge-api")
	if err != nil {
		log.Fatalf("Ошибка инициализации логгера: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()

	if err := run(cfg, zapLogger); err != nil {
		zapLogger.Fatal("API server stopped with error", zap.Error(err))
	}
	zapLogger.Info("API server stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policies, err := policy.Open(ctx, cfg.PolicyPath, cfg.PolicyWatch, logger)
	if err != nil {
		return fmt.Errorf("ошибка загрузки правил: %w", err)
	}
	prompts, err := synthesis.LoadPrompts()
	if err != nil {
		return err
	}
	assembler, err := execution.NewAssembler(execution.DefaultShellConfig())
	if err != nil {
		return err
	}

	// Схемой владеет воркер, API только читает
	pool, err := database.Connect(ctx, database.PoolConfig{
		DSN:         cfg.GetDSN(),
		MaxConns:    cfg.DBMaxConns,
		IdleTimeout: cfg.DBIdleTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := api.NewHandler(policies, prompts, synthesis.TreeSitterChecker{}, assembler,
		repository.NewPgResultRepository(pool, logger), logger)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:        true,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("ошибка HTTP сервера: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки HTTP сервера: %w", err)
	}
	return nil
}
