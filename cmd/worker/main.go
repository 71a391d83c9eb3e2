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

	"scene-forge/internal/config"
	"scene-forge/internal/database"
	"scene-forge/internal/logger"
	"scene-forge/internal/messaging"
	"scene-forge/internal/pipeline"
	"scene-forge/internal/policy"
	"scene-forge/internal/repository"
	"scene-forge/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	metricsPushInterval = 15 * time.Second
	consumerStopTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zapLogger, err := logger.New(cfg.Logger(), "scene-forge-worker")
	if err != nil {
		log.Fatalf("Ошибка инициализации логгера: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	zapLogger.Info("Starting scene-forge worker", cfg.LogFields()...)

	if err := run(cfg, zapLogger); err != nil {
		zapLogger.Fatal("Worker stopped with error", zap.Error(err))
	}
	zapLogger.Info("Worker stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policies, err := policy.Open(ctx, cfg.PolicyPath, cfg.PolicyWatch, logger)
	if err != nil {
		return fmt.Errorf("ошибка загрузки правил: %w", err)
	}

	// --- PostgreSQL ---
	pool, err := database.Connect(ctx, database.PoolConfig{
		DSN:         cfg.GetDSN(),
		MaxConns:    cfg.DBMaxConns,
		IdleTimeout: cfg.DBIdleTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.NewMigrator(pool, logger).Up(); err != nil {
		return err
	}
	resultRepo := repository.NewPgResultRepository(pool, logger)

	// --- Redis (необязательный кэш фрагментов) ---
	var cache pipeline.FragmentCache
	if cfg.CacheEnabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			// Без кэша воркер работает, просто дороже
			logger.Warn("Redis unavailable, fragment cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			cache = repository.NewRedisFragmentCache(rdb, cfg.CacheTTL, logger)
		}
	}

	// --- Конвейер ---
	engine, err := pipeline.NewEngine(ctx, pipeline.EngineConfigFrom(cfg), policies, cache, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("Failed to close pipeline engine", zap.Error(err))
		}
	}()

	// --- RabbitMQ ---
	conn, err := messaging.Dial(ctx, cfg.RabbitMQURL, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	publishCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал публикации: %w", err)
	}
	defer publishCh.Close()
	if err := messaging.DeclareTopology(publishCh, cfg.TaskQueue, cfg.ResultQueue, logger); err != nil {
		return err
	}
	notifier := messaging.NewRabbitMQNotifier(publishCh, cfg.ResultQueue, logger)

	consumeCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал консьюмера: %w", err)
	}
	defer consumeCh.Close()

	// --- Метрики ---
	stopPusher := make(chan struct{})
	defer close(stopPusher)
	if cfg.PushgatewayURL != "" {
		if err := worker.InitMetricsPusher(cfg.PushgatewayURL, cfg.InstanceID, logger); err != nil {
			logger.Warn("Pushgateway unavailable, metrics will be pushed when it comes back", zap.Error(err))
		}
		worker.StartMetricsPusher(metricsPushInterval, stopPusher)
		defer worker.CleanupMetrics()
	}
	metricsServer := startMetricsServer(cfg.MetricsPort, logger)

	// --- Обработка задач ---
	handler := worker.NewTaskHandler(engine.Driver, resultRepo, notifier, logger)
	consumer := messaging.NewTaskConsumer(consumeCh, cfg.TaskQueue, handler, logger)
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	logger.Info("Waiting for tasks", zap.String("queue", cfg.TaskQueue))

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case amqpErr := <-connClosed:
		if amqpErr != nil {
			runErr = fmt.Errorf("соединение с RabbitMQ потеряно: %w", amqpErr)
		}
	case <-consumer.Done():
		runErr = errors.New("консьюмер остановился")
	}

	stop()
	consumer.Stop(consumerStopTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Failed to stop metrics server", zap.Error(err))
	}
	return runErr
}

// startMetricsServer отдает метрики процесса и метрики задач воркера.
func startMetricsServer(port string, logger *zap.Logger) *http.Server {
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, worker.Registry()}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Metrics server listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
