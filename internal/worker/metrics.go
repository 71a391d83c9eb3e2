package worker

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

const jobName = "scene_forge_worker"

var (
	// Отдельный реестр: метрики задач уходят в Pushgateway
	registry = prometheus.NewRegistry()

	tasksReceived = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "scene_forge_tasks_received_total",
			Help: "Total number of tasks received by the worker.",
		},
	)
	tasksFailed = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "scene_forge_tasks_failed_total",
			Help: "Total number of failed tasks, partitioned by failure reason.",
		},
		[]string{"reason"},
	)
	tasksSucceeded = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "scene_forge_tasks_succeeded_total",
			Help: "Total number of processed tasks by notification status.",
		},
		[]string{"status"},
	)
	taskDuration = promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scene_forge_task_duration_seconds",
			Help:    "Task processing duration.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
	)
	tokensUsed = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "scene_forge_ai_tokens_used_total",
			Help: "Total number of AI tokens used, by token type.",
		},
		[]string{"type"},
	)

	pusherMu sync.Mutex
	pusher   *push.Pusher
	mlog     = zap.NewNop()
)

// Registry возвращает реестр метрик воркера (для локального /metrics).
func Registry() *prometheus.Registry {
	return registry
}

// InitMetricsPusher настраивает отправку метрик в Pushgateway и проверяет соединение.
func InitMetricsPusher(pushgatewayURL, instanceID string, logger *zap.Logger) error {
	pusherMu.Lock()
	defer pusherMu.Unlock()
	mlog = logger.Named("Metrics")
	pusher = push.New(pushgatewayURL, jobName).Gatherer(registry).Grouping("instance", instanceID)
	if err := pusher.Push(); err != nil {
		return fmt.Errorf("could not push initial metrics to Pushgateway: %w", err)
	}
	mlog.Info("Pushgateway pusher initialized", zap.String("url", pushgatewayURL), zap.String("instance", instanceID))
	return nil
}

// StartMetricsPusher периодически отправляет метрики до закрытия stop.
func StartMetricsPusher(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = PushMetricsNow()
			}
		}
	}()
}

// PushMetricsNow отправляет текущие метрики. Без настроенного Pushgateway ничего не делает.
func PushMetricsNow() error {
	pusherMu.Lock()
	defer pusherMu.Unlock()
	if pusher == nil {
		return nil
	}
	if err := pusher.Push(); err != nil {
		mlog.Warn("Error pushing metrics to Pushgateway", zap.Error(err))
		return err
	}
	return nil
}

// CleanupMetrics удаляет метрики экземпляра из Pushgateway.
func CleanupMetrics() {
	pusherMu.Lock()
	defer pusherMu.Unlock()
	if pusher == nil {
		return
	}
	if err := pusher.Delete(); err != nil {
		mlog.Warn("Error deleting metrics from Pushgateway", zap.Error(err))
	}
}

func metricsTaskReceived() {
	tasksReceived.Inc()
}

func metricsTaskFailed(reason string) {
	tasksFailed.WithLabelValues(reason).Inc()
}

func metricsTaskSucceeded(status string) {
	tasksSucceeded.WithLabelValues(status).Inc()
}

func metricsTaskDuration(d time.Duration) {
	taskDuration.Observe(d.Seconds())
}

func metricsTokens(prompt, completion int) {
	tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	tokensUsed.WithLabelValues("completion").Add(float64(completion))
}
