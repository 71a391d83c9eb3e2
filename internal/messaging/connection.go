package messaging

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	dialAttempts   = 5
	dialRetryDelay = 5 * time.Second
)

// Dial подключается к RabbitMQ с повторами: брокер в compose поднимается позже воркера.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*amqp.Connection, error) {
	var lastErr error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			logger.Info("Connected to RabbitMQ", zap.Int("attempt", attempt))
			return conn, nil
		}
		lastErr = err
		logger.Warn("Failed to connect to RabbitMQ, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", dialAttempts),
			zap.Duration("delay", dialRetryDelay),
			zap.Error(err),
		)
		if attempt == dialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialRetryDelay):
		}
	}
	return nil, fmt.Errorf("не удалось подключиться к RabbitMQ после %d попыток: %w", dialAttempts, lastErr)
}
