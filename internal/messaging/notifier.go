package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const appID = "scene-forge"

// Notifier отправляет уведомления о завершении задач.
//
//go:generate mockery --name Notifier --output ../mocks --outpkg mocks --case=underscore
type Notifier interface {
	Notify(ctx context.Context, payload NotificationPayload) error
}

// Publisher - часть *amqp.Channel, нужная для публикации.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQNotifier публикует уведомления в очередь результатов.
// Канал открывается и закрывается вызывающей стороной.
type RabbitMQNotifier struct {
	ch        Publisher
	queueName string
	logger    *zap.Logger
}

var _ Notifier = (*RabbitMQNotifier)(nil)

// NewRabbitMQNotifier создает нотификатор. Очередь должна быть объявлена заранее (DeclareTopology).
func NewRabbitMQNotifier(ch Publisher, queueName string, logger *zap.Logger) *RabbitMQNotifier {
	return &RabbitMQNotifier{ch: ch, queueName: queueName, logger: logger.Named("Notifier")}
}

// Notify публикует уведомление.
func (n *RabbitMQNotifier) Notify(ctx context.Context, payload NotificationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации уведомления для TaskID %s: %w", payload.TaskID, err)
	}

	err = n.ch.PublishWithContext(ctx, "", n.queueName, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Body:          body,
		Timestamp:     time.Now(),
		AppId:         appID,
		CorrelationId: payload.TaskID,
	})
	if err != nil {
		n.logger.Error("Failed to publish notification", zap.String("task_id", payload.TaskID), zap.Error(err))
		return fmt.Errorf("ошибка отправки уведомления для TaskID %s: %w", payload.TaskID, err)
	}
	n.logger.Info("Notification published",
		zap.String("task_id", payload.TaskID),
		zap.String("status", string(payload.Status)),
		zap.String("queue", n.queueName),
	)
	return nil
}
