package messaging

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const dlqRoutingKey = "dlq"

// Declarer - часть *amqp.Channel, нужная для объявления топологии.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareTopology объявляет очередь задач с dead letter exchange и очередь уведомлений.
// Отклоненные задачи уходят в <taskQueue>_dlq.
func DeclareTopology(ch Declarer, taskQueue, resultQueue string, logger *zap.Logger) error {
	dlx := taskQueue + "_dlx"
	dlq := taskQueue + "_dlq"

	if err := ch.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("не удалось объявить DLX '%s': %w", dlx, err)
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("не удалось объявить DLQ '%s': %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, dlqRoutingKey, dlx, false, nil); err != nil {
		return fmt.Errorf("не удалось связать DLQ '%s' с DLX '%s': %w", dlq, dlx, err)
	}

	args := amqp.Table{
		"x-queue-mode":              "lazy",
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": dlqRoutingKey,
	}
	if _, err := ch.QueueDeclare(taskQueue, true, false, false, false, args); err != nil {
		return fmt.Errorf("не удалось объявить очередь задач '%s': %w", taskQueue, err)
	}
	if _, err := ch.QueueDeclare(resultQueue, true, false, false, false, amqp.Table{"x-queue-mode": "lazy"}); err != nil {
		return fmt.Errorf("не удалось объявить очередь уведомлений '%s': %w", resultQueue, err)
	}

	logger.Info("RabbitMQ topology declared",
		zap.String("task_queue", taskQueue),
		zap.String("result_queue", resultQueue),
		zap.String("dlq", dlq),
	)
	return nil
}
