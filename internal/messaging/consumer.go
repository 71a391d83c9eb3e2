package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// TaskHandler обрабатывает одну задачу.
type TaskHandler interface {
	Handle(ctx context.Context, payload SceneTaskPayload) error
}

// ConsumeChannel - часть *amqp.Channel, нужная потребителю.
type ConsumeChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
}

// TaskConsumer читает задачи из очереди по одной и подтверждает их вручную.
type TaskConsumer struct {
	ch      ConsumeChannel
	queue   string
	tag     string
	handler TaskHandler
	logger  *zap.Logger
	done    chan struct{}
}

// NewTaskConsumer создает потребителя очереди задач.
func NewTaskConsumer(ch ConsumeChannel, queue string, handler TaskHandler, logger *zap.Logger) *TaskConsumer {
	return &TaskConsumer{
		ch:      ch,
		queue:   queue,
		tag:     "scene-forge-" + uuid.NewString(),
		handler: handler,
		logger:  logger.Named("TaskConsumer"),
		done:    make(chan struct{}),
	}
}

// Start подписывается на очередь и обрабатывает сообщения в отдельной горутине до отмены ctx
// или закрытия канала доставок.
func (c *TaskConsumer) Start(ctx context.Context) error {
	if err := c.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("не удалось установить QoS: %w", err)
	}
	msgs, err := c.ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("не удалось зарегистрировать консьюмера для '%s': %w", c.queue, err)
	}
	c.logger.Info("Task consumer started", zap.String("queue", c.queue), zap.String("consumer_tag", c.tag))

	go func() {
		defer close(c.done)
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("Context cancelled, task consumer stopping")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Info("Delivery channel closed, task consumer stopping")
					return
				}
				c.handleDelivery(ctx, msg)
			}
		}
	}()
	return nil
}

// Stop отменяет подписку и ждет завершения текущей задачи не дольше timeout.
func (c *TaskConsumer) Stop(timeout time.Duration) {
	if err := c.ch.Cancel(c.tag, false); err != nil {
		c.logger.Warn("Failed to cancel consumer", zap.Error(err))
	}
	select {
	case <-c.done:
		c.logger.Info("Task consumer stopped")
	case <-time.After(timeout):
		c.logger.Warn("Timeout waiting for task consumer to stop", zap.Duration("timeout", timeout))
	}
}

// Done закрывается после выхода горутины обработки.
func (c *TaskConsumer) Done() <-chan struct{} {
	return c.done
}

func (c *TaskConsumer) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	var payload SceneTaskPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.logger.Error("Failed to unmarshal task, rejecting (nack, no requeue)",
			zap.Error(err),
			zap.Int("body_size", len(msg.Body)),
		)
		c.nack(msg, false)
		return
	}

	log := c.logger.With(zap.String("task_id", payload.TaskID))
	err := c.handler.Handle(ctx, payload)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			log.Error("Failed to ack task", zap.Error(ackErr))
		}
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		// Остановка воркера: задачу заберет другой экземпляр
		log.Warn("Task interrupted by shutdown, requeueing", zap.Error(err))
		c.nack(msg, true)
	default:
		log.Error("Task failed, rejecting (nack, no requeue)", zap.Error(err))
		c.nack(msg, false)
	}
}

func (c *TaskConsumer) nack(msg amqp.Delivery, requeue bool) {
	if err := msg.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to nack task", zap.Error(err))
	}
}
