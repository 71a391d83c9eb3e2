//go:build integration

package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"scene-forge/internal/messaging"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

const (
	taskQueue   = "scene_tasks_it"
	resultQueue = "scene_results_it"
)

type RabbitSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	conn      *amqp.Connection
	ch        *amqp.Channel
}

func (s *RabbitSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error

	s.container, err = rabbitmq.Run(s.ctx,
		"rabbitmq:3-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").WithStartupTimeout(2*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start rabbitmq container")
	url, err := s.container.AmqpURL(s.ctx)
	require.NoError(s.T(), err)

	s.conn, err = messaging.Dial(s.ctx, url, zap.NewNop())
	require.NoError(s.T(), err)
	s.ch, err = s.conn.Channel()
	require.NoError(s.T(), err)
	require.NoError(s.T(), messaging.DeclareTopology(s.ch, taskQueue, resultQueue, zap.NewNop()))
}

func (s *RabbitSuite) TearDownSuite() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.container != nil {
		s.NoError(testcontainers.TerminateContainer(s.container))
	}
}

func (s *RabbitSuite) publishTask(body []byte) {
	err := s.ch.PublishWithContext(s.ctx, "", taskQueue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	s.Require().NoError(err)
}

// waitMessage опрашивает очередь, пока в ней не появится сообщение.
func (s *RabbitSuite) waitMessage(queue string) amqp.Delivery {
	var msg amqp.Delivery
	s.Require().Eventually(func() bool {
		m, ok, err := s.ch.Get(queue, true)
		if err != nil || !ok {
			return false
		}
		msg = m
		return true
	}, 20*time.Second, 100*time.Millisecond, "no message in %s", queue)
	return msg
}

func (s *RabbitSuite) TestFailedTasksGoToDeadLetterQueue() {
	consumeCh, err := s.conn.Channel()
	s.Require().NoError(err)
	defer consumeCh.Close()

	handled := make(chan string, 4)
	handler := handlerFunc(func(_ context.Context, p messaging.SceneTaskPayload) error {
		handled <- p.TaskID
		if p.TaskID == "bad" {
			return errors.New("boom")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	consumer := messaging.NewTaskConsumer(consumeCh, taskQueue, handler, zap.NewNop())
	s.Require().NoError(consumer.Start(ctx))

	s.publishTask([]byte("{not json"))
	s.publishTask(taskBody(s.T(), "good"))
	s.publishTask(taskBody(s.T(), "bad"))

	for _, want := range []string{"good", "bad"} {
		select {
		case got := <-handled:
			s.Equal(want, got)
		case <-time.After(20 * time.Second):
			s.FailNow("task was not handled", want)
		}
	}

	malformed := s.waitMessage(taskQueue + "_dlq")
	s.Equal("{not json", string(malformed.Body))

	failed := s.waitMessage(taskQueue + "_dlq")
	var p messaging.SceneTaskPayload
	s.Require().NoError(json.Unmarshal(failed.Body, &p))
	s.Equal("bad", p.TaskID)

	cancel()
	consumer.Stop(5 * time.Second)
}

func (s *RabbitSuite) TestNotifierPublishesToResultQueue() {
	notifier := messaging.NewRabbitMQNotifier(s.ch, resultQueue, zap.NewNop())

	err := notifier.Notify(s.ctx, messaging.NotificationPayload{
		TaskID:      "t-notify",
		VideoNumber: 2,
		Status:      messaging.NotificationStatusSuccess,
		ScenesTotal: 1,
	})
	s.Require().NoError(err)

	msg := s.waitMessage(resultQueue)
	assert.Equal(s.T(), "t-notify", msg.CorrelationId)
	var got messaging.NotificationPayload
	s.Require().NoError(json.Unmarshal(msg.Body, &got))
	s.Equal(messaging.NotificationStatusSuccess, got.Status)
	s.Equal(2, got.VideoNumber)
}

func TestRabbitSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode.")
	}
	suite.Run(t, new(RabbitSuite))
}
