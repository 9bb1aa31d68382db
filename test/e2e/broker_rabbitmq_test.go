//go:build integration

// Package e2e drives the task pipeline's broker layer against a real
// RabbitMQ instance via testcontainers, exercising the same publish/consume
// path internal/consumer's unit tests double out.
package e2e

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/fairyhunter13/ai-task-pipeline/internal/broker"
	"github.com/fairyhunter13/ai-task-pipeline/internal/config"
	"github.com/fairyhunter13/ai-task-pipeline/internal/contract"
	"github.com/fairyhunter13/ai-task-pipeline/internal/domain"
)

// TestBroker_PublishAndConsume_RoundTripsThroughRealRabbitMQ covers scenario
// 1 of the testable properties: a task published onto the high-priority
// process queue is durably delivered to a consumer over a real broker
// connection, including reconnect-safe topology declaration.
func TestBroker_PublishAndConsume_RoundTripsThroughRealRabbitMQ(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.13-management-alpine")
	if err != nil {
		t.Skipf("rabbitmq container unavailable, skipping: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	amqpURL, err := container.AmqpURL(ctx)
	require.NoError(t, err)

	cfg := config.Config{
		AMQPURLs:                  []string{amqpURL},
		AMQPReconnectInitialDelay: 100 * time.Millisecond,
		AMQPReconnectMaxDelay:     time.Second,
		AMQPReconnectMaxAttempts:  5,
		AMQPHeartbeat:             10 * time.Second,
	}

	conns := broker.NewConnectionManager(cfg, slog.Default())
	require.NoError(t, conns.Start(ctx))
	t.Cleanup(func() { _ = conns.Close() })

	bus, err := broker.NewBus(conns)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	deliveries, err := bus.Consume(ctx, contract.QueueProcessHigh, 4)
	require.NoError(t, err)

	req := domain.AIProcessRequest{
		TaskId:   domain.NewTaskId(),
		NodeId:   "e2e-node",
		UserId:   "e2e-user",
		Prompt:   "round trip check",
		Priority: domain.PriorityHigh,
	}
	require.NoError(t, bus.Publish(ctx, contract.ExchangeLLMDirect, req, broker.PublishOptions{
		RoutingKey: string(domain.PriorityHigh),
		MessageID:  req.TaskId.String(),
	}))

	select {
	case d := <-deliveries:
		require.Contains(t, string(d.Body), req.TaskId.String())
		require.NoError(t, d.Ack())
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}
