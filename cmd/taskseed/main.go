// Package main provides a small CLI for publishing sample AI processing
// tasks onto the pipeline, useful for manual testing and demos without a
// running Store/API service.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairyhunter13/ai-task-pipeline/internal/broker"
	"github.com/fairyhunter13/ai-task-pipeline/internal/config"
	"github.com/fairyhunter13/ai-task-pipeline/internal/contract"
	"github.com/fairyhunter13/ai-task-pipeline/internal/domain"
)

func main() {
	var (
		prompt    = flag.String("prompt", "Summarize the benefits of task queues.", "prompt text to send")
		priority  = flag.String("priority", "normal", "task priority: high, normal, or low")
		nodeId    = flag.String("node", "taskseed-node", "canvas node id to attach to the request")
		userId    = flag.String("user", "taskseed-user", "user id to attach to the request")
		projectId = flag.String("project", "taskseed-project", "project id to attach to the request")
		model     = flag.String("model", "", "adapter model override (empty uses the engine default)")
		count     = flag.Int("count", 1, "number of tasks to publish")
	)
	flag.Parse()

	p := domain.TaskPriority(*priority)
	switch p {
	case domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow:
	default:
		log.Fatalf("invalid priority %q: must be high, normal, or low", *priority)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger := slog.Default()
	conns := broker.NewConnectionManager(cfg, logger)
	if err := conns.Start(ctx); err != nil {
		log.Fatalf("broker connection failed: %v", err)
	}
	defer func() { _ = conns.Close() }()

	bus, err := broker.NewBus(conns)
	if err != nil {
		log.Fatalf("broker topology setup failed: %v", err)
	}
	defer func() { _ = bus.Close() }()

	for i := 0; i < *count; i++ {
		req := domain.AIProcessRequest{
			TaskId:    domain.NewTaskId(),
			NodeId:    *nodeId,
			UserId:    *userId,
			ProjectId: *projectId,
			Prompt:    *prompt,
			Priority:  p,
			CreatedAt: time.Now(),
		}
		if *model != "" {
			req.Metadata.Model = *model
		}
		if err := bus.Publish(ctx, contract.ExchangeLLMDirect, req, broker.PublishOptions{
			RoutingKey: string(p),
			MessageID:  req.TaskId.String(),
			Headers:    contract.Headers(req, contract.TaskTypeProcess, 0, cfg.OTELServiceName),
		}); err != nil {
			log.Fatalf("publish failed: %v", err)
		}
		log.Printf("published task %s (priority=%s)", req.TaskId, p)
	}
}
