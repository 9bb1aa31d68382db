package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/ai-task-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-task-pipeline/internal/config"
)

func TestSetupLogger_ReturnsLogger(t *testing.T) {
	cfg := config.Config{AppEnv: "dev", OTELServiceName: "ai-task-pipeline"}
	logger := observability.SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestContextWithLogger_RoundTrips(t *testing.T) {
	cfg := config.Config{AppEnv: "prod", OTELServiceName: "svc"}
	logger := observability.SetupLogger(cfg)
	ctx := observability.ContextWithLogger(context.Background(), logger)
	assert.Same(t, logger, observability.LoggerFromContext(ctx))
}

func TestContextWithTaskID_RoundTrips(t *testing.T) {
	ctx := observability.ContextWithTaskID(context.Background(), "task-123")
	assert.Equal(t, "task-123", observability.TaskIDFromContext(ctx))
}

func TestTaskIDFromContext_EmptyWhenAbsent(t *testing.T) {
	assert.Equal(t, "", observability.TaskIDFromContext(context.Background()))
}
