package contract_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-task-pipeline/internal/contract"
	"github.com/fairyhunter13/ai-task-pipeline/internal/domain"
)

func validRequest() domain.AIProcessRequest {
	return domain.AIProcessRequest{
		TaskId:    domain.NewTaskId(),
		NodeId:    "node-1",
		UserId:    "user-1",
		ProjectId: "project-1",
		Prompt:    "summarize this document",
		Priority:  domain.PriorityNormal,
		CreatedAt: time.Now(),
	}
}

func TestValidateRequest_OK(t *testing.T) {
	result := contract.ValidateRequest(validRequest())
	require.True(t, result.Ok(), "%v", result.Errors)
	assert.Equal(t, domain.PriorityNormal, result.Value.Priority)
}

func TestValidateRequest_MissingPrompt(t *testing.T) {
	req := validRequest()
	req.Prompt = ""
	result := contract.ValidateRequest(req)
	require.False(t, result.Ok())
	found := false
	for _, fe := range result.Errors {
		if fe.Field == "prompt" {
			found = true
		}
	}
	assert.True(t, found, "expected a prompt field error, got %v", result.Errors)
}

func TestValidateRequest_BadTaskId(t *testing.T) {
	req := validRequest()
	req.TaskId = domain.TaskId("not-a-uuid")
	result := contract.ValidateRequest(req)
	require.False(t, result.Ok())
}

func TestValidateRequest_DefaultsPriority(t *testing.T) {
	req := validRequest()
	req.Priority = ""
	result := contract.ValidateRequest(req)
	require.True(t, result.Ok())
	assert.Equal(t, domain.PriorityNormal, result.Value.Priority)
}

func TestValidateRequest_LegacyTypeTranslatesToPromptPrefix(t *testing.T) {
	req := validRequest()
	req.Metadata.Custom = map[string]any{"legacy_type": "optimize"}
	result := contract.ValidateRequest(req)
	require.True(t, result.Ok())
	assert.Contains(t, result.Value.Prompt, "[legacy:optimize]")
}

func TestValidateResponse_MutualExclusion(t *testing.T) {
	resp := domain.AIProcessResponse{
		TaskId:    domain.NewTaskId(),
		NodeId:    "node-1",
		UserId:    "u",
		ProjectId: "p",
		Status:    domain.StatusCompleted,
		Success:   true,
		Result:    &domain.TaskResult{Content: "done", Title: "done", Confidence: 0.5},
		Error:     &domain.TaskError{Code: "X", Message: "y"},
		Timestamp: time.Now(),
	}
	result := contract.ValidateResponse(resp)
	require.False(t, result.Ok())

	resp.Error = nil
	result = contract.ValidateResponse(resp)
	assert.True(t, result.Ok(), "%v", result.Errors)
}

func TestValidateBatch_PropagatesItemErrors(t *testing.T) {
	bad := validRequest()
	bad.Prompt = ""
	batch := domain.BatchTask{
		BatchId:   "batch-1",
		UserId:    "u",
		ProjectId: "p",
		Items:     []domain.AIProcessRequest{validRequest(), bad},
	}
	result := contract.ValidateBatch(batch)
	require.False(t, result.Ok())
	assert.Contains(t, result.Errors[0].Field, "items[1]")
}

func TestValidateProgress_RejectsOutOfRangePercent(t *testing.T) {
	p := domain.TaskProgressUpdate{TaskId: domain.NewTaskId(), NodeId: "node-1", Progress: 150, Timestamp: time.Now()}
	result := contract.ValidateProgress(p)
	assert.False(t, result.Ok())
}

func TestValidateProgress_MissingNodeIdRejected(t *testing.T) {
	p := domain.TaskProgressUpdate{TaskId: domain.NewTaskId(), Progress: 50, Timestamp: time.Now()}
	result := contract.ValidateProgress(p)
	assert.False(t, result.Ok())
}
