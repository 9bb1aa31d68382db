package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTaskId_ProducesValidUUID(t *testing.T) {
	id := NewTaskId()
	assert.True(t, id.Valid())
	assert.NotEmpty(t, id.String())
}

func TestTaskId_ValidRejectsGarbage(t *testing.T) {
	assert.False(t, TaskId("not-a-uuid").Valid())
}

func TestAIProcessResponse_Valid(t *testing.T) {
	result := &TaskResult{Content: "ok", Title: "ok", Confidence: 0.5}
	taskErr := &TaskError{Code: "INTERNAL", Message: "boom"}

	assert.True(t, AIProcessResponse{Success: true, Result: result}.Valid())
	assert.True(t, AIProcessResponse{Success: false, Error: taskErr}.Valid())
	assert.False(t, AIProcessResponse{}.Valid(), "neither result nor error set")
	assert.False(t, AIProcessResponse{Success: true, Result: result, Error: taskErr}.Valid(), "both result and error set")
	assert.False(t, AIProcessResponse{Success: true}.Valid(), "success true but no result")
	assert.False(t, AIProcessResponse{Success: false}.Valid(), "failure but no error")
}

func TestTaskError_Error(t *testing.T) {
	err := &TaskError{Code: "UPSTREAM_TIMEOUT", Message: "adapter took too long"}
	assert.Equal(t, "UPSTREAM_TIMEOUT: adapter took too long", err.Error())
}
