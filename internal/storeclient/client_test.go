package storeclient_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-task-pipeline/internal/domain"
	"github.com/fairyhunter13/ai-task-pipeline/internal/storeclient"
)

func TestClient_CreateTask_Success(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := storeclient.New(srv.URL, time.Second)
	err := c.CreateTask(t.Context(), domain.AIProcessRequest{TaskId: domain.NewTaskId(), Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "/tasks", gotPath)
}

func TestClient_DoJSON_RetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := storeclient.New(srv.URL, time.Second)
	err := c.MarkStarted(t.Context(), domain.NewTaskId())
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestClient_DoJSON_DoesNotRetryOn4xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := storeclient.New(srv.URL, time.Second)
	err := c.MarkStarted(t.Context(), domain.NewTaskId())
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestClient_ListQueued_DecodesIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]string{"task-1", "task-2"})
	}))
	defer srv.Close()

	c := storeclient.New(srv.URL, time.Second)
	ids, err := c.ListQueued(t.Context())
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, domain.TaskId("task-1"), ids[0])
}

func TestClient_CleanupOld_ReturnsCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "olderThanSeconds=")
		_ = json.NewEncoder(w).Encode(map[string]int{"removed": 4})
	}))
	defer srv.Close()

	c := storeclient.New(srv.URL, time.Second)
	n, err := c.CleanupOld(t.Context(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
