package backend

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitWorkflowReturnsPromptID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prompt", r.URL.Path)
		w.Write([]byte(`{"prompt_id":"abc-123","number":4}`))
	}))
	defer srv.Close()

	c := NewConnector(srv.URL, slog.Default())
	id, err := c.SubmitWorkflow(context.Background(), map[string]any{"1": map[string]any{}}, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", id)
}

func TestSubmitWorkflowUnparseableResponseIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	c := NewConnector(srv.URL, slog.Default())
	id, err := c.SubmitWorkflow(context.Background(), map[string]any{}, "client-1")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSubmitWorkflowRejectionIsPermanent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad graph", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewConnector(srv.URL, slog.Default())
	_, err := c.SubmitWorkflow(context.Background(), map[string]any{}, "client-1")
	require.Error(t, err)
	assert.Equal(t, 1, calls, "4xx must not be retried")
}

func TestGetHistoryParsesOutputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/history/p1", r.URL.Path)
		w.Write([]byte(`{"p1":{
			"status":{"status_str":"success","completed":true},
			"outputs":{"9":{"images":[{"filename":"out_001.png","subfolder":""}]}}
		}}`))
	}))
	defer srv.Close()

	c := NewConnector(srv.URL, slog.Default())
	h, err := c.GetHistory(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, h.Completed())
	files := h.OutputFiles()
	require.Len(t, files, 1)
	assert.Equal(t, "out_001.png", files[0].Filename)
}

func TestGetHistoryMissingPromptYieldsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewConnector(srv.URL, slog.Default())
	h, err := c.GetHistory(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, h)
	assert.False(t, h.Completed())
}

func TestGetQueueStatusCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"queue_running":[["a"]],"queue_pending":[["b"],["c"]]}`))
	}))
	defer srv.Close()

	c := NewConnector(srv.URL, slog.Default())
	qs, err := c.GetQueueStatus(context.Background())
	require.NoError(t, err)
	require.NotNil(t, qs)
	assert.Equal(t, 1, qs.Running)
	assert.Equal(t, 2, qs.Pending)
}

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/system_stats" {
			w.Write([]byte(`{"system":{}}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewConnector(srv.URL, slog.Default())
	assert.True(t, c.CheckHealth(context.Background()))

	srv.Close()
	assert.False(t, c.CheckHealth(context.Background()))
}
