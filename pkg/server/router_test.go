package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodaTao/LLMFunctions/pkg/chassis"
	"github.com/KodaTao/LLMFunctions/pkg/function"
	"github.com/KodaTao/LLMFunctions/pkg/llm"
	"github.com/KodaTao/LLMFunctions/pkg/llm/llmtest"
	"github.com/KodaTao/LLMFunctions/pkg/trace"
)

func setupTestServer(t *testing.T, opts ...chassis.Option) (*Server, *chassis.App, *function.Definition) {
	t.Helper()

	base := []chassis.Option{
		chassis.WithDatabasePath(":memory:"),
		chassis.WithLogStore(chassis.LogStoreMemory),
		chassis.WithLogLevel("error"),
	}
	app := chassis.New(append(base, opts...)...)

	p := llmtest.New("mock")
	p.Respond = func(req llm.ChatRequest) (llm.Message, error) {
		last := req.Messages[len(req.Messages)-1].Content
		return llmtest.Print(strings.ToUpper(last)), nil
	}
	app.AddProvider("mock", p)
	require.NoError(t, app.Initialize(context.Background()))
	t.Cleanup(func() { _ = app.Shutdown() })

	def, _, err := function.New().
		Name("shout").
		Instructions("hello {name}").
		Dataset(
			function.Args{Instructions: map[string]any{"name": "ada"}},
			function.Args{Instructions: map[string]any{"name": "grace"}},
		).
		Create(app.Runner())
	require.NoError(t, err)

	srv := NewServer(app, &ServerConfig{Mode: "test", MetricsPath: "/metrics"})
	return srv, app, def
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestMetrics(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListAndGetFunction(t *testing.T) {
	srv, _, def := setupTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/functions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Functions []function.FunctionInfo `json:"functions"`
		Count     int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, def.ID(), list.Functions[0].ID)
	assert.Equal(t, []string{"name"}, list.Functions[0].Placeholders)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/functions/"+def.ID(), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/functions/shout", nil)
	assert.Equal(t, http.StatusOK, w.Code, "lookup by name")

	w = doRequest(t, srv, http.MethodGet, "/api/v1/functions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunFunction(t *testing.T) {
	srv, app, def := setupTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/functions/"+def.ID()+"/run", map[string]any{
		"instructions": map[string]any{"name": "ada"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Result    any              `json:"result"`
		Execution *trace.Execution `json:"execution"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "HELLO ADA", resp.Result)
	require.NotNil(t, resp.Execution)
	require.Len(t, resp.Execution.FunctionsExecuted, 1)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/executions/"+resp.Execution.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, app.Logs().List(), 1)
}

func TestRunFunctionMissingPlaceholder(t *testing.T) {
	srv, _, def := setupTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/functions/"+def.ID()+"/run", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "execution")
}

func TestRunDataset(t *testing.T) {
	srv, _, def := setupTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/functions/"+def.ID()+"/dataset", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Executions []*trace.Execution `json:"executions"`
		Count      int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "HELLO ADA", resp.Executions[0].FinalResponse)
	assert.Equal(t, "HELLO GRACE", resp.Executions[1].FinalResponse)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/executions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)
}

func TestExecutionNotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/api/v1/executions/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTasksRequireScheduler(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/api/v1/tasks", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTaskLifecycle(t *testing.T) {
	srv, _, def := setupTestServer(t, chassis.WithScheduler(true))

	w := doRequest(t, srv, http.MethodPost, "/api/v1/tasks", CreateTaskRequest{
		Name:       "nightly",
		CronExpr:   "0 0 2 * * *",
		FunctionID: def.ID(),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var task struct {
		ID uint `json:"ID"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	require.NotZero(t, task.ID)
	base := fmt.Sprintf("/api/v1/tasks/%d", task.ID)

	w = doRequest(t, srv, http.MethodPost, base+"/run", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"total":2`)
	var run struct {
		ID uint `json:"ID"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))

	w = doRequest(t, srv, http.MethodGet, base+"/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = doRequest(t, srv, http.MethodGet, fmt.Sprintf("%s/runs/%d", base, run.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"total":2`)

	w = doRequest(t, srv, http.MethodGet, fmt.Sprintf("%s/runs/%d", base, run.ID+100), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, srv, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"scheduled":false`)
	assert.Contains(t, w.Body.String(), `"enabled":false`)

	w = doRequest(t, srv, http.MethodPost, base+"/resume", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"scheduled":true`)

	w = doRequest(t, srv, http.MethodPost, "/api/v1/tasks/9999/pause", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = doRequest(t, srv, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, srv, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/tasks/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateTaskInvalid(t *testing.T) {
	srv, _, _ := setupTestServer(t, chassis.WithScheduler(true))

	w := doRequest(t, srv, http.MethodPost, "/api/v1/tasks", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, srv, http.MethodPost, "/api/v1/tasks", CreateTaskRequest{
		Name: "x", CronExpr: "bogus", FunctionID: "missing",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	w := doRequest(t, srv, http.MethodOptions, "/api/v1/functions", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
