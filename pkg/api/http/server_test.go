package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aescanero/dagrun/internal/application/orchestrator"
	"github.com/aescanero/dagrun/internal/application/workers"
	eventsmemory "github.com/aescanero/dagrun/pkg/adapters/events/memory"
	promadapter "github.com/aescanero/dagrun/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/dagrun/pkg/adapters/storage/memory"
	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/domain/graph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// runnerFunc adapts a function to the task runner port
type runnerFunc func(ctx context.Context, runID string) (*domain.TaskResult, error)

func (f runnerFunc) RunTasks(ctx context.Context, g *graph.Graph[string], tasks []*domain.Task, runID, startID, endID string) (*domain.TaskResult, error) {
	return f(ctx, runID)
}

func completes(ctx context.Context, runID string) (*domain.TaskResult, error) {
	return &domain.TaskResult{Status: domain.ExecutionStatusCompleted}, nil
}

func blocks(ctx context.Context, runID string) (*domain.TaskResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func seed(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.SaveTaskTemplate(ctx, &domain.TaskTemplate{
		ID:        "tmpl-echo",
		Name:      "echo",
		Revisions: []domain.TemplateRevision{{Version: 1, Command: "echo"}},
	}))

	revisions := []*domain.WorkflowRevision{
		{
			ID: "rev-ok", WorkflowID: "wf-ok", Version: 1,
			Tasks: []domain.DAGTask{
				{TaskID: "start", Type: domain.TaskTypeStart, Label: "Start"},
				{TaskID: "a", Type: domain.TaskTypeTemplate, TemplateID: "tmpl-echo", TemplateVersion: 1,
					Dependencies: []domain.Dependency{{TaskID: "start"}}},
				{TaskID: "end", Type: domain.TaskTypeEnd, Label: "End",
					Dependencies: []domain.Dependency{{TaskID: "a"}}},
			},
		},
		{
			ID: "rev-no-end", WorkflowID: "wf-no-end", Version: 1,
			Tasks: []domain.DAGTask{
				{TaskID: "start", Type: domain.TaskTypeStart},
			},
		},
		{
			ID: "rev-bad-template", WorkflowID: "wf-bad-template", Version: 1,
			Tasks: []domain.DAGTask{
				{TaskID: "start", Type: domain.TaskTypeStart},
				{TaskID: "a", Type: domain.TaskTypeTemplate, TemplateID: "missing",
					Dependencies: []domain.Dependency{{TaskID: "start"}}},
				{TaskID: "end", Type: domain.TaskTypeEnd,
					Dependencies: []domain.Dependency{{TaskID: "a"}}},
			},
		},
	}
	for _, rev := range revisions {
		require.NoError(t, store.SaveWorkflowRevision(ctx, rev))
	}
	return store
}

func newTestServer(t *testing.T, runner runnerFunc) *Server {
	t.Helper()

	logger := zap.NewNop()
	store := seed(t)
	bus := eventsmemory.NewInMemoryEventBus(logger)
	reg := prometheus.NewRegistry()
	collector := promadapter.NewCollector(reg)

	pool := workers.NewPool(2, 4, collector, logger, 0)
	require.NoError(t, pool.Start())

	manager := orchestrator.NewManager(&orchestrator.ManagerConfig{
		Revisions:  store,
		Templates:  store,
		Runs:       store,
		Records:    store,
		Runner:     runner,
		EventBus:   bus,
		Metrics:    collector,
		Dispatcher: pool,
		Logger:     logger,
	})

	t.Cleanup(func() {
		_ = manager.Shutdown(context.Background())
		_ = pool.Shutdown(context.Background())
		_ = bus.Close()
	})

	return NewServer(&Config{
		Orchestrator: manager,
		Health:       pool.Health(),
		Gatherer:     reg,
		Logger:       logger,
	})
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestSubmitRun_Wait(t *testing.T) {
	s := newTestServer(t, completes)

	rec := do(t, s, http.MethodPost, "/api/v1/workflows/wf-ok/runs?wait=5s")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var run domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, domain.ExecutionStatusCompleted, run.Status)
	assert.Equal(t, "wf-ok", run.WorkflowID)

	rec = do(t, s, http.MethodGet, "/api/v1/runs/"+run.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/runs/"+run.ID+"/tasks")
	require.Equal(t, http.StatusOK, rec.Code)

	var tasks struct {
		RunID string                    `json:"run_id"`
		Tasks []*domain.ExecutionRecord `json:"tasks"`
		Total int                       `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Equal(t, 3, tasks.Total)
	assert.Equal(t, []string{"Start", "echo", "End"},
		[]string{tasks.Tasks[0].TaskName, tasks.Tasks[1].TaskName, tasks.Tasks[2].TaskName})
}

func TestSubmitRun_Accepted(t *testing.T) {
	s := newTestServer(t, blocks)

	rec := do(t, s, http.MethodPost, "/api/v1/workflows/wf-ok/runs")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp RunSubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, "wf-ok", resp.WorkflowID)

	// The response reports what is stored
	rec = do(t, s, http.MethodGet, "/api/v1/runs/"+resp.RunID)
	require.Equal(t, http.StatusOK, rec.Code)
	var run domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, string(run.Status), resp.Status)
	assert.Equal(t, domain.ExecutionStatusInProgress, run.Status)
}

func TestSubmitRun_Errors(t *testing.T) {
	s := newTestServer(t, completes)

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"InvalidWorkflow", "/api/v1/workflows/wf-no-end/runs", http.StatusUnprocessableEntity, "INVALID_WORKFLOW"},
		{"ConfigurationError", "/api/v1/workflows/wf-bad-template/runs", http.StatusUnprocessableEntity, "CONFIGURATION_ERROR"},
		{"UnknownWorkflow", "/api/v1/workflows/nope/runs", http.StatusNotFound, "NOT_FOUND"},
		{"BadWait", "/api/v1/workflows/wf-ok/runs?wait=soon", http.StatusBadRequest, "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, tt.path)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestServer(t, completes)

	rec := do(t, s, http.MethodGet, "/api/v1/runs/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))

	rec = do(t, s, http.MethodGet, "/api/v1/runs/missing/tasks")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelRun(t *testing.T) {
	s := newTestServer(t, blocks)

	rec := do(t, s, http.MethodPost, "/api/v1/workflows/wf-ok/runs")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp RunSubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec = do(t, s, http.MethodPost, "/api/v1/runs/"+resp.RunID+"/cancel")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/v1/runs/"+resp.RunID+"/cancel")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CANCELLATION_FAILED", errorCode(t, rec))

	require.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, "/api/v1/runs/"+resp.RunID)
		var run domain.Run
		return json.Unmarshal(rec.Body.Bytes(), &run) == nil && run.Status == domain.ExecutionStatusCancelled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, completes)

	rec := do(t, s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	do(t, s, http.MethodPost, "/api/v1/workflows/wf-no-end/runs")

	rec = do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `dagrun_runs_submitted_total{outcome="invalid"} 1`))
}
