package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aescanero/dagrun/pkg/adapters/storage/memory"
	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/domain/graph"
	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/stretchr/testify/require"
)

const (
	wfLinear       = "wf-linear"
	wfDiamond      = "wf-diamond"
	wfDisconnected = "wf-disconnected"
	wfNoRevisions  = "wf-no-revisions"
)

func dep(ids ...string) []domain.Dependency {
	deps := make([]domain.Dependency, len(ids))
	for i, id := range ids {
		deps[i] = domain.Dependency{TaskID: id}
	}
	return deps
}

// seedStore fills a memory store with the workflows and templates used
// across the package tests
func seedStore(t *testing.T) *memory.Store {
	t.Helper()

	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.SaveTaskTemplate(ctx, &domain.TaskTemplate{
		ID:   "tmpl-echo",
		Name: "echo",
		Revisions: []domain.TemplateRevision{
			{Version: 1, Image: "alpine:3.19", Command: "echo"},
		},
	}))
	require.NoError(t, store.SaveTaskTemplate(ctx, &domain.TaskTemplate{
		ID:   "tmpl-empty",
		Name: "empty",
	}))

	revisions := []*domain.WorkflowRevision{
		{
			ID: "rev-linear", WorkflowID: wfLinear, Version: 1,
			Tasks: []domain.DAGTask{
				{TaskID: "start", Type: domain.TaskTypeStart, Label: "Start"},
				{
					TaskID: "a", Type: domain.TaskTypeTemplate, Label: "Say hello",
					TemplateID: "tmpl-echo", TemplateVersion: 1,
					Properties:   []domain.Property{{Key: "message", Value: "hello"}},
					Dependencies: dep("start"),
				},
				{TaskID: "end", Type: domain.TaskTypeEnd, Label: "End", Dependencies: dep("a")},
			},
		},
		{
			ID: "rev-diamond", WorkflowID: wfDiamond, Version: 1,
			Tasks: []domain.DAGTask{
				{TaskID: "start", Type: domain.TaskTypeStart},
				{TaskID: "a", Type: domain.TaskTypeDecision, DecisionValue: "yes", Dependencies: dep("start")},
				{TaskID: "b", Type: domain.TaskTypeDecision, DecisionValue: "no", Dependencies: dep("start")},
				{TaskID: "end", Type: domain.TaskTypeEnd, Dependencies: dep("a", "b")},
			},
		},
		{
			ID: "rev-disconnected", WorkflowID: wfDisconnected, Version: 1,
			Tasks: []domain.DAGTask{
				{TaskID: "start", Type: domain.TaskTypeStart},
				{TaskID: "end", Type: domain.TaskTypeEnd},
			},
		},
		{
			ID: "rev-no-revisions", WorkflowID: wfNoRevisions, Version: 1,
			Tasks: []domain.DAGTask{
				{TaskID: "start", Type: domain.TaskTypeStart},
				{TaskID: "a", Type: domain.TaskTypeCustomTask, TemplateID: "tmpl-empty", Dependencies: dep("start")},
				{TaskID: "end", Type: domain.TaskTypeEnd, Dependencies: dep("a")},
			},
		},
	}
	for _, rev := range revisions {
		require.NoError(t, store.SaveWorkflowRevision(ctx, rev))
	}

	return store
}

// newRun stores a not-started run
func newRun(t *testing.T, store ports.RunStore, runID, workflowID string) {
	t.Helper()
	require.NoError(t, store.SaveRun(context.Background(), &domain.Run{
		ID:         runID,
		WorkflowID: workflowID,
		Status:     domain.ExecutionStatusNotStarted,
	}))
}

// failingRecords fails execution record creation after the first n records
type failingRecords struct {
	*memory.Store
	n       int
	created int
}

func (f *failingRecords) CreateExecutionRecord(ctx context.Context, rec *domain.ExecutionRecord) (*domain.ExecutionRecord, error) {
	if f.created >= f.n {
		return nil, errors.New("disk full")
	}
	f.created++
	return f.Store.CreateExecutionRecord(ctx, rec)
}

// hookRuns runs onGet once, on the first GetRun after arm
type hookRuns struct {
	*memory.Store
	armed atomic.Bool
	onGet func(ctx context.Context, runID string)
}

func (h *hookRuns) arm() {
	h.armed.Store(true)
}

func (h *hookRuns) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	if h.armed.CompareAndSwap(true, false) {
		h.onGet(ctx, runID)
	}
	return h.Store.GetRun(ctx, runID)
}

type runnerCall struct {
	runID   string
	startID string
	endID   string
	taskIDs []string
}

// fakeRunner records calls and delegates the outcome to fn
type fakeRunner struct {
	fn func(ctx context.Context, runID string) (*domain.TaskResult, error)

	mu    sync.Mutex
	calls []runnerCall
}

func (r *fakeRunner) RunTasks(ctx context.Context, g *graph.Graph[string], tasks []*domain.Task, runID, startID, endID string) (*domain.TaskResult, error) {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.TaskID
	}

	r.mu.Lock()
	r.calls = append(r.calls, runnerCall{runID: runID, startID: startID, endID: endID, taskIDs: ids})
	r.mu.Unlock()

	if r.fn == nil {
		return &domain.TaskResult{Status: domain.ExecutionStatusCompleted}, nil
	}
	return r.fn(ctx, runID)
}

func (r *fakeRunner) recorded() []runnerCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]runnerCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// fakeMetrics records prepare outcomes and resolved statuses
type fakeMetrics struct {
	mu        sync.Mutex
	submitted []string
	completed []string
	planSizes []int
	active    int
}

func (m *fakeMetrics) RecordRunSubmitted(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, outcome)
}

func (m *fakeMetrics) RecordRunCompleted(status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, status)
}

func (m *fakeMetrics) RecordPlanSize(tasks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.planSizes = append(m.planSizes, tasks)
}

func (m *fakeMetrics) SetActiveRuns(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = count
}

func (m *fakeMetrics) RecordWorkerPoolStatus(idle, busy, stopped int) {}

func (m *fakeMetrics) outcomes() (submitted, completed []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.submitted...), append([]string(nil), m.completed...)
}

// eventLog collects events delivered by the bus
type eventLog struct {
	mu     sync.Mutex
	events []ports.Event
}

func (l *eventLog) handle(ctx context.Context, event ports.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *eventLog) types(runID string) []ports.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ports.EventType
	for _, e := range l.events {
		if e.RunID == runID {
			out = append(out, e.Type)
		}
	}
	return out
}
