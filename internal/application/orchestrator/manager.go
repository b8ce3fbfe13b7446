package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/dagrun/internal/application/workers"
	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/aescanero/dagrun/orchestrator"

// ErrShuttingDown fails runs still queued when the manager shuts down
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// Dispatcher runs jobs on a separate unit of concurrency
type Dispatcher interface {
	Submit(ctx context.Context, job workers.Job) error
}

// ManagerConfig holds the collaborators of a Manager
type ManagerConfig struct {
	Revisions  ports.RevisionSource
	Templates  ports.TemplateSource
	Runs       ports.RunStore
	Records    ports.ExecutionRecordStore
	Runner     ports.TaskRunner
	EventBus   ports.EventBus
	Metrics    ports.MetricsCollector
	Dispatcher Dispatcher
	Logger     *zap.Logger

	// Optional
	Tracer trace.Tracer
	Clock  clock.Clock

	RunTimeout time.Duration
}

// Manager drives workflow runs: it plans synchronously and dispatches the
// planned tasks to the task runner asynchronously.
type Manager struct {
	revisions    ports.RevisionSource
	runs         ports.RunStore
	records      ports.ExecutionRecordStore
	runner       ports.TaskRunner
	eventBus     ports.EventBus
	metrics      ports.MetricsCollector
	dispatcher   Dispatcher
	materializer *Materializer
	validator    *Validator
	planner      *Planner
	tracer       trace.Tracer
	clock        clock.Clock
	logger       *zap.Logger

	// Track dispatched runs
	executions sync.Map // map[string]*execution
	active     atomic.Int64

	// Runs between the start of ExecuteRun and dispatch
	preparing sync.Map // map[string]struct{}

	runTimeout time.Duration
}

// execution holds state for a single dispatched run
type execution struct {
	runID      string
	workflowID string
	startedAt  time.Time
	cancelFunc context.CancelFunc
	dispatch   *Dispatch

	mu        sync.Mutex
	started   bool
	abandoned bool
	cancelled bool
	finished  bool
}

// begin claims the run for a worker; false if shutdown abandoned it first
func (e *execution) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.abandoned {
		return false
	}
	e.started = true
	return true
}

// abandon claims a run no worker has picked up yet
func (e *execution) abandon() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.abandoned {
		return false
	}
	e.abandoned = true
	return true
}

// finish claims the right to record the runner's outcome; false if the
// run was cancelled first
func (e *execution) finish() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelled {
		return false
	}
	e.finished = true
	return true
}

// NewManager creates a new orchestrator manager
func NewManager(cfg *ManagerConfig) *Manager {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Manager{
		revisions:    cfg.Revisions,
		runs:         cfg.Runs,
		records:      cfg.Records,
		runner:       cfg.Runner,
		eventBus:     cfg.EventBus,
		metrics:      cfg.Metrics,
		dispatcher:   cfg.Dispatcher,
		materializer: NewMaterializer(cfg.Templates, cfg.Logger),
		validator:    NewValidator(cfg.Runs, clk, cfg.Logger),
		planner:      NewPlanner(cfg.Records, clk, cfg.Logger),
		tracer:       tracer,
		clock:        clk,
		logger:       cfg.Logger,
		runTimeout:   cfg.RunTimeout,
	}
}

// SubmitRun creates a new run of the workflow and executes it
func (m *Manager) SubmitRun(ctx context.Context, workflowID string) (*Dispatch, error) {
	now := m.clock.Now()
	run := &domain.Run{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Status:     domain.ExecutionStatusNotStarted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := m.runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return m.ExecuteRun(ctx, workflowID, run.ID)
}

// ExecuteRun plans the run and dispatches it for asynchronous execution.
//
// Planning errors are returned directly: *domain.ConfigurationError when the
// task list cannot be built and *domain.InvalidWorkflowError when the graph
// is structurally unsound. A run that is not in not-started is rejected with
// domain.ErrRunAlreadyStarted. Once dispatched, the outcome is observed
// through the returned Dispatch and the run record.
func (m *Manager) ExecuteRun(ctx context.Context, workflowID, runID string) (*Dispatch, error) {
	ctx, span := m.tracer.Start(ctx, "ExecuteRun", trace.WithAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.String("run_id", runID),
	))
	defer span.End()

	if _, loaded := m.preparing.LoadOrStore(runID, struct{}{}); loaded {
		m.metrics.RecordRunSubmitted("rejected")
		return nil, fmt.Errorf("%w: %s is being prepared", domain.ErrRunAlreadyStarted, runID)
	}
	defer m.preparing.Delete(runID)

	if err := m.checkNotStarted(ctx, runID); err != nil {
		m.metrics.RecordRunSubmitted("rejected")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	plan, err := m.prepare(ctx, workflowID, runID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("plan_size", len(plan.Steps)))

	runCtx, cancel := m.runContext()
	runCtx = trace.ContextWithSpanContext(runCtx, span.SpanContext())

	exec := &execution{
		runID:      runID,
		workflowID: workflowID,
		startedAt:  m.clock.Now(),
		cancelFunc: cancel,
		dispatch:   newDispatch(runID, m.logger),
	}
	m.executions.Store(runID, exec)
	m.metrics.SetActiveRuns(int(m.active.Add(1)))
	m.updateRun(ctx, runID, domain.ExecutionStatusInProgress, "")

	job := func() {
		m.runPlan(runCtx, exec, plan)
	}

	if err := m.dispatcher.Submit(ctx, job); err != nil {
		m.release(exec)
		m.logger.Error("failed to dispatch run",
			zap.String("run_id", runID),
			zap.Error(err))
		m.updateRun(ctx, runID, domain.ExecutionStatusFailure, "Failed to run workflow: "+err.Error())
		m.metrics.RecordRunSubmitted("dispatch_failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to dispatch run: %w", err)
	}

	m.metrics.RecordRunSubmitted("dispatched")
	m.publish(ctx, runID, ports.EventTypeRunDispatched, map[string]interface{}{
		"workflow_id": workflowID,
		"tasks":       len(plan.Steps),
	})

	m.logger.Info("run dispatched",
		zap.String("run_id", runID),
		zap.String("workflow_id", workflowID),
		zap.Int("tasks", len(plan.Steps)))

	return exec.dispatch, nil
}

// checkNotStarted rejects runs that were already planned or dispatched
func (m *Manager) checkNotStarted(ctx context.Context, runID string) error {
	if _, ok := m.executions.Load(runID); ok {
		return fmt.Errorf("%w: %s is dispatched", domain.ErrRunAlreadyStarted, runID)
	}

	run, err := m.runs.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run.Status != domain.ExecutionStatusNotStarted {
		return fmt.Errorf("%w: %s has status %s", domain.ErrRunAlreadyStarted, runID, run.Status)
	}
	return nil
}

// prepare is the synchronous phase: materialize, validate and plan
func (m *Manager) prepare(ctx context.Context, workflowID, runID string) (*Plan, error) {
	rev, err := m.revisions.GetWorkflowRevision(ctx, workflowID)
	if err != nil {
		m.metrics.RecordRunSubmitted("error")
		return nil, fmt.Errorf("failed to load workflow revision: %w", err)
	}

	tasks, err := m.materializer.Materialize(ctx, rev)
	if err != nil {
		m.logger.Error("failed to build task list",
			zap.String("run_id", runID),
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		m.metrics.RecordRunSubmitted("configuration_error")
		return nil, err
	}

	g := BuildGraph(tasks)

	start, end, err := m.validator.Validate(ctx, runID, tasks, g)
	if err != nil {
		m.metrics.RecordRunSubmitted("invalid")
		data := map[string]interface{}{"workflow_id": workflowID}
		var invalidErr *domain.InvalidWorkflowError
		if errors.As(err, &invalidErr) {
			data["reason"] = invalidErr.Reason
		}
		m.publish(ctx, runID, ports.EventTypeRunInvalid, data)
		return nil, err
	}

	plan, err := m.planner.Plan(ctx, tasks, runID, start, end, g)
	if err != nil {
		m.logger.Error("failed to create execution plan",
			zap.String("run_id", runID),
			zap.Error(err))
		m.updateRun(ctx, runID, domain.ExecutionStatusFailure, domain.MessagePlanFailed)
		m.metrics.RecordRunSubmitted("plan_failed")
		return nil, err
	}
	m.metrics.RecordPlanSize(len(plan.Steps))

	return plan, nil
}

// runContext creates the context the asynchronous phase runs under. It is
// detached from the caller so returning from ExecuteRun does not cancel it.
func (m *Manager) runContext() (context.Context, context.CancelFunc) {
	if m.runTimeout > 0 {
		return context.WithTimeout(context.Background(), m.runTimeout)
	}
	return context.WithCancel(context.Background())
}

// runPlan is the asynchronous phase: hand the plan to the task runner and
// resolve the dispatch with its outcome
func (m *Manager) runPlan(ctx context.Context, exec *execution, plan *Plan) {
	ctx, span := m.tracer.Start(ctx, "RunTasks", trace.WithAttributes(
		attribute.String("run_id", plan.RunID),
	))
	defer span.End()

	if !exec.begin() {
		// Resolved by Shutdown
		return
	}
	defer m.release(exec)

	result, err := m.callRunner(ctx, plan)
	duration := m.clock.Since(exec.startedAt)

	if !exec.finish() {
		m.logger.Info("run cancelled",
			zap.String("run_id", exec.runID),
			zap.Duration("duration", duration))
		m.metrics.RecordRunCompleted(string(domain.ExecutionStatusCancelled), duration)
		exec.dispatch.resolve(false, err)
		return
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.handleRunError(ctx, exec, err, duration)
		return
	}

	status := domain.ExecutionStatusCompleted
	message := ""
	if result != nil && result.Status != "" {
		status = result.Status
		message = result.Message
	}
	if status.Terminal() {
		m.updateRun(context.WithoutCancel(ctx), plan.RunID, status, message)
	}

	m.metrics.RecordRunCompleted(string(status), duration)
	m.publish(context.WithoutCancel(ctx), plan.RunID, ports.EventTypeRunCompleted, map[string]interface{}{
		"status": string(status),
	})

	m.logger.Info("run resolved",
		zap.String("run_id", plan.RunID),
		zap.String("status", string(status)),
		zap.Duration("duration", duration))

	exec.dispatch.resolve(true, nil)
}

// callRunner invokes the task runner, converting failures and panics into
// *domain.RunWorkflowError
func (m *Manager) callRunner(ctx context.Context, plan *Plan) (result *domain.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = domain.NewRunWorkflowError(plan.RunID, r)
		}
	}()

	result, err = m.runner.RunTasks(ctx, plan.Graph, plan.Tasks(), plan.RunID, plan.StartID, plan.EndID)
	if err != nil {
		return nil, domain.NewRunWorkflowError(plan.RunID, err)
	}
	return result, nil
}

// handleRunError records a failed asynchronous phase
func (m *Manager) handleRunError(ctx context.Context, exec *execution, err error, duration time.Duration) {
	var runErr *domain.RunWorkflowError
	if !errors.As(err, &runErr) {
		runErr = domain.NewRunWorkflowError(exec.runID, err)
	}

	m.logger.Error("workflow run failed",
		zap.String("run_id", exec.runID),
		zap.String("workflow_id", exec.workflowID),
		zap.Error(runErr.Err),
		zap.String("stack", runErr.Stack()))

	message := "Failed to run workflow: " + runErr.Err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		message = "Failed to run workflow: Execution timed out"
	}

	m.updateRun(context.WithoutCancel(ctx), exec.runID, domain.ExecutionStatusFailure, message)
	m.metrics.RecordRunCompleted(string(domain.ExecutionStatusFailure), duration)
	m.publish(context.WithoutCancel(ctx), exec.runID, ports.EventTypeRunFailed, map[string]interface{}{
		"error": runErr.Err.Error(),
	})

	exec.dispatch.resolve(false, runErr)
}

// abandon fails a dispatched run that never started because of shutdown
func (m *Manager) abandon(ctx context.Context, exec *execution) {
	runErr := domain.NewRunWorkflowError(exec.runID, ErrShuttingDown)

	m.logger.Warn("run abandoned before start",
		zap.String("run_id", exec.runID),
		zap.String("workflow_id", exec.workflowID))

	m.updateRun(context.WithoutCancel(ctx), exec.runID, domain.ExecutionStatusFailure, "Failed to run workflow: "+ErrShuttingDown.Error())
	m.metrics.RecordRunCompleted(string(domain.ExecutionStatusFailure), m.clock.Since(exec.startedAt))
	m.publish(context.WithoutCancel(ctx), exec.runID, ports.EventTypeRunFailed, map[string]interface{}{
		"error": ErrShuttingDown.Error(),
	})

	m.release(exec)
	exec.dispatch.resolve(false, runErr)
}

// release stops tracking a dispatched run
func (m *Manager) release(exec *execution) {
	exec.cancelFunc()
	if _, loaded := m.executions.LoadAndDelete(exec.runID); loaded {
		m.metrics.SetActiveRuns(int(m.active.Add(-1)))
	}
}

// CancelRun cancels a dispatched run and marks it cancelled
func (m *Manager) CancelRun(ctx context.Context, runID string) error {
	val, ok := m.executions.Load(runID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRunNotActive, runID)
	}
	exec := val.(*execution)

	run, err := m.runs.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: run already in terminal state %s", domain.ErrRunNotActive, run.Status)
	}

	exec.mu.Lock()
	if exec.cancelled {
		exec.mu.Unlock()
		return fmt.Errorf("%w: run already cancelled", domain.ErrRunNotActive)
	}
	if exec.finished {
		exec.mu.Unlock()
		return fmt.Errorf("%w: run is finishing", domain.ErrRunNotActive)
	}
	exec.cancelled = true
	exec.mu.Unlock()

	run.Status = domain.ExecutionStatusCancelled
	run.StatusMessage = "Run cancelled"
	run.UpdatedAt = m.clock.Now()
	if err := m.runs.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	// Cancel context
	exec.cancelFunc()

	m.publish(ctx, runID, ports.EventTypeRunCancelled, nil)
	m.logger.Info("run cancelled by request", zap.String("run_id", runID))

	return nil
}

// WaitForRun polls the run record until it reaches a terminal status
func (m *Manager) WaitForRun(ctx context.Context, runID string, timeout time.Duration) (*domain.Run, error) {
	b := backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond * 5,
		MaxInterval:         time.Second * 1,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxElapsedTime:      timeout,
		Stop:                backoff.Stop,
		Clock:               m.clock,
	}
	b.Reset()

	ticker := backoff.NewTicker(backoff.WithContext(&b, ctx))
	defer ticker.Stop()

	for range ticker.C {
		run, err := m.runs.GetRun(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to get run: %w", err)
		}

		if run.Status.Terminal() {
			return run, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("run %s did not finish in %s", runID, timeout)
}

// GetRun returns the run record
func (m *Manager) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := m.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListTaskExecutions returns the execution records of a run in plan order
func (m *Manager) ListTaskExecutions(ctx context.Context, runID string) ([]*domain.ExecutionRecord, error) {
	records, err := m.records.ListExecutionRecords(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	return records, nil
}

// ActiveRuns returns the number of dispatched, unresolved runs
func (m *Manager) ActiveRuns() int {
	return int(m.active.Load())
}

// updateRun sets the status of a run that has not reached a terminal state
func (m *Manager) updateRun(ctx context.Context, runID string, status domain.ExecutionStatus, message string) {
	run, err := m.runs.GetRun(ctx, runID)
	if err != nil {
		m.logger.Error("failed to get run",
			zap.String("run_id", runID),
			zap.Error(err))
		return
	}

	if run.Status.Terminal() {
		return
	}

	run.Status = status
	run.StatusMessage = message
	run.UpdatedAt = m.clock.Now()

	if err := m.runs.SaveRun(ctx, run); err != nil {
		m.logger.Error("failed to save run",
			zap.String("run_id", runID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// publish publishes a run lifecycle event; failures are only logged
func (m *Manager) publish(ctx context.Context, runID string, eventType ports.EventType, data map[string]interface{}) {
	event := ports.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: m.clock.Now(),
		RunID:     runID,
		Data:      data,
	}

	if err := m.eventBus.Publish(ctx, ports.TopicRunEvents, event); err != nil {
		m.logger.Error("failed to publish run event",
			zap.String("run_id", runID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	// Running jobs see the cancellation and resolve themselves. Queued
	// jobs may never reach a worker, so they are resolved here.
	m.executions.Range(func(key, value interface{}) bool {
		exec := value.(*execution)
		exec.cancelFunc()
		if exec.abandon() {
			m.abandon(ctx, exec)
		}
		return true
	})

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}
