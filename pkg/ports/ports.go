// Package ports declares the collaborators the orchestrator depends on.
//
// Adapters under pkg/adapters implement these interfaces; the orchestrator
// only ever sees the interfaces.
package ports

import (
	"context"
	"time"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/domain/graph"
)

// RevisionSource returns the revision of a workflow that should be run
type RevisionSource interface {
	GetWorkflowRevision(ctx context.Context, workflowID string) (*domain.WorkflowRevision, error)
}

// TemplateSource returns task templates with their revision history
type TemplateSource interface {
	GetTaskTemplate(ctx context.Context, templateID string) (*domain.TaskTemplate, error)
}

// RunStore reads and updates run aggregates
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	SaveRun(ctx context.Context, run *domain.Run) error
}

// ExecutionRecordStore persists per-task execution records
type ExecutionRecordStore interface {
	// CreateExecutionRecord stores rec and returns it with its identifier assigned
	CreateExecutionRecord(ctx context.Context, rec *domain.ExecutionRecord) (*domain.ExecutionRecord, error)

	// ListExecutionRecords returns the records of a run sorted by order
	ListExecutionRecords(ctx context.Context, runID string) ([]*domain.ExecutionRecord, error)
}

// TaskRunner executes the planned tasks of a run. RunTasks blocks until the
// run is resolved or ctx is done.
type TaskRunner interface {
	RunTasks(ctx context.Context, g *graph.Graph[string], tasks []*domain.Task, runID, startID, endID string) (*domain.TaskResult, error)
}

// EventType identifies a lifecycle event
type EventType string

const (
	EventTypeRunDispatched EventType = "run.dispatched"
	EventTypeRunCompleted  EventType = "run.completed"
	EventTypeRunFailed     EventType = "run.failed"
	EventTypeRunInvalid    EventType = "run.invalid"
	EventTypeRunCancelled  EventType = "run.cancelled"
	EventTypeRunPlan       EventType = "run.plan"
)

// Event topics
const (
	TopicRunEvents  = "run.events"
	TopicTaskEvents = "task.events"
)

// Event is a message published on the event bus
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventHandler processes a received event
type EventHandler func(ctx context.Context, event Event) error

// EventBus publishes and delivers events by topic
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// MetricsCollector records orchestration metrics
type MetricsCollector interface {
	RecordRunSubmitted(outcome string)
	RecordRunCompleted(status string, duration time.Duration)
	RecordPlanSize(tasks int)
	SetActiveRuns(count int)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}
