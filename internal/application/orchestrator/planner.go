package orchestrator

import (
	"context"
	"fmt"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/domain/graph"
	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// PlannedTask pairs a task with its persisted execution record
type PlannedTask struct {
	Task   *domain.Task
	Record *domain.ExecutionRecord
}

// Plan is the validated, persisted execution plan of a run.
// It is handed as a value to the asynchronous phase.
type Plan struct {
	RunID   string
	StartID string
	EndID   string
	Graph   *graph.Graph[string]
	Steps   []PlannedTask
}

// Tasks returns the planned tasks in run order
func (p *Plan) Tasks() []*domain.Task {
	tasks := make([]*domain.Task, len(p.Steps))
	for i, step := range p.Steps {
		tasks[i] = step.Task
	}
	return tasks
}

// Planner turns a validated graph into persisted execution records
type Planner struct {
	records ports.ExecutionRecordStore
	clock   clock.Clock
	logger  *zap.Logger
}

// NewPlanner creates a new execution planner
func NewPlanner(records ports.ExecutionRecordStore, clk clock.Clock, logger *zap.Logger) *Planner {
	return &Planner{
		records: records,
		clock:   clk,
		logger:  logger,
	}
}

// Plan derives the run order from start to end and persists one execution
// record per task, in order. The record id is written back to each task.
// Records created before a persistence failure are left in place.
func (p *Planner) Plan(ctx context.Context, tasks []*domain.Task, runID string, start, end *domain.Task, g *graph.Graph[string]) (*Plan, error) {
	span := graph.OrderedSpan(g, start.TaskID, end.TaskID)
	if len(span) == 0 {
		return nil, fmt.Errorf("no execution order from %s to %s", start.TaskID, end.TaskID)
	}

	byID := indexTasks(tasks)
	plan := &Plan{
		RunID:   runID,
		StartID: start.TaskID,
		EndID:   end.TaskID,
		Graph:   g,
		Steps:   make([]PlannedTask, 0, len(span)),
	}

	for i, id := range span {
		task, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("task %s is not part of the task list", id)
		}

		rec, err := p.records.CreateExecutionRecord(ctx, &domain.ExecutionRecord{
			RunID:     runID,
			TaskID:    task.TaskID,
			TaskName:  task.DisplayName(),
			Order:     i + 1,
			Status:    domain.ExecutionStatusNotStarted,
			CreatedAt: p.clock.Now(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create execution record for task %s: %w", task.TaskID, err)
		}

		task.TaskActivityID = rec.ID
		plan.Steps = append(plan.Steps, PlannedTask{Task: task, Record: rec})
	}

	p.logger.Info("execution plan created",
		zap.String("run_id", runID),
		zap.Int("tasks", len(plan.Steps)))

	return plan, nil
}
