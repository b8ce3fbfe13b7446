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

// Invalid workflow reasons
const (
	ReasonMultipleTerminals = "multiple start or end tasks"
	ReasonMissingTerminal   = "missing start or end task"
	ReasonEmptySpan         = "no execution order could be derived"
	ReasonUnreachableEnd    = "end task is not reachable from start task"
	ReasonUnknownDependency = "dependency on unknown task"
	ReasonOutsideSpan       = "dependency on task outside the start-to-end span"
)

// Validator enforces the structural invariants of a run's DAG before any
// task is dispatched. Every failure is recorded on the run.
type Validator struct {
	runs   ports.RunStore
	clock  clock.Clock
	logger *zap.Logger
}

// NewValidator creates a new workflow validator
func NewValidator(runs ports.RunStore, clk clock.Clock, logger *zap.Logger) *Validator {
	return &Validator{
		runs:   runs,
		clock:  clk,
		logger: logger,
	}
}

// Validate checks the task list and its graph for runID and returns the
// start and end tasks. On failure the run is marked invalid and a
// *domain.InvalidWorkflowError is returned.
func (v *Validator) Validate(ctx context.Context, runID string, tasks []*domain.Task, g *graph.Graph[string]) (start, end *domain.Task, err error) {
	start, end, dup := findTerminals(tasks)

	if dup {
		return nil, nil, v.invalidate(ctx, runID, ReasonMultipleTerminals, domain.MessageMultipleTerminals)
	}

	if start == nil || end == nil {
		return nil, nil, v.invalidate(ctx, runID, ReasonMissingTerminal, "")
	}

	span := graph.OrderedSpan(g, start.TaskID, end.TaskID)
	if len(span) == 0 {
		return nil, nil, v.invalidate(ctx, runID, ReasonEmptySpan, "")
	}

	if !graph.Reachable(g, start.TaskID, end.TaskID) {
		return nil, nil, v.invalidate(ctx, runID, ReasonUnreachableEnd, domain.MessageIncompleteWorkflow)
	}

	// A task in the span waiting on an id outside the task list could never run
	byID := indexTasks(tasks)
	for _, id := range span {
		for _, dep := range byID[id].Dependencies {
			if _, ok := byID[dep]; !ok {
				v.logger.Warn("task depends on unknown task",
					zap.String("run_id", runID),
					zap.String("task_id", id),
					zap.String("dependency", dep))
				return nil, nil, v.invalidate(ctx, runID, ReasonUnknownDependency, domain.MessageUnknownDependency)
			}
		}
	}

	// Nor could one waiting on a known task that is never planned
	inSpan := make(map[string]bool, len(span))
	for _, id := range span {
		inSpan[id] = true
	}
	for _, id := range span {
		for _, dep := range byID[id].Dependencies {
			if !inSpan[dep] {
				v.logger.Warn("task depends on task outside the span",
					zap.String("run_id", runID),
					zap.String("task_id", id),
					zap.String("dependency", dep))
				return nil, nil, v.invalidate(ctx, runID, ReasonOutsideSpan, domain.MessageUnplannedDependency)
			}
		}
	}

	return start, end, nil
}

// invalidate marks the run invalid and builds the error to return
func (v *Validator) invalidate(ctx context.Context, runID, reason, message string) error {
	v.logger.Warn("workflow validation failed",
		zap.String("run_id", runID),
		zap.String("reason", reason))

	invalidErr := &domain.InvalidWorkflowError{RunID: runID, Reason: reason}

	run, err := v.runs.GetRun(ctx, runID)
	if err != nil {
		invalidErr.Err = fmt.Errorf("failed to load run: %w", err)
		return invalidErr
	}

	run.Status = domain.ExecutionStatusInvalid
	run.StatusMessage = message
	run.UpdatedAt = v.clock.Now()

	if err := v.runs.SaveRun(ctx, run); err != nil {
		invalidErr.Err = fmt.Errorf("failed to save run: %w", err)
	}

	return invalidErr
}
