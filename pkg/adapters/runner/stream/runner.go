// Package stream implements the task runner port by handing execution plans
// to an external runner over the event bus.
//
// The external runner consumes run.plan events from the task.events topic,
// executes the tasks and writes the run's terminal status to the run store.
// RunTasks returns once that status is observed.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/domain/graph"
	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMinPollInterval = 50 * time.Millisecond
	defaultMaxPollInterval = 5 * time.Second
)

// Config holds the runner settings
type Config struct {
	MinPollInterval time.Duration
	MaxPollInterval time.Duration

	// Optional
	Clock clock.Clock
}

// Runner publishes plans and awaits their resolution
type Runner struct {
	bus     ports.EventBus
	runs    ports.RunStore
	clock   clock.Clock
	logger  *zap.Logger
	minPoll time.Duration
	maxPoll time.Duration
}

var _ ports.TaskRunner = (*Runner)(nil)

// NewRunner creates a new stream runner
func NewRunner(bus ports.EventBus, runs ports.RunStore, cfg Config, logger *zap.Logger) *Runner {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	minPoll := cfg.MinPollInterval
	if minPoll <= 0 {
		minPoll = defaultMinPollInterval
	}
	maxPoll := cfg.MaxPollInterval
	if maxPoll < minPoll {
		maxPoll = defaultMaxPollInterval
		if maxPoll < minPoll {
			maxPoll = minPoll
		}
	}

	return &Runner{
		bus:     bus,
		runs:    runs,
		clock:   clk,
		logger:  logger,
		minPoll: minPoll,
		maxPoll: maxPoll,
	}
}

// RunTasks publishes the plan and blocks until the run reaches a terminal
// status or ctx is done. A run that ends in any status other than completed
// is reported as an error alongside its result.
func (r *Runner) RunTasks(ctx context.Context, g *graph.Graph[string], tasks []*domain.Task, runID, startID, endID string) (*domain.TaskResult, error) {
	event := ports.Event{
		ID:        uuid.NewString(),
		Type:      ports.EventTypeRunPlan,
		Timestamp: r.clock.Now(),
		RunID:     runID,
		Data: map[string]interface{}{
			"start_id": startID,
			"end_id":   endID,
			"tasks":    tasks,
			"edges":    g.Edges(),
		},
	}

	if err := r.bus.Publish(ctx, ports.TopicTaskEvents, event); err != nil {
		return nil, fmt.Errorf("failed to publish plan: %w", err)
	}

	r.logger.Info("plan published",
		zap.String("run_id", runID),
		zap.Int("tasks", len(tasks)))

	return r.await(ctx, runID)
}

// await polls the run record with exponential backoff
func (r *Runner) await(ctx context.Context, runID string) (*domain.TaskResult, error) {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.minPoll,
		MaxInterval:         r.maxPoll,
		Multiplier:          2,
		RandomizationFactor: 0.2,
		Stop:                backoff.Stop,
		Clock:               r.clock,
	}
	b.Reset()

	ticker := backoff.NewTicker(backoff.WithContext(b, ctx))
	defer ticker.Stop()

	for range ticker.C {
		run, err := r.runs.GetRun(ctx, runID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("failed to get run: %w", err)
			}
			if ctx.Err() != nil {
				break
			}
			r.logger.Warn("failed to poll run status",
				zap.String("run_id", runID),
				zap.Error(err))
			continue
		}

		if !run.Status.Terminal() {
			continue
		}

		result := &domain.TaskResult{
			Status:  run.Status,
			Message: run.StatusMessage,
		}
		if run.Status != domain.ExecutionStatusCompleted {
			return result, fmt.Errorf("run %s finished with status %s: %s", runID, run.Status, run.StatusMessage)
		}
		return result, nil
	}

	return nil, ctx.Err()
}
