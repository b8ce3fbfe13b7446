package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Dispatch is the pending outcome of a dispatched run
type Dispatch struct {
	runID  string
	logger *zap.Logger

	once sync.Once
	done chan struct{}
	ok   bool
	err  error
}

func newDispatch(runID string, logger *zap.Logger) *Dispatch {
	return &Dispatch{
		runID:  runID,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// RunID returns the identifier of the dispatched run
func (d *Dispatch) RunID() string {
	return d.runID
}

// Done is closed once the run has been resolved
func (d *Dispatch) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the run is resolved and reports whether the task runner
// completed without error. If ctx ends first only the wait stops; the run
// keeps going and can be cancelled through the manager.
func (d *Dispatch) Wait(ctx context.Context) (bool, error) {
	select {
	case <-d.done:
		return d.ok, d.err
	case <-ctx.Done():
		d.logger.Warn("stopped waiting for run",
			zap.String("run_id", d.runID),
			zap.Error(ctx.Err()))
		return false, ctx.Err()
	}
}

// resolve records the outcome; only the first call has an effect
func (d *Dispatch) resolve(ok bool, err error) {
	d.once.Do(func() {
		d.ok = ok
		d.err = err
		close(d.done)
	})
}
