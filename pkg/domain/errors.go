package domain

import (
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

var (
	// ErrNotFound is returned by stores when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrRunNotActive is returned when cancelling a run that is not dispatched
	ErrRunNotActive = errors.New("run is not active")

	// ErrRunAlreadyStarted is returned when executing a run that left not-started
	ErrRunAlreadyStarted = errors.New("run already started")
)

// Run status messages
const (
	MessageIncompleteWorkflow  = "Failed to run workflow: Incomplete workflow"
	MessageMultipleTerminals   = "Failed to run workflow: Multiple start or end tasks"
	MessageUnknownDependency   = "Failed to run workflow: Unknown task dependency"
	MessageUnplannedDependency = "Failed to run workflow: Task depends on a task outside the start-to-end path"
	MessagePlanFailed          = "Failed to run workflow: Unable to create execution plan"
)

// ConfigurationError reports a task list that cannot be constructed,
// such as a template without any revision.
type ConfigurationError struct {
	TemplateID string
	TaskID     string
	Err        error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("invalid task template selected: %s (task %s)", e.TemplateID, e.TaskID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// InvalidWorkflowError reports a structural defect found before dispatch.
// The run record has already been marked invalid when this is returned,
// unless Err carries the persistence failure that prevented it.
type InvalidWorkflowError struct {
	RunID  string
	Reason string
	Err    error
}

func (e *InvalidWorkflowError) Error() string {
	msg := fmt.Sprintf("invalid workflow for run %s: %s", e.RunID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidWorkflowError) Unwrap() error { return e.Err }

// RunWorkflowError reports a failure of the asynchronous execution phase
type RunWorkflowError struct {
	RunID string
	Err   error
	stack string
}

// NewRunWorkflowError wraps cause and captures the current stack.
// cause may be an error or a recovered panic value.
func NewRunWorkflowError(runID string, cause interface{}) *RunWorkflowError {
	goerr := goerrors.Wrap(cause, 1)
	var err error = goerr
	if e, ok := cause.(error); ok {
		err = e
	}
	return &RunWorkflowError{
		RunID: runID,
		Err:   err,
		stack: goerr.ErrorStack(),
	}
}

func (e *RunWorkflowError) Error() string {
	return fmt.Sprintf("failed to run workflow %s: %v", e.RunID, e.Err)
}

func (e *RunWorkflowError) Unwrap() error { return e.Err }

// Stack returns the stack trace captured when the error was created
func (e *RunWorkflowError) Stack() string { return e.stack }
