package domain

import "time"

// ExecutionStatus is the status of a run or of a single task execution
type ExecutionStatus string

const (
	ExecutionStatusNotStarted ExecutionStatus = "not-started"
	ExecutionStatusInProgress ExecutionStatus = "in-progress"
	ExecutionStatusCompleted  ExecutionStatus = "completed"
	ExecutionStatusFailure    ExecutionStatus = "failure"
	ExecutionStatusInvalid    ExecutionStatus = "invalid"
	ExecutionStatusSkipped    ExecutionStatus = "skipped"
	ExecutionStatusCancelled  ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailure, ExecutionStatusInvalid, ExecutionStatusCancelled:
		return true
	}
	return false
}

// Run is one execution instance of a workflow revision
type Run struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflowId"`
	Status        ExecutionStatus `json:"status"`
	StatusMessage string          `json:"statusMessage,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// ExecutionRecord tracks a single task of a run and its position in the plan
type ExecutionRecord struct {
	ID        string          `json:"id"`
	RunID     string          `json:"activityId"`
	TaskID    string          `json:"taskId"`
	TaskName  string          `json:"taskName"`
	Order     int             `json:"order"`
	Status    ExecutionStatus `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// TaskResult is reported by the task runner once a run is resolved
type TaskResult struct {
	Status  ExecutionStatus `json:"status"`
	Message string          `json:"message,omitempty"`
}
