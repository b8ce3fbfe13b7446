package domain

// TaskType identifies the behavior of a task inside a workflow DAG
type TaskType string

const (
	TaskTypeStart      TaskType = "start"
	TaskTypeEnd        TaskType = "end"
	TaskTypeTemplate   TaskType = "template"
	TaskTypeCustomTask TaskType = "customtask"
	TaskTypeDecision   TaskType = "decision"
)

// IsTemplateBacked reports whether tasks of this type bind a template revision
func (t TaskType) IsTemplateBacked() bool {
	return t == TaskTypeTemplate || t == TaskTypeCustomTask
}

// Valid reports whether t is one of the known task types
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeStart, TaskTypeEnd, TaskTypeTemplate, TaskTypeCustomTask, TaskTypeDecision:
		return true
	}
	return false
}

// Property is a declared key/value task parameter
type Property struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Dependency references an upstream task. Everything except TaskID is
// passed through to the task runner untouched.
type Dependency struct {
	TaskID          string                 `json:"taskId"`
	Conditional     bool                   `json:"conditionalExecution,omitempty"`
	ExecutionStatus string                 `json:"executionStatus,omitempty"`
	SwitchCondition string                 `json:"switchCondition,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// DAGTask is a task as declared in a workflow revision
type DAGTask struct {
	TaskID          string       `json:"taskId"`
	Type            TaskType     `json:"type"`
	Label           string       `json:"label"`
	TemplateID      string       `json:"templateId,omitempty"`
	TemplateVersion int          `json:"templateVersion,omitempty"`
	Properties      []Property   `json:"properties,omitempty"`
	DecisionValue   string       `json:"decisionValue,omitempty"`
	Dependencies    []Dependency `json:"dependencies,omitempty"`
}

// WorkflowRevision is an immutable snapshot of a workflow definition
type WorkflowRevision struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflowId"`
	Version    int       `json:"version"`
	Tasks      []DAGTask `json:"tasks"`
}

// TemplateRevision is one version of a task template
type TemplateRevision struct {
	Version   int      `json:"version"`
	Image     string   `json:"image,omitempty"`
	Command   string   `json:"command,omitempty"`
	Arguments []string `json:"arguments,omitempty"`
}

// TaskTemplate is a reusable task definition with its revision history
type TaskTemplate struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Revisions []TemplateRevision `json:"revisions"`
}

// Task is the in-memory view of a DAG task for a single run.
// It is rebuilt from the revision on every run and never persisted directly.
type Task struct {
	TaskID     string   `json:"taskId"`
	TaskType   TaskType `json:"taskType"`
	Name       string   `json:"name"`
	WorkflowID string   `json:"workflowId"`

	// Set for template and customtask tasks only
	TemplateID   string            `json:"templateId,omitempty"`
	TemplateName string            `json:"templateName,omitempty"`
	Revision     *TemplateRevision `json:"revision,omitempty"`
	Inputs       map[string]string `json:"inputs,omitempty"`

	// Set for decision tasks only
	DecisionValue string `json:"decisionValue,omitempty"`

	Dependencies         []string     `json:"dependencies"`
	DetailedDependencies []Dependency `json:"detailedDependencies,omitempty"`

	// Identifier of this task's execution record, assigned during planning
	TaskActivityID string `json:"taskActivityId,omitempty"`
}

// DisplayName returns the name recorded on the task's execution record
func (t *Task) DisplayName() string {
	if t.Revision != nil && t.TemplateName != "" {
		return t.TemplateName
	}
	return t.Name
}
