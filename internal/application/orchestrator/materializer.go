package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
	"go.uber.org/zap"
)

// Materializer converts a workflow revision into the task list of a run
type Materializer struct {
	templates ports.TemplateSource
	logger    *zap.Logger
}

// NewMaterializer creates a new materializer
func NewMaterializer(templates ports.TemplateSource, logger *zap.Logger) *Materializer {
	return &Materializer{
		templates: templates,
		logger:    logger,
	}
}

// Materialize builds the in-memory task list for a revision.
// It fails with *domain.ConfigurationError when a referenced template is
// missing or has no revisions.
func (m *Materializer) Materialize(ctx context.Context, rev *domain.WorkflowRevision) ([]*domain.Task, error) {
	if rev == nil {
		return nil, fmt.Errorf("revision is nil")
	}

	tasks := make([]*domain.Task, 0, len(rev.Tasks))
	for _, dagTask := range rev.Tasks {
		task := &domain.Task{
			TaskID:     dagTask.TaskID,
			TaskType:   dagTask.Type,
			Name:       dagTask.Label,
			WorkflowID: rev.WorkflowID,
		}

		switch {
		case dagTask.Type.IsTemplateBacked():
			if err := m.bindTemplate(ctx, task, dagTask); err != nil {
				return nil, err
			}
		case dagTask.Type == domain.TaskTypeDecision:
			task.DecisionValue = dagTask.DecisionValue
		}

		task.Dependencies = make([]string, 0, len(dagTask.Dependencies))
		for _, dep := range dagTask.Dependencies {
			task.Dependencies = append(task.Dependencies, dep.TaskID)
		}
		task.DetailedDependencies = dagTask.Dependencies

		tasks = append(tasks, task)
	}

	m.logger.Debug("task list materialized",
		zap.String("workflow_id", rev.WorkflowID),
		zap.String("revision_id", rev.ID),
		zap.Int("tasks", len(tasks)))

	return tasks, nil
}

// bindTemplate resolves the template revision and inputs of a template-backed task
func (m *Materializer) bindTemplate(ctx context.Context, task *domain.Task, dagTask domain.DAGTask) error {
	tmpl, err := m.templates.GetTaskTemplate(ctx, dagTask.TemplateID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.ConfigurationError{TemplateID: dagTask.TemplateID, TaskID: dagTask.TaskID, Err: err}
		}
		return fmt.Errorf("failed to load task template %s: %w", dagTask.TemplateID, err)
	}

	revision, ok := ResolveRevision(tmpl.Revisions, dagTask.TemplateVersion)
	if !ok {
		return &domain.ConfigurationError{TemplateID: dagTask.TemplateID, TaskID: dagTask.TaskID}
	}

	if revision.Version != dagTask.TemplateVersion {
		m.logger.Warn("requested template version not found, using latest",
			zap.String("task_id", dagTask.TaskID),
			zap.String("template_id", dagTask.TemplateID),
			zap.Int("requested_version", dagTask.TemplateVersion),
			zap.Int("bound_version", revision.Version))
	}

	task.TemplateID = tmpl.ID
	task.TemplateName = tmpl.Name
	task.Revision = &revision

	task.Inputs = make(map[string]string, len(dagTask.Properties))
	for _, prop := range dagTask.Properties {
		task.Inputs[prop.Key] = prop.Value
	}

	return nil
}

// ResolveRevision picks the revision with the requested version, falling
// back to the highest available version. It returns false when revisions
// is empty.
func ResolveRevision(revisions []domain.TemplateRevision, version int) (domain.TemplateRevision, bool) {
	if len(revisions) == 0 {
		return domain.TemplateRevision{}, false
	}

	latest := revisions[0]
	for _, rev := range revisions {
		if rev.Version == version {
			return rev, true
		}
		if rev.Version > latest.Version {
			latest = rev
		}
	}

	return latest, true
}
