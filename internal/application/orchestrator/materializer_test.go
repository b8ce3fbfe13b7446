package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestResolveRevision(t *testing.T) {
	revisions := []domain.TemplateRevision{{Version: 1}, {Version: 3}, {Version: 2}}

	tests := []struct {
		name    string
		version int
		want    int
	}{
		{name: "exact", version: 2, want: 2},
		{name: "exact first", version: 1, want: 1},
		{name: "absent falls back to highest", version: 5, want: 3},
		{name: "zero falls back to highest", version: 0, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rev, ok := ResolveRevision(revisions, tt.version)
			require.True(t, ok)
			assert.Equal(t, tt.want, rev.Version)
		})
	}

	_, ok := ResolveRevision(nil, 1)
	assert.False(t, ok)
}

func TestMaterializer_TemplateTask(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	m := NewMaterializer(store, zap.NewNop())

	rev, err := store.GetWorkflowRevision(ctx, wfLinear)
	require.NoError(t, err)

	tasks, err := m.Materialize(ctx, rev)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	start, a, end := tasks[0], tasks[1], tasks[2]

	assert.Equal(t, domain.TaskTypeStart, start.TaskType)
	assert.Nil(t, start.Revision)
	assert.Empty(t, start.Dependencies)
	assert.Equal(t, wfLinear, start.WorkflowID)

	assert.Equal(t, "Say hello", a.Name)
	assert.Equal(t, "tmpl-echo", a.TemplateID)
	assert.Equal(t, "echo", a.TemplateName)
	require.NotNil(t, a.Revision)
	assert.Equal(t, 1, a.Revision.Version)
	assert.Equal(t, map[string]string{"message": "hello"}, a.Inputs)
	assert.Equal(t, []string{"start"}, a.Dependencies)
	assert.Equal(t, []domain.Dependency{{TaskID: "start"}}, a.DetailedDependencies)
	assert.Equal(t, "echo", a.DisplayName())

	assert.Equal(t, []string{"a"}, end.Dependencies)
	assert.Empty(t, end.TaskActivityID)
}

func TestMaterializer_VersionFallback(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	require.NoError(t, store.SaveTaskTemplate(ctx, &domain.TaskTemplate{
		ID:   "tmpl-multi",
		Name: "multi",
		Revisions: []domain.TemplateRevision{
			{Version: 1, Image: "v1"}, {Version: 2, Image: "v2"}, {Version: 3, Image: "v3"},
		},
	}))

	m := NewMaterializer(store, zap.NewNop())

	build := func(version int) *domain.Task {
		tasks, err := m.Materialize(ctx, &domain.WorkflowRevision{
			WorkflowID: "wf",
			Tasks: []domain.DAGTask{
				{TaskID: "t", Type: domain.TaskTypeCustomTask, TemplateID: "tmpl-multi", TemplateVersion: version},
			},
		})
		require.NoError(t, err)
		return tasks[0]
	}

	assert.Equal(t, "v2", build(2).Revision.Image)
	assert.Equal(t, "v3", build(5).Revision.Image)
}

func TestMaterializer_DecisionTask(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	m := NewMaterializer(store, zap.NewNop())

	rev, err := store.GetWorkflowRevision(ctx, wfDiamond)
	require.NoError(t, err)

	tasks, err := m.Materialize(ctx, rev)
	require.NoError(t, err)

	assert.Equal(t, "yes", tasks[1].DecisionValue)
	assert.Equal(t, "no", tasks[2].DecisionValue)
	assert.Nil(t, tasks[1].Revision)
	assert.Nil(t, tasks[1].Inputs)
	assert.Equal(t, []string{"a", "b"}, tasks[3].Dependencies)
}

func TestMaterializer_ConfigurationErrors(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	m := NewMaterializer(store, zap.NewNop())

	t.Run("NoRevisions", func(t *testing.T) {
		rev, err := store.GetWorkflowRevision(ctx, wfNoRevisions)
		require.NoError(t, err)

		_, err = m.Materialize(ctx, rev)

		var cfgErr *domain.ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "tmpl-empty", cfgErr.TemplateID)
		assert.Equal(t, "a", cfgErr.TaskID)
	})

	t.Run("MissingTemplate", func(t *testing.T) {
		_, err := m.Materialize(ctx, &domain.WorkflowRevision{
			Tasks: []domain.DAGTask{{TaskID: "t", Type: domain.TaskTypeTemplate, TemplateID: "nope"}},
		})

		var cfgErr *domain.ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
