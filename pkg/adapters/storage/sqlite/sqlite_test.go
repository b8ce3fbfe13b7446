package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	// :memory: databases are per connection
	db.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err := NewStore(db, zap.NewNop())
	require.NoError(t, err)

	return store
}

func TestStore_Runs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	run := &domain.Run{
		ID:         "run-1",
		WorkflowID: "wf-1",
		Status:     domain.ExecutionStatusNotStarted,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run, got)

	run.Status = domain.ExecutionStatusInvalid
	run.StatusMessage = domain.MessageIncompleteWorkflow
	run.UpdatedAt = created.Add(time.Minute)
	require.NoError(t, store.SaveRun(ctx, run))

	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusInvalid, got.Status)
	assert.Equal(t, domain.MessageIncompleteWorkflow, got.StatusMessage)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, created.Add(time.Minute), got.UpdatedAt)
}

func TestStore_GetRunNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ExecutionRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// Created out of order to check the listing sorts by order
	for _, order := range []int{2, 3, 1} {
		rec, err := store.CreateExecutionRecord(ctx, &domain.ExecutionRecord{
			RunID:    "run-1",
			TaskID:   "t",
			TaskName: "task",
			Order:    order,
			Status:   domain.ExecutionStatusNotStarted,
		})
		require.NoError(t, err)
		require.NotEmpty(t, rec.ID)
	}

	_, err := store.CreateExecutionRecord(ctx, &domain.ExecutionRecord{RunID: "run-2", Order: 1})
	require.NoError(t, err)

	records, err := store.ListExecutionRecords(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, i+1, rec.Order)
		assert.Equal(t, "run-1", rec.RunID)
		assert.Equal(t, domain.ExecutionStatusNotStarted, rec.Status)
	}

	records, err = store.ListExecutionRecords(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStore_RevisionsAndTemplates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rev := &domain.WorkflowRevision{
		ID:         "rev-1",
		WorkflowID: "wf-1",
		Version:    3,
		Tasks: []domain.DAGTask{
			{TaskID: "s", Type: domain.TaskTypeStart},
			{TaskID: "e", Type: domain.TaskTypeEnd, Dependencies: []domain.Dependency{{TaskID: "s"}}},
		},
	}
	require.NoError(t, store.SaveWorkflowRevision(ctx, rev))

	gotRev, err := store.GetWorkflowRevision(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, rev, gotRev)

	tmpl := &domain.TaskTemplate{
		ID:   "tmpl-1",
		Name: "echo",
		Revisions: []domain.TemplateRevision{
			{Version: 1, Image: "alpine", Command: "echo"},
		},
	}
	require.NoError(t, store.SaveTaskTemplate(ctx, tmpl))

	gotTmpl, err := store.GetTaskTemplate(ctx, "tmpl-1")
	require.NoError(t, err)
	assert.Equal(t, tmpl, gotTmpl)

	_, err = store.GetTaskTemplate(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.GetWorkflowRevision(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
