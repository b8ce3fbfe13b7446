package memory

import (
	"context"
	"testing"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RunCopies(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	run := &domain.Run{ID: "run-1", WorkflowID: "wf-1", Status: domain.ExecutionStatusNotStarted}
	require.NoError(t, store.SaveRun(ctx, run))

	// Mutating the caller's value must not leak into the store
	run.Status = domain.ExecutionStatusCompleted

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusNotStarted, got.Status)

	got.Status = domain.ExecutionStatusFailure
	again, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusNotStarted, again.Status)
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_, err := store.GetRun(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.GetWorkflowRevision(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.GetTaskTemplate(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = store.UpdateExecutionRecord(ctx, &domain.ExecutionRecord{ID: "missing", RunID: "run-1"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ExecutionRecords(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	var ids []string
	for _, order := range []int{3, 1, 2} {
		rec, err := store.CreateExecutionRecord(ctx, &domain.ExecutionRecord{
			RunID:  "run-1",
			TaskID: "t",
			Order:  order,
			Status: domain.ExecutionStatusNotStarted,
		})
		require.NoError(t, err)
		require.NotEmpty(t, rec.ID)
		ids = append(ids, rec.ID)
	}
	assert.NotEqual(t, ids[0], ids[1])

	records, err := store.ListExecutionRecords(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{records[0].Order, records[1].Order, records[2].Order})

	records[0].Status = domain.ExecutionStatusCompleted
	require.NoError(t, store.UpdateExecutionRecord(ctx, records[0]))

	records, err = store.ListExecutionRecords(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, records[0].Status)
}

func TestStore_ListRuns(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, store.SaveRun(ctx, &domain.Run{ID: id}))
	}

	ids, err := store.ListRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}
