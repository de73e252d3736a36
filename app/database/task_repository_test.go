package database

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertTaskDeduplicatesAndMergesPayload(t *testing.T) {
	ctx := context.Background()
	tasks := NewTaskRepository(newTestDB(t))

	require.NoError(t, tasks.UpsertTask(ctx, "alice:0", Task{
		ID: "t1", Owner: "alice", Type: 0, Payload: map[string]any{"a": 1.0, "b": "x"},
	}, true))

	claimed, err := tasks.TryClaim(ctx, "t1", 10)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, tasks.UpsertTask(ctx, "alice:0", Task{
		ID: "t2", Owner: "alice", Type: 0, Manual: true, Payload: map[string]any{"b": "y"},
	}, true))

	all, err := tasks.GetOwnerTasks(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, all, 1, "same dedup key keeps one row")

	task := all[0]
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, ProcessingFree, task.Processing, "upsert resets the lock")
	assert.True(t, task.Manual)
	assert.Equal(t, map[string]any{"a": 1.0, "b": "y"}, task.Payload)

	require.NoError(t, tasks.UpsertTask(ctx, "alice:0", Task{
		ID: "t3", Owner: "alice", Type: 0, Payload: map[string]any{"c": true},
	}, false))
	task2, err := tasks.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"c": true}, task2.Payload, "without merge the payload is replaced")
}

func TestInsertTasksKeepsEveryRow(t *testing.T) {
	ctx := context.Background()
	tasks := NewTaskRepository(newTestDB(t))

	require.NoError(t, tasks.InsertTasks(ctx, []Task{
		{ID: "m1", Owner: "alice", Type: 3, BatchItemIDs: []string{"p1"}},
		{ID: "m2", Owner: "alice", Type: 3, BatchItemIDs: []string{"p2", "p3"}},
	}))
	require.NoError(t, tasks.InsertTasks(ctx, nil))

	all, err := tasks.GetOwnerTasks(ctx, "alice", []int{3})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []string{"p2", "p3"}, all[1].BatchItemIDs)

	count, err := tasks.GetTaskCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestTryClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	tasks := NewTaskRepository(newTestDB(t))
	require.NoError(t, tasks.UpsertTask(ctx, "alice:1", Task{ID: "t1", Owner: "alice", Type: 1}, false))

	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(stamp int64) {
			defer wg.Done()
			ok, err := tasks.TryClaim(ctx, "t1", stamp)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(int64(100 + i))
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestReleaseTaskRequiresMatchingStamp(t *testing.T) {
	ctx := context.Background()
	tasks := NewTaskRepository(newTestDB(t))
	require.NoError(t, tasks.UpsertTask(ctx, "alice:1", Task{ID: "t1", Owner: "alice", Type: 1}, false))

	ok, err := tasks.TryClaim(ctx, "t1", 50)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tasks.ReleaseTask(ctx, "t1", 49)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tasks.ReleaseTask(ctx, "t1", 50)
	require.NoError(t, err)
	assert.True(t, ok)

	// A frozen task is never released by a stale claim
	ok, err = tasks.TryClaim(ctx, "t1", 51)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = tasks.FreezeTasks(ctx, "alice", nil)
	require.NoError(t, err)
	ok, err = tasks.ReleaseTask(ctx, "t1", 51)
	require.NoError(t, err)
	assert.False(t, ok)

	task, err := tasks.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, ProcessingFrozen, task.Processing)
}

func TestSampleFreeSkipsClaimedAndFrozen(t *testing.T) {
	ctx := context.Background()
	tasks := NewTaskRepository(newTestDB(t))
	require.NoError(t, tasks.UpsertTask(ctx, "alice:1", Task{ID: "free", Owner: "alice", Type: 1}, false))
	require.NoError(t, tasks.UpsertTask(ctx, "alice:2", Task{ID: "claimed", Owner: "alice", Type: 2}, false))
	require.NoError(t, tasks.UpsertTask(ctx, "bob:1", Task{ID: "frozen", Owner: "bob", Type: 1}, false))
	require.NoError(t, tasks.UpsertTask(ctx, "bob:5", Task{ID: "other-type", Owner: "bob", Type: 5}, false))

	_, err := tasks.TryClaim(ctx, "claimed", 10)
	require.NoError(t, err)
	_, err = tasks.FreezeTasks(ctx, "bob", []int{1})
	require.NoError(t, err)

	sample, err := tasks.SampleFree(ctx, []int{1, 2}, 10)
	require.NoError(t, err)
	require.Len(t, sample, 1)
	assert.Equal(t, "free", sample[0].ID)

	empty, err := tasks.SampleFree(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFreezeUnfreezeAndResetLocks(t *testing.T) {
	ctx := context.Background()
	tasks := NewTaskRepository(newTestDB(t))
	require.NoError(t, tasks.UpsertTask(ctx, "alice:1", Task{ID: "a1", Owner: "alice", Type: 1}, false))
	require.NoError(t, tasks.UpsertTask(ctx, "alice:2", Task{ID: "a2", Owner: "alice", Type: 2}, false))
	require.NoError(t, tasks.UpsertTask(ctx, "bob:1", Task{ID: "b1", Owner: "bob", Type: 1}, false))

	n, err := tasks.FreezeTasks(ctx, "alice", []int{1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = tasks.TryClaim(ctx, "a2", 7)
	require.NoError(t, err)
	_, err = tasks.TryClaim(ctx, "b1", 8)
	require.NoError(t, err)

	n, err = tasks.ResetTaskLocks(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "frozen tasks are not reset")

	n, err = tasks.UnfreezeTasks(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = tasks.ResetTaskLocks(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	claimed, err := tasks.TryClaim(ctx, "a1", 20)
	require.NoError(t, err)
	require.True(t, claimed)
	deleted, err := tasks.DeleteClaimed(ctx, "a1", 19)
	require.NoError(t, err)
	assert.False(t, deleted, "another claim's stamp does not delete")
	deleted, err = tasks.DeleteClaimed(ctx, "a1", 20)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = tasks.DeleteTask(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, deleted)

	missing, err := tasks.GetTask(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
