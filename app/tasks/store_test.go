package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-tag/app/database"
)

func TestStoreDrainsBatchedTaskAndEnqueuesSuccessors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addUser(t, "alice")
	env.addPosts(t, "alice", 250)

	added, err := env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeTags}, false)
	require.NoError(t, err)
	require.True(t, added)

	first := env.store.Claim(ctx, []TaskType{TaskTypeTags})
	require.Equal(t, TaskTypeTags, first.Type)
	assert.Len(t, first.Items, 200)
	env.setResults(t, first, `["golang"]`)
	require.NoError(t, env.store.Finish(ctx, first))

	second := env.store.Claim(ctx, []TaskType{TaskTypeTags})
	require.Equal(t, TaskTypeTags, second.Type)
	assert.Len(t, second.Items, 50)
	assert.Greater(t, second.Stamp, first.Stamp)
	env.setResults(t, second, `["golang"]`)
	require.NoError(t, env.store.Finish(ctx, second))

	// The queue is empty now: the claim completes the task and hands back NOOP
	third := env.store.Claim(ctx, []TaskType{TaskTypeTags})
	assert.True(t, third.IsNoop())

	assert.Equal(t, []TaskType{TaskTypeCleanBigrams}, env.ownerTypes(t, "alice"))
}

func TestStoreManualDrainAddsNoSuccessors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addUser(t, "alice")

	_, err := env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeTags}, true)
	require.NoError(t, err)

	claim := env.store.Claim(ctx, []TaskType{TaskTypeTags})
	assert.True(t, claim.IsNoop())
	assert.Empty(t, env.ownerTypes(t, "alice"))
}

func TestStoreClaimHoldsTaskWhileBatchIsOut(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addUser(t, "alice")
	env.addPosts(t, "alice", 10)

	_, err := env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeTags}, false)
	require.NoError(t, err)

	first := env.store.Claim(ctx, []TaskType{TaskTypeTags})
	require.False(t, first.IsNoop())

	second := env.store.Claim(ctx, []TaskType{TaskTypeTags})
	assert.True(t, second.IsNoop(), "the task is locked while its batch is out")

	require.NoError(t, env.store.Release(ctx, first))

	third := env.store.Claim(ctx, []TaskType{TaskTypeTags})
	require.False(t, third.IsNoop())
	assert.Len(t, third.Items, 10, "released items are pulled again")
}

func TestStoreReleasesTaskWhenPendingItemsAreLockedElsewhere(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addUser(t, "alice")
	env.addPosts(t, "alice", 3)

	_, err := env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeTags}, false)
	require.NoError(t, err)

	q, _ := TaskTypeTags.Queue()
	locked, err := env.items.PullBatch(ctx, q, "alice", 10, 1)
	require.NoError(t, err)
	require.Len(t, locked, 3)

	claim := env.store.Claim(ctx, []TaskType{TaskTypeTags})
	assert.True(t, claim.IsNoop())

	rows, err := env.tasks.GetOwnerTasks(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1, "the task is not completed while items are pending")
	assert.Equal(t, database.ProcessingFree, rows[0].Processing)
}

func TestStoreRemovesOrphanedTasks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.store.AddTask(ctx, TaskRequest{Owner: "ghost", Type: TaskTypeDownload}, false)
	require.NoError(t, err)

	claim := env.store.Claim(ctx, []TaskType{TaskTypeDownload})
	assert.True(t, claim.IsNoop())
	assert.Empty(t, env.ownerTypes(t, "ghost"))
}

func TestStoreFinishIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addUser(t, "alice")

	_, err := env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeDownload}, false)
	require.NoError(t, err)

	claim := env.store.Claim(ctx, []TaskType{TaskTypeDownload})
	require.Equal(t, TaskTypeDownload, claim.Type)
	require.NotNil(t, claim.User)
	assert.Equal(t, "alice", claim.User.ID)

	require.NoError(t, env.store.Finish(ctx, claim))
	assert.Equal(t, []TaskType{TaskTypeTags}, env.ownerTypes(t, "alice"))

	rows, err := env.tasks.GetOwnerTasks(ctx, "alice", nil)
	require.NoError(t, err)
	removed, err := env.store.Remove(ctx, rows[0].ID)
	require.NoError(t, err)
	require.True(t, removed)

	// A second finish of the same claim deletes nothing and adds nothing
	require.NoError(t, env.store.Finish(ctx, claim))
	assert.Empty(t, env.ownerTypes(t, "alice"))
}

func TestStoreFinishKeepsRequeuedTask(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addUser(t, "alice")

	_, err := env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeDownload}, false)
	require.NoError(t, err)

	claim := env.store.Claim(ctx, []TaskType{TaskTypeDownload})
	require.Equal(t, TaskTypeDownload, claim.Type)

	// Queued again while the worker still runs the old claim
	_, err = env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeDownload}, false)
	require.NoError(t, err)

	require.NoError(t, env.store.Finish(ctx, claim))
	assert.Equal(t, []TaskType{TaskTypeDownload}, env.ownerTypes(t, "alice"))

	again := env.store.Claim(ctx, []TaskType{TaskTypeDownload})
	require.Equal(t, TaskTypeDownload, again.Type)
	require.NoError(t, env.store.Finish(ctx, again))
	assert.Equal(t, []TaskType{TaskTypeTags}, env.ownerTypes(t, "alice"))
}

func TestStoreFinishManualTaskAddsNoSuccessors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addUser(t, "alice")

	_, err := env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeDownload}, true)
	require.NoError(t, err)

	claim := env.store.Claim(ctx, []TaskType{TaskTypeDownload})
	require.False(t, claim.IsNoop())
	require.NoError(t, env.store.Finish(ctx, claim))

	assert.Empty(t, env.ownerTypes(t, "alice"))
}

func TestStoreFreezeAndUnfreeze(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addUser(t, "alice")

	_, err := env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeDownload}, false)
	require.NoError(t, err)
	_, err = env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeClustering}, false)
	require.NoError(t, err)

	n, err := env.store.Freeze(ctx, "alice", TaskTypeDownload)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	claim := env.store.Claim(ctx, []TaskType{TaskTypeDownload})
	assert.True(t, claim.IsNoop(), "frozen tasks are never claimed")

	n, err = env.store.Freeze(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = env.store.Unfreeze(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	claim = env.store.Claim(ctx, []TaskType{TaskTypeDownload})
	assert.Equal(t, TaskTypeDownload, claim.Type)
}

func TestStoreAddTask(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	t.Run("download replaces the previous request", func(t *testing.T) {
		_, err := env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeDownload,
			Payload: map[string]any{"feeds": []any{"https://a.example/rss"}}}, false)
		require.NoError(t, err)
		_, err = env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeDownload,
			Payload: map[string]any{"since": "today"}}, false)
		require.NoError(t, err)

		rows, err := env.tasks.GetOwnerTasks(ctx, "alice", []int{int(TaskTypeDownload)})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, map[string]any{"since": "today"}, rows[0].Payload)
	})

	t.Run("other types merge payload keys", func(t *testing.T) {
		_, err := env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeTags,
			Payload: map[string]any{"a": "1"}}, false)
		require.NoError(t, err)
		_, err = env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeTags,
			Payload: map[string]any{"b": "2"}}, false)
		require.NoError(t, err)

		rows, err := env.tasks.GetOwnerTasks(ctx, "alice", []int{int(TaskTypeTags)})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, map[string]any{"a": "1", "b": "2"}, rows[0].Payload)
	})

	t.Run("mark stores one task per item", func(t *testing.T) {
		added, err := env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeMark}, false)
		require.NoError(t, err)
		assert.False(t, added, "no items means nothing to add")

		added, err = env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeMark, Items: []map[string]any{
			{"post_id": "p1", "read": true},
			{"post_id": "p2", "read": false},
		}}, false)
		require.NoError(t, err)
		assert.True(t, added)

		rows, err := env.tasks.GetOwnerTasks(ctx, "alice", []int{int(TaskTypeMark)})
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("invalid requests", func(t *testing.T) {
		_, err := env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskType(99)}, false)
		assert.ErrorIs(t, err, ErrUnknownTaskType)

		_, err = env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeNoop}, false)
		assert.ErrorIs(t, err, ErrUnknownTaskType)

		_, err = env.store.AddTask(ctx, TaskRequest{Type: TaskTypeTags}, false)
		assert.Error(t, err)
	})
}

func TestStorePinnedBatchVariant(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addUser(t, "alice")
	ids := env.addPosts(t, "alice", 5)

	_, err := env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeTagsBatch, BatchItemIDs: ids[:2]}, false)
	require.NoError(t, err)

	claim := env.store.Claim(ctx, []TaskType{TaskTypeTagsBatch})
	require.Equal(t, TaskTypeTagsBatch, claim.Type)
	assert.ElementsMatch(t, ids[:2], claim.ItemIDs())
	env.setResults(t, claim, `["pinned"]`)
	require.NoError(t, env.store.Finish(ctx, claim))

	drained := env.store.Claim(ctx, []TaskType{TaskTypeTagsBatch})
	assert.True(t, drained.IsNoop())
	assert.Empty(t, env.ownerTypes(t, "alice"), "batch variants have no successors")

	q, _ := TaskTypeTags.Queue()
	pending, err := env.items.CountPending(ctx, q, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)
}

func TestStoreCompleteIfDrained(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addUser(t, "alice")
	env.addUser(t, "bob")
	env.addPosts(t, "bob", 1)

	_, err := env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeNER}, false)
	require.NoError(t, err)
	_, err = env.store.AddTask(ctx, TaskRequest{Owner: "bob", Type: TaskTypeNER}, false)
	require.NoError(t, err)

	done, err := env.store.CompleteIfDrained(ctx, "alice", TaskTypeNER)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []TaskType{TaskTypeClustering}, env.ownerTypes(t, "alice"))

	done, err = env.store.CompleteIfDrained(ctx, "bob", TaskTypeNER)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, []TaskType{TaskTypeNER}, env.ownerTypes(t, "bob"))

	_, err = env.store.CompleteIfDrained(ctx, "alice", TaskTypeDownload)
	assert.Error(t, err)
}

func TestStoreStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addUser(t, "alice")
	env.addPosts(t, "alice", 3)

	_, err := env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeTags}, false)
	require.NoError(t, err)
	_, err = env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeDownload}, true)
	require.NoError(t, err)
	_, err = env.store.Freeze(ctx, "alice", TaskTypeDownload)
	require.NoError(t, err)

	statuses, err := env.store.Status(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byType := make(map[TaskType]TaskStatus)
	for _, s := range statuses {
		byType[s.Type] = s
	}

	tags := byType[TaskTypeTags]
	assert.Equal(t, TaskStateQueued, tags.State)
	assert.Equal(t, "Tags extraction", tags.Title)
	require.NotNil(t, tags.Remaining)
	assert.Equal(t, 3, *tags.Remaining)

	download := byType[TaskTypeDownload]
	assert.Equal(t, TaskStateFrozen, download.State)
	assert.True(t, download.Manual)
	assert.Nil(t, download.Remaining)
}

func TestStoreResetLocks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addUser(t, "alice")
	env.addPosts(t, "alice", 4)

	_, err := env.store.AddTask(ctx, TaskRequest{Owner: "alice", Type: TaskTypeTags}, false)
	require.NoError(t, err)

	claim := env.store.Claim(ctx, []TaskType{TaskTypeTags})
	require.Len(t, claim.Items, 4)

	// The worker died: nothing is claimable until locks are reset
	assert.True(t, env.store.Claim(ctx, []TaskType{TaskTypeTags}).IsNoop())

	tasksReset, itemsReset, err := env.store.ResetLocks(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tasksReset)
	assert.Equal(t, int64(4), itemsReset)

	again := env.store.Claim(ctx, []TaskType{TaskTypeTags})
	assert.Len(t, again.Items, 4)
}

func TestStoreConcurrentClaimsAreExclusive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	owners := []string{"u1", "u2", "u3", "u4", "u5"}
	for _, owner := range owners {
		env.addUser(t, owner)
		_, err := env.store.AddTask(ctx, TaskRequest{Owner: owner, Type: TaskTypeDownload}, false)
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claim := env.store.Claim(ctx, []TaskType{TaskTypeDownload})
				if claim.IsNoop() {
					return
				}
				mu.Lock()
				claimed[claim.Task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, len(owners))
	for id, n := range claimed {
		assert.Equal(t, 1, n, "task %s claimed more than once", id)
	}
}

func TestStoreStampIsStrictlyIncreasing(t *testing.T) {
	env := newTestEnv(t)
	fixed := time.UnixMilli(1_700_000_000_000)
	env.store.now = func() time.Time { return fixed }

	var (
		mu     sync.Mutex
		stamps = make(map[int64]bool)
		wg     sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := env.store.stamp()
			mu.Lock()
			stamps[s] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, stamps, 50)
	for s := range stamps {
		assert.GreaterOrEqual(t, s, fixed.UnixMilli())
	}
}
