package tasks

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-tag/app/database"
)

type testEnv struct {
	db      *database.DB
	tasks   *database.TaskRepository
	items   *database.ItemRepository
	users   *database.UserRepository
	content *database.ContentRepository
	store   *Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)

	settings := DefaultSettings()
	graph, err := NewGraph(settings.Successors)
	require.NoError(t, err)

	env := &testEnv{
		db:      db,
		tasks:   database.NewTaskRepository(db),
		items:   database.NewItemRepository(db),
		users:   database.NewUserRepository(db),
		content: database.NewContentRepository(db),
	}
	env.store = NewStore(env.tasks, env.items, env.users, graph, settings)
	return env
}

func (e *testEnv) addUser(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, e.users.UpsertUser(context.Background(), database.User{ID: id, Name: id, Provider: "rss"}))
}

func (e *testEnv) addPosts(t *testing.T, owner string, n int) []string {
	t.Helper()

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%04d", owner, i)
		ok, err := e.content.InsertPost(context.Background(), database.Post{
			ID:          id,
			Owner:       owner,
			GUID:        id,
			Title:       fmt.Sprintf("Golang scheduler post %d", i),
			Content:     "<p>Workers claim tasks from the sqlite queue.</p>",
			PublishedAt: time.Now(),
		})
		require.NoError(t, err)
		require.True(t, ok)
		ids = append(ids, id)
	}
	return ids
}

func (e *testEnv) ownerTypes(t *testing.T, owner string) []TaskType {
	t.Helper()

	rows, err := e.tasks.GetOwnerTasks(context.Background(), owner, nil)
	require.NoError(t, err)

	types := make([]TaskType, 0, len(rows))
	for _, row := range rows {
		types = append(types, TaskType(row.Type))
	}
	sortTypes(types)
	return types
}

func (e *testEnv) setResults(t *testing.T, claim Claim, value string) {
	t.Helper()

	q, ok := claim.Type.Queue()
	require.True(t, ok)
	for _, item := range claim.Items {
		require.NoError(t, e.items.SetResult(context.Background(), q, item.ID, value))
	}
}
