package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewConnection(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, _, err = RunMigrations(db)
	require.NoError(t, err)

	return db
}

func insertPosts(t *testing.T, content *ContentRepository, owner string, n int) []string {
	t.Helper()

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-post-%03d", owner, i)
		ok, err := content.InsertPost(context.Background(), Post{
			ID:          id,
			Owner:       owner,
			GUID:        id,
			Title:       fmt.Sprintf("Post %d", i),
			Content:     "content",
			PublishedAt: time.Now(),
		})
		require.NoError(t, err)
		require.True(t, ok)
		ids = append(ids, id)
	}
	return ids
}
