package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-tag/app/database"
	"github.com/lysyi3m/rss-tag/app/feed"
	"github.com/lysyi3m/rss-tag/app/tasks"
)

const testFeed = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Scheduler Blog</title>
    <link>https://example.com</link>
    <item>
      <title>Claiming tasks</title>
      <link>https://example.com/claiming</link>
      <description>Workers claim tasks from a shared queue.</description>
      <guid>post-1</guid>
      <pubDate>Mon, 03 Jul 2023 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Freezing tasks</title>
      <link>https://example.com/freezing</link>
      <description>Frozen tasks are never claimed.</description>
      <guid>post-2</guid>
      <pubDate>Mon, 03 Jul 2023 11:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

type rssEnv struct {
	db      *database.DB
	content *database.ContentRepository
	rss     *RSS
	agents  []string
}

func newRSSEnv(t *testing.T) *rssEnv {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "rss.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)

	content := database.NewContentRepository(db)
	return &rssEnv{
		db:      db,
		content: content,
		rss:     NewRSS(content, &http.Client{}, feed.NewParser(), "rss-tag-test", 5*time.Second),
	}
}

func (e *rssEnv) serve(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		e.agents = append(e.agents, r.UserAgent())
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testFeed))
	})
	mux.HandleFunc("/private.xml", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/broken.xml", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func userWithFeeds(feeds ...string) *database.User {
	return &database.User{ID: "alice", Provider: NameRSS, Settings: database.UserSettings{Feeds: feeds}}
}

func TestDownloadStoresNewPosts(t *testing.T) {
	ctx := context.Background()
	env := newRSSEnv(t)
	srv := env.serve(t)
	user := userWithFeeds(srv.URL + "/feed.xml")

	result, err := env.rss.Download(ctx, user, database.Task{ID: "t1", Owner: "alice"})
	require.NoError(t, err)
	assert.Equal(t, tasks.ProviderDone, result)

	count, err := env.content.CountPosts(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"rss-tag-test"}, env.agents)

	// a second download finds nothing new
	result, err = env.rss.Download(ctx, user, database.Task{ID: "t2", Owner: "alice"})
	require.NoError(t, err)
	assert.Equal(t, tasks.ProviderDone, result)

	count, err = env.content.CountPosts(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDownloadPayloadFeedsOverrideSubscriptions(t *testing.T) {
	ctx := context.Background()
	env := newRSSEnv(t)
	srv := env.serve(t)
	user := userWithFeeds(srv.URL + "/private.xml")

	task := database.Task{ID: "t1", Owner: "alice", Payload: map[string]any{
		"feeds": []any{srv.URL + "/feed.xml", "", 42},
	}}
	result, err := env.rss.Download(ctx, user, task)
	require.NoError(t, err)
	assert.Equal(t, tasks.ProviderDone, result)

	count, err := env.content.CountPosts(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDownloadOutcomes(t *testing.T) {
	env := newRSSEnv(t)
	srv := env.serve(t)

	t.Run("no feeds", func(t *testing.T) {
		result, err := env.rss.Download(context.Background(), userWithFeeds(), database.Task{ID: "t"})
		require.NoError(t, err)
		assert.Equal(t, tasks.ProviderDone, result)
	})

	t.Run("rejected credentials", func(t *testing.T) {
		user := userWithFeeds(srv.URL+"/feed.xml", srv.URL+"/private.xml")
		result, err := env.rss.Download(context.Background(), user, database.Task{ID: "t"})
		require.NoError(t, err)
		assert.Equal(t, tasks.ProviderCredentialsInvalid, result)
	})

	t.Run("some feeds fail", func(t *testing.T) {
		user := userWithFeeds(srv.URL+"/broken.xml", srv.URL+"/feed.xml")
		result, err := env.rss.Download(context.Background(), user, database.Task{ID: "t"})
		require.NoError(t, err)
		assert.Equal(t, tasks.ProviderDone, result)
	})

	t.Run("all feeds fail", func(t *testing.T) {
		user := userWithFeeds(srv.URL+"/broken.xml", srv.URL+"/missing.xml")
		result, err := env.rss.Download(context.Background(), user, database.Task{ID: "t"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all 2 feeds failed")
		assert.Equal(t, tasks.ProviderIdle, result)
	})
}

func TestMark(t *testing.T) {
	ctx := context.Background()
	env := newRSSEnv(t)

	_, err := env.content.InsertPost(ctx, database.Post{
		ID: "p1", Owner: "alice", GUID: "post-1", Title: "Claiming tasks", PublishedAt: time.Now(),
	})
	require.NoError(t, err)

	isRead := func() bool {
		var read bool
		require.NoError(t, env.db.QueryRowContext(ctx, `SELECT is_read FROM posts WHERE id = ?`, "p1").Scan(&read))
		return read
	}

	user := userWithFeeds()

	result, err := env.rss.Mark(ctx, user, database.Task{ID: "m1", Payload: map[string]any{"post_id": "p1"}})
	require.NoError(t, err)
	assert.Equal(t, tasks.ProviderDone, result)
	assert.True(t, isRead())

	result, err = env.rss.Mark(ctx, user, database.Task{ID: "m2", Payload: map[string]any{"post_id": "p1", "read": false}})
	require.NoError(t, err)
	assert.Equal(t, tasks.ProviderDone, result)
	assert.False(t, isRead())

	result, err = env.rss.Mark(ctx, user, database.Task{ID: "m3", Payload: map[string]any{"post_id": "unknown"}})
	require.NoError(t, err)
	assert.Equal(t, tasks.ProviderDone, result)

	result, err = env.rss.Mark(ctx, user, database.Task{ID: "m4", Payload: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, tasks.ProviderDone, result)
}

func TestPayloadStrings(t *testing.T) {
	assert.Nil(t, payloadStrings(nil, "feeds"))
	assert.Nil(t, payloadStrings(map[string]any{"feeds": "https://example.com"}, "feeds"))
	assert.Equal(t, []string{"a", "b"}, payloadStrings(map[string]any{"feeds": []any{"a", 1, "", "b"}}, "feeds"))
}
