package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lysyi3m/rss-tag/app/database"
	"github.com/lysyi3m/rss-tag/app/feed"
	"github.com/lysyi3m/rss-tag/app/tasks"
)

// NameRSS is the provider name stored on users and tasks.
const NameRSS = "rss"

var errUnauthorized = errors.New("feed requires authorization")

// RSS downloads the owner's subscribed feeds and keeps read state locally.
type RSS struct {
	content    database.ContentRepositoryInterface
	httpClient *http.Client
	parser     *feed.Parser
	userAgent  string
	timeout    time.Duration
}

func NewRSS(content database.ContentRepositoryInterface, httpClient *http.Client, parser *feed.Parser,
	userAgent string, timeout time.Duration) *RSS {
	return &RSS{
		content:    content,
		httpClient: httpClient,
		parser:     parser,
		userAgent:  userAgent,
		timeout:    timeout,
	}
}

// Download fetches every feed in the task payload, or the owner's subscriptions
// when the payload lists none, and stores posts not seen before.
func (p *RSS) Download(ctx context.Context, user *database.User, task database.Task) (tasks.ProviderResult, error) {
	urls := payloadStrings(task.Payload, "feeds")
	if len(urls) == 0 {
		urls = user.Settings.Feeds
	}
	if len(urls) == 0 {
		slog.Debug("No feeds to download", "owner", user.ID)
		return tasks.ProviderDone, nil
	}

	var (
		newCount  int
		failures  int
		lastError error
	)
	for _, url := range urls {
		n, err := p.downloadFeed(ctx, user.ID, url)
		if errors.Is(err, errUnauthorized) {
			slog.Warn("Feed rejected credentials", "owner", user.ID, "feed", url)
			return tasks.ProviderCredentialsInvalid, nil
		}
		if err != nil {
			slog.Error("Failed to download feed", "owner", user.ID, "feed", url, "error", err)
			failures++
			lastError = err
			continue
		}
		newCount += n
	}

	slog.Info("Download completed", "owner", user.ID, "feeds", len(urls), "failed", failures, "new", newCount)

	if failures == len(urls) {
		return tasks.ProviderIdle, fmt.Errorf("all %d feeds failed: %w", failures, lastError)
	}
	return tasks.ProviderDone, nil
}

// Mark applies the read state carried in the task payload:
// {"post_id": "...", "read": true}. Tasks naming no known post are dropped.
func (p *RSS) Mark(ctx context.Context, user *database.User, task database.Task) (tasks.ProviderResult, error) {
	postID, _ := task.Payload["post_id"].(string)
	if postID == "" {
		slog.Warn("Dropping mark task without post_id", "owner", user.ID, "task_id", task.ID)
		return tasks.ProviderDone, nil
	}
	read := true
	if v, ok := task.Payload["read"].(bool); ok {
		read = v
	}

	updated, err := p.content.SetPostRead(ctx, user.ID, postID, read)
	if err != nil {
		return tasks.ProviderIdle, err
	}
	if !updated {
		slog.Debug("Post to mark not found", "owner", user.ID, "post_id", postID)
	}
	return tasks.ProviderDone, nil
}

func (p *RSS) downloadFeed(ctx context.Context, owner, url string) (int, error) {
	data, err := p.fetchFeed(ctx, url)
	if err != nil {
		return 0, err
	}

	parsed, err := p.parser.Parse(data)
	if err != nil {
		return 0, err
	}

	newCount := 0
	for _, item := range parsed.Items {
		inserted, err := p.content.InsertPost(ctx, database.Post{
			Owner:       owner,
			FeedURL:     url,
			GUID:        item.GUID,
			URL:         item.Link,
			Title:       item.Title,
			Content:     item.Content,
			ContentHash: item.ContentHash,
			PublishedAt: item.PublishedAt,
		})
		if err != nil {
			return newCount, fmt.Errorf("failed to store post: %w", err)
		}
		if inserted {
			newCount++
		}
	}

	slog.Debug("Feed parsed", "owner", owner, "feed", url, "title", parsed.Title, "items", len(parsed.Items), "new", newCount)
	return newCount, nil
}

func (p *RSS) fetchFeed(ctx context.Context, url string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

func payloadStrings(payload map[string]any, key string) []string {
	raw, ok := payload[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

var _ tasks.Provider = (*RSS)(nil)
