package tasks

import (
	"context"
	"log/slog"

	"github.com/lysyi3m/rss-tag/app/database"
)

// ClusteringTask closes the owner's processing run. The dispatcher clears the
// owner's in_queue flag once it succeeds.
type ClusteringTask struct {
	content database.ContentRepositoryInterface
}

func NewClusteringTask(content database.ContentRepositoryInterface) *ClusteringTask {
	return &ClusteringTask{content: content}
}

func (h *ClusteringTask) Handle(ctx context.Context, claim Claim) Outcome {
	posts, err := h.content.CountPosts(ctx, claim.Task.Owner)
	if err != nil {
		return Failed(err)
	}
	if posts == 0 {
		slog.Debug("No posts to cluster", "owner", claim.Task.Owner)
	}

	slog.Info("Clustering completed", "owner", claim.Task.Owner, "posts", posts)
	return Success()
}
