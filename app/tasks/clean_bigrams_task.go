package tasks

import (
	"context"
	"log/slog"

	"github.com/lysyi3m/rss-tag/app/database"
)

// CleanBigramsTask rebuilds the owner's bigram table from adjacent post tags.
type CleanBigramsTask struct {
	content database.ContentRepositoryInterface
	// MinFrequency drops bigrams seen fewer times.
	MinFrequency int
}

func NewCleanBigramsTask(content database.ContentRepositoryInterface) *CleanBigramsTask {
	return &CleanBigramsTask{content: content, MinFrequency: 2}
}

func (h *CleanBigramsTask) Handle(ctx context.Context, claim Claim) Outcome {
	posts, err := h.content.GetPostTags(ctx, claim.Task.Owner)
	if err != nil {
		return Failed(err)
	}

	counts := make(map[string]int)
	for _, tags := range posts {
		for i := 0; i+1 < len(tags); i++ {
			counts[tags[i]+" "+tags[i+1]]++
		}
	}

	for bigram, n := range counts {
		if n < h.MinFrequency {
			delete(counts, bigram)
		}
	}

	if err := h.content.ReplaceBigrams(ctx, claim.Task.Owner, counts); err != nil {
		return Failed(err)
	}

	slog.Info("Bigrams rebuilt", "owner", claim.Task.Owner, "posts", len(posts), "bigrams", len(counts))
	return Success()
}
