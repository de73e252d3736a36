package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/rss-tag/app/database"
	"github.com/lysyi3m/rss-tag/app/feed"
)

// TagsTask tags a batch of posts with the words of their text and adds the
// counts to the owner's tag frequencies.
type TagsTask struct {
	items     database.ItemRepositoryInterface
	content   database.ContentRepositoryInterface
	extractor *feed.ContentExtractor
	tokenizer *feed.Tokenizer
	MaxTags   int
}

func NewTagsTask(items database.ItemRepositoryInterface, content database.ContentRepositoryInterface,
	extractor *feed.ContentExtractor, tokenizer *feed.Tokenizer) *TagsTask {
	return &TagsTask{
		items:     items,
		content:   content,
		extractor: extractor,
		tokenizer: tokenizer,
		MaxTags:   100,
	}
}

func (h *TagsTask) Handle(ctx context.Context, claim Claim) Outcome {
	q, ok := claim.Type.Queue()
	if !ok {
		return Failed(fmt.Errorf("tags task cannot handle %s", claim.Type))
	}

	freqs := make(map[string]int)
	for _, item := range claim.Items {
		select {
		case <-ctx.Done():
			return Failed(ctx.Err())
		default:
		}

		words := h.tokenizer.Words(h.extractor.PlainText(item.Title) + " " + h.extractor.PlainText(item.Content))
		for word, n := range feed.Frequencies(words) {
			freqs[word] += n
		}

		tags, err := json.Marshal(feed.Distinct(words, h.MaxTags))
		if err != nil {
			return Failed(fmt.Errorf("failed to encode tags: %w", err))
		}
		if err := h.items.SetResult(ctx, q, item.ID, string(tags)); err != nil {
			return Failed(err)
		}
	}

	if err := h.content.AddTagFrequencies(ctx, claim.Task.Owner, freqs); err != nil {
		return Failed(err)
	}

	slog.Info("Posts tagged", "owner", claim.Task.Owner, "posts", len(claim.Items), "tags", len(freqs))
	return Success()
}
