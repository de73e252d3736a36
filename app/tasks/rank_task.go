package tasks

import (
	"context"
	"fmt"
	"strconv"

	"github.com/lysyi3m/rss-tag/app/database"
)

// RankTask writes the relative frequency of each tag or bigram in the batch.
type RankTask struct {
	items   database.ItemRepositoryInterface
	content database.ContentRepositoryInterface
}

func NewRankTask(items database.ItemRepositoryInterface, content database.ContentRepositoryInterface) *RankTask {
	return &RankTask{items: items, content: content}
}

func (h *RankTask) Handle(ctx context.Context, claim Claim) Outcome {
	q, ok := claim.Type.Queue()
	if !ok || q.Field != "rank" {
		return Failed(fmt.Errorf("rank task cannot handle %s", claim.Type))
	}

	maxFreq, err := h.content.MaxFrequency(ctx, q.Collection, claim.Task.Owner)
	if err != nil {
		return Failed(err)
	}

	for _, item := range claim.Items {
		rank := 0.0
		if maxFreq > 0 {
			rank = float64(item.Frequency) / float64(maxFreq)
		}
		if err := h.items.SetResult(ctx, q, item.ID, strconv.FormatFloat(rank, 'f', 6, 64)); err != nil {
			return Failed(err)
		}
	}

	return Success()
}
