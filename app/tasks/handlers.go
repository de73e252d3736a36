package tasks

import (
	"github.com/lysyi3m/rss-tag/app/database"
	"github.com/lysyi3m/rss-tag/app/feed"
)

// RegisterDefaultHandlers registers the handlers this service runs in process.
// Types left out (NER, POST_GROUPING, TAG_CLASSIFICATION and the NLP model
// stages) are served by external workers or other processes.
func RegisterDefaultHandlers(r *Registry, items database.ItemRepositoryInterface,
	content database.ContentRepositoryInterface, providers map[string]Provider) error {
	extractor := feed.NewContentExtractor()
	tokenizer := feed.NewTokenizer()

	providerTask := NewProviderTask(providers)
	tagsTask := NewTagsTask(items, content, extractor, tokenizer)
	rankTask := NewRankTask(items, content)

	handlers := map[TaskType]Handler{
		TaskTypeDownload:         providerTask,
		TaskTypeMark:             providerTask,
		TaskTypeTags:             tagsTask,
		TaskTypeTagsBatch:        tagsTask,
		TaskTypeCleanBigrams:     NewCleanBigramsTask(content),
		TaskTypeTagsRank:         rankTask,
		TaskTypeTagsRankBatch:    rankTask,
		TaskTypeBigramsRank:      rankTask,
		TaskTypeBigramsRankBatch: rankTask,
		TaskTypeClustering:       NewClusteringTask(content),
	}
	if sorts(providers) {
		handlers[TaskTypeGmailSort] = providerTask
	}

	for _, t := range AllTaskTypes() {
		h, ok := handlers[t]
		if !ok {
			continue
		}
		if err := r.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}
