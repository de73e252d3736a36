package tasks

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lysyi3m/rss-tag/app/database"
)

// TaskType values are stored in the database and sent over the wire; never renumber them.
type TaskType int

const (
	TaskTypeNoop                   TaskType = 0
	TaskTypeDownload               TaskType = 1
	TaskTypeMark                   TaskType = 2
	TaskTypeTags                   TaskType = 3
	TaskTypeWords                  TaskType = 4
	TaskTypeLetters                TaskType = 5
	TaskTypeNER                    TaskType = 6
	TaskTypeTagsSentiment          TaskType = 7
	TaskTypeW2V                    TaskType = 8
	TaskTypeClustering             TaskType = 9
	TaskTypeBigramsRank            TaskType = 10
	TaskTypeTagsGroup              TaskType = 11
	TaskTypeTagsCoords             TaskType = 12
	TaskTypeFasttext               TaskType = 13
	TaskTypeCleanBigrams           TaskType = 14
	TaskTypeMarkTelegram           TaskType = 15
	TaskTypeGmailSort              TaskType = 16
	TaskTypeTagsRank               TaskType = 17
	TaskTypeTagClassification      TaskType = 18
	TaskTypePostGrouping           TaskType = 19
	TaskTypeTagsBatch              TaskType = 20
	TaskTypeNERBatch               TaskType = 21
	TaskTypeBigramsRankBatch       TaskType = 22
	TaskTypeTagsRankBatch          TaskType = 23
	TaskTypeTagClassificationBatch TaskType = 24
	TaskTypePostGroupingBatch      TaskType = 25
)

// Kind tells how a task type is claimed and finished.
type Kind int

const (
	// KindProvider tasks talk to a content provider on behalf of the owner.
	KindProvider Kind = iota
	// KindWholeOwner tasks process all data of the owner in one run.
	KindWholeOwner
	// KindBatched tasks are handles to a queue of items pulled page by page.
	KindBatched
)

type typeInfo struct {
	name  string
	title string
	kind  Kind
	queue database.Queue
	base  TaskType
}

var (
	postsTags        = database.Queue{Collection: database.CollectionPosts, Field: "tags"}
	postsNER         = database.Queue{Collection: database.CollectionPosts, Field: "ner"}
	postsGrouping    = database.Queue{Collection: database.CollectionPosts, Field: "grouping"}
	tagsRank         = database.Queue{Collection: database.CollectionTags, Field: "rank"}
	tagsClassify     = database.Queue{Collection: database.CollectionTags, Field: "classifications"}
	bigramsRankQueue = database.Queue{Collection: database.CollectionBigrams, Field: "rank"}
)

var taskTypes = map[TaskType]typeInfo{
	TaskTypeDownload:               {name: "DOWNLOAD", title: "Downloading posts", kind: KindProvider},
	TaskTypeMark:                   {name: "MARK", title: "Syncing read state", kind: KindProvider},
	TaskTypeTags:                   {name: "TAGS", title: "Tags extraction", kind: KindBatched, queue: postsTags},
	TaskTypeWords:                  {name: "WORDS", title: "Words counting", kind: KindWholeOwner},
	TaskTypeLetters:                {name: "LETTERS", title: "Letters index", kind: KindWholeOwner},
	TaskTypeNER:                    {name: "NER", title: "Named entities", kind: KindBatched, queue: postsNER},
	TaskTypeTagsSentiment:          {name: "TAGS_SENTIMENT", title: "Tags sentiment", kind: KindWholeOwner},
	TaskTypeW2V:                    {name: "W2V", title: "Word embeddings", kind: KindWholeOwner},
	TaskTypeClustering:             {name: "CLUSTERING", title: "Posts clustering", kind: KindWholeOwner},
	TaskTypeBigramsRank:            {name: "BIGRAMS_RANK", title: "Bi-grams ranking", kind: KindBatched, queue: bigramsRankQueue},
	TaskTypeTagsGroup:              {name: "TAGS_GROUP", title: "Tags grouping", kind: KindWholeOwner},
	TaskTypeTagsCoords:             {name: "TAGS_COORDS", title: "Tags coordinates", kind: KindWholeOwner},
	TaskTypeFasttext:               {name: "FASTTEXT", title: "FastText model", kind: KindWholeOwner},
	TaskTypeCleanBigrams:           {name: "CLEAN_BIGRAMS", title: "Bi-grams building", kind: KindWholeOwner},
	TaskTypeMarkTelegram:           {name: "MARK_TELEGRAM", title: "Syncing Telegram read state", kind: KindProvider},
	TaskTypeGmailSort:              {name: "GMAIL_SORT", title: "Sorting Gmail", kind: KindProvider},
	TaskTypeTagsRank:               {name: "TAGS_RANK", title: "Tags ranking", kind: KindBatched, queue: tagsRank},
	TaskTypeTagClassification:      {name: "TAG_CLASSIFICATION", title: "Tags classification", kind: KindBatched, queue: tagsClassify},
	TaskTypePostGrouping:           {name: "POST_GROUPING", title: "Post grouping", kind: KindBatched, queue: postsGrouping},
	TaskTypeTagsBatch:              {name: "TAGS_BATCH", title: "Tags extraction (batch)", kind: KindBatched, queue: postsTags, base: TaskTypeTags},
	TaskTypeNERBatch:               {name: "NER_BATCH", title: "Named entities (batch)", kind: KindBatched, queue: postsNER, base: TaskTypeNER},
	TaskTypeBigramsRankBatch:       {name: "BIGRAMS_RANK_BATCH", title: "Bi-grams ranking (batch)", kind: KindBatched, queue: bigramsRankQueue, base: TaskTypeBigramsRank},
	TaskTypeTagsRankBatch:          {name: "TAGS_RANK_BATCH", title: "Tags ranking (batch)", kind: KindBatched, queue: tagsRank, base: TaskTypeTagsRank},
	TaskTypeTagClassificationBatch: {name: "TAG_CLASSIFICATION_BATCH", title: "Tags classification (batch)", kind: KindBatched, queue: tagsClassify, base: TaskTypeTagClassification},
	TaskTypePostGroupingBatch:      {name: "POST_GROUPING_BATCH", title: "Post grouping (batch)", kind: KindBatched, queue: postsGrouping, base: TaskTypePostGrouping},
}

// Valid reports whether t is a known, claimable task type.
func (t TaskType) Valid() bool {
	_, ok := taskTypes[t]
	return ok
}

func (t TaskType) String() string {
	if t == TaskTypeNoop {
		return "NOOP"
	}
	if info, ok := taskTypes[t]; ok {
		return info.name
	}
	return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
}

// Title is the human readable label shown to users and external workers.
func (t TaskType) Title() string {
	if info, ok := taskTypes[t]; ok {
		return info.title
	}
	return t.String()
}

func (t TaskType) Kind() Kind {
	return taskTypes[t].kind
}

func (t TaskType) IsBatched() bool {
	return t.Valid() && t.Kind() == KindBatched
}

func (t TaskType) IsProvider() bool {
	return t.Valid() && t.Kind() == KindProvider
}

// IsFireAndCollect reports types stored as one task per item, without deduplication.
func (t TaskType) IsFireAndCollect() bool {
	return t == TaskTypeMark || t == TaskTypeMarkTelegram
}

// IsBatchVariant reports the _BATCH types that may pin an explicit item set.
func (t TaskType) IsBatchVariant() bool {
	return taskTypes[t].base != TaskTypeNoop
}

// Base maps a _BATCH variant to the type it batches; other types map to themselves.
func (t TaskType) Base() TaskType {
	if base := taskTypes[t].base; base != TaskTypeNoop {
		return base
	}
	return t
}

// Queue returns the backing item queue of a batched type.
func (t TaskType) Queue() (database.Queue, bool) {
	info, ok := taskTypes[t]
	if !ok || info.kind != KindBatched {
		return database.Queue{}, false
	}
	return info.queue, true
}

// ParseTaskType accepts a type name (case-insensitive) or its numeric value.
func ParseTaskType(s string) (TaskType, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		t := TaskType(n)
		if !t.Valid() {
			return TaskTypeNoop, fmt.Errorf("%w: %d", ErrUnknownTaskType, n)
		}
		return t, nil
	}

	upper := strings.ToUpper(s)
	for t, info := range taskTypes {
		if info.name == upper {
			return t, nil
		}
	}
	return TaskTypeNoop, fmt.Errorf("%w: %q", ErrUnknownTaskType, s)
}

// AllTaskTypes lists every claimable type in numeric order.
func AllTaskTypes() []TaskType {
	types := make([]TaskType, 0, len(taskTypes))
	for t := range taskTypes {
		types = append(types, t)
	}
	sortTypes(types)
	return types
}

func sortTypes(types []TaskType) {
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
}

func typeInts(types []TaskType) []int {
	out := make([]int, 0, len(types))
	for _, t := range types {
		if t.Valid() {
			out = append(out, int(t))
		}
	}
	return out
}
