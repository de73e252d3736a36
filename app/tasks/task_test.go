package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-tag/app/database"
)

func TestParseTaskType(t *testing.T) {
	tests := []struct {
		input   string
		want    TaskType
		wantErr bool
	}{
		{"DOWNLOAD", TaskTypeDownload, false},
		{"tags", TaskTypeTags, false},
		{" ner_batch ", TaskTypeNERBatch, false},
		{"17", TaskTypeTagsRank, false},
		{"0", TaskTypeNoop, true},
		{"NOOP", TaskTypeNoop, true},
		{"99", TaskTypeNoop, true},
		{"SOMETHING", TaskTypeNoop, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTaskType(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownTaskType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTaskTypeKinds(t *testing.T) {
	assert.True(t, TaskTypeDownload.IsProvider())
	assert.False(t, TaskTypeDownload.IsBatched())
	assert.True(t, TaskTypeMark.IsFireAndCollect())
	assert.True(t, TaskTypeMarkTelegram.IsFireAndCollect())
	assert.False(t, TaskTypeTags.IsFireAndCollect())
	assert.True(t, TaskTypeNER.IsBatched())
	assert.False(t, TaskTypeClustering.IsBatched())
	assert.False(t, TaskTypeNoop.IsBatched())
	assert.False(t, TaskType(99).Valid())

	assert.True(t, TaskTypeNERBatch.IsBatchVariant())
	assert.False(t, TaskTypeNER.IsBatchVariant())
	assert.Equal(t, TaskTypeNER, TaskTypeNERBatch.Base())
	assert.Equal(t, TaskTypeTags, TaskTypeTags.Base())

	q, ok := TaskTypeTagsRankBatch.Queue()
	require.True(t, ok)
	assert.Equal(t, database.Queue{Collection: database.CollectionTags, Field: "rank"}, q)

	_, ok = TaskTypeDownload.Queue()
	assert.False(t, ok)

	for _, tt := range AllTaskTypes() {
		if q, ok := tt.Queue(); ok {
			assert.NoError(t, q.Validate(), "queue of %s", tt)
		}
	}
}

func TestTaskTypeNames(t *testing.T) {
	assert.Equal(t, "NOOP", TaskTypeNoop.String())
	assert.Equal(t, "POST_GROUPING_BATCH", TaskTypePostGroupingBatch.String())
	assert.Equal(t, "UNKNOWN(42)", TaskType(42).String())
	assert.Equal(t, "Named entities", TaskTypeNER.Title())

	all := AllTaskTypes()
	assert.Len(t, all, 25)
	assert.Equal(t, TaskTypeDownload, all[0])
	assert.Equal(t, TaskTypePostGroupingBatch, all[len(all)-1])
}
