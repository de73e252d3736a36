package external

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lysyi3m/rss-tag/app/tasks"
)

// Classification is one label of a TAG_CLASSIFICATION result.
type Classification struct {
	Label string   `json:"label"`
	Score *float64 `json:"score,omitempty"`
}

// NormalizeResult validates a submitted result for its task type and returns
// the JSON stored in the item's result field.
func NormalizeResult(t tasks.TaskType, raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%w: result is required", ErrInvalidResult)
	}

	var value any
	switch t.Base() {
	case tasks.TaskTypeTags, tasks.TaskTypeNER:
		var words []string
		if err := json.Unmarshal(raw, &words); err != nil {
			return "", fmt.Errorf("%w: expected a list of strings: %v", ErrInvalidResult, err)
		}
		cleaned := make([]string, 0, len(words))
		for _, w := range words {
			if w = strings.TrimSpace(w); w != "" {
				cleaned = append(cleaned, w)
			}
		}
		value = cleaned

	case tasks.TaskTypeTagClassification:
		var labels []Classification
		if err := json.Unmarshal(raw, &labels); err != nil {
			return "", fmt.Errorf("%w: expected a list of classifications: %v", ErrInvalidResult, err)
		}
		for i, l := range labels {
			if strings.TrimSpace(l.Label) == "" {
				return "", fmt.Errorf("%w: classification %d has no label", ErrInvalidResult, i)
			}
		}
		value = labels

	case tasks.TaskTypePostGrouping:
		var grouping any
		if err := json.Unmarshal(raw, &grouping); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidResult, err)
		}
		switch grouping.(type) {
		case map[string]any, []any:
		default:
			return "", fmt.Errorf("%w: expected an object or a list", ErrInvalidResult)
		}
		value = grouping

	case tasks.TaskTypeTagsRank, tasks.TaskTypeBigramsRank:
		var rank float64
		if err := json.Unmarshal(raw, &rank); err != nil {
			return "", fmt.Errorf("%w: expected a number: %v", ErrInvalidResult, err)
		}
		value = rank

	default:
		return "", fmt.Errorf("%w: %s", ErrTypeNotAllowed, t)
	}

	out, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	return string(out), nil
}
