package external

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/lysyi3m/rss-tag/app/tasks"
)

// Plugin processes one claimed item locally and returns the result to submit.
// A returned error is submitted as an explicit failure.
type Plugin interface {
	Process(ctx context.Context, task ClaimedTask) (any, error)
}

type PluginFunc func(ctx context.Context, task ClaimedTask) (any, error)

func (f PluginFunc) Process(ctx context.Context, task ClaimedTask) (any, error) {
	return f(ctx, task)
}

// Plugins maps task types to plugins. A plugin registered for a base type also
// serves its _BATCH variant.
type Plugins struct {
	mu      sync.RWMutex
	plugins map[tasks.TaskType]Plugin
}

func NewPlugins() *Plugins {
	return &Plugins{plugins: make(map[tasks.TaskType]Plugin)}
}

func (p *Plugins) Register(t tasks.TaskType, plugin Plugin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plugins[t] = plugin
}

func (p *Plugins) Get(t tasks.TaskType) (Plugin, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if plugin, ok := p.plugins[t]; ok {
		return plugin, true
	}
	plugin, ok := p.plugins[t.Base()]
	return plugin, ok
}

// DefaultPlugins returns the lightweight plugins shipped with the worker.
func DefaultPlugins() *Plugins {
	p := NewPlugins()
	p.Register(tasks.TaskTypeNER, PluginFunc(extractEntities))
	p.Register(tasks.TaskTypeTagClassification, PluginFunc(classifyTag))
	p.Register(tasks.TaskTypePostGrouping, PluginFunc(groupPost))
	return p
}

// extractEntities returns runs of capitalized words that do not open a sentence.
func extractEntities(_ context.Context, task ClaimedTask) (any, error) {
	text := strings.TrimSpace(task.Item.Title + ". " + task.Item.Content)

	var (
		entities []string
		current  []string
		seen     = make(map[string]bool)
	)
	flush := func() {
		if len(current) > 0 {
			entity := strings.Join(current, " ")
			if !seen[entity] {
				seen[entity] = true
				entities = append(entities, entity)
			}
			current = current[:0]
		}
	}

	sentenceStart := true
	for _, word := range strings.Fields(text) {
		trimmed := strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		capitalized := trimmed != "" && unicode.IsUpper([]rune(trimmed)[0])

		if capitalized && !sentenceStart {
			current = append(current, trimmed)
		} else {
			flush()
		}

		sentenceStart = strings.ContainsAny(word[len(word)-1:], ".!?")
		if sentenceStart || strings.ContainsAny(word[len(word)-1:], ",;:") {
			flush()
		}
	}
	flush()

	if entities == nil {
		entities = []string{}
	}
	return entities, nil
}

// classifyTag labels a tag by the script it is written in.
func classifyTag(_ context.Context, task ClaimedTask) (any, error) {
	tag := task.Item.Tag
	if tag == "" {
		return nil, fmt.Errorf("item %s has no tag", task.Item.ID)
	}

	counts := make(map[string]int)
	total := 0
	for _, r := range tag {
		switch {
		case unicode.Is(unicode.Latin, r):
			counts["latin"]++
		case unicode.Is(unicode.Cyrillic, r):
			counts["cyrillic"]++
		case unicode.IsDigit(r):
			counts["numeric"]++
		default:
			continue
		}
		total++
	}
	if total == 0 {
		return []Classification{{Label: "other"}}, nil
	}

	labels := make([]Classification, 0, len(counts))
	for _, label := range []string{"latin", "cyrillic", "numeric"} {
		if n := counts[label]; n > 0 {
			score := float64(n) / float64(total)
			labels = append(labels, Classification{Label: label, Score: &score})
		}
	}
	return labels, nil
}

// groupPost splits the post into sentences and groups them into paragraphs of
// at most three sentences.
func groupPost(_ context.Context, task ClaimedTask) (any, error) {
	var sentences []string
	var sb strings.Builder
	for _, r := range task.Item.Content {
		sb.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(sb.String()); s != "" {
				sentences = append(sentences, s)
			}
			sb.Reset()
		}
	}
	if s := strings.TrimSpace(sb.String()); s != "" {
		sentences = append(sentences, s)
	}

	groups := make([][]string, 0, (len(sentences)+2)/3)
	for i := 0; i < len(sentences); i += 3 {
		end := min(i+3, len(sentences))
		groups = append(groups, sentences[i:end])
	}

	return map[string]any{
		"title":  task.Item.Title,
		"groups": groups,
	}, nil
}
