package tasks

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings tune the scheduler. They are loaded from an optional YAML file and
// merged over DefaultSettings.
type Settings struct {
	SampleSize    int
	BatchSizes    map[TaskType]int
	Successors    map[TaskType][]TaskType
	ExternalTypes []TaskType
	IdleSleep     time.Duration
	IdleJitter    time.Duration
}

type rawSettings struct {
	SampleSize    int                 `yaml:"sample_size"`
	BatchSizes    map[string]int      `yaml:"batch_sizes"`
	Successors    map[string][]string `yaml:"successors"`
	ExternalTypes []string            `yaml:"external_types"`
	IdleSleep     time.Duration       `yaml:"idle_sleep"`
	IdleJitter    time.Duration       `yaml:"idle_jitter"`
}

func DefaultSettings() Settings {
	return Settings{
		SampleSize: 5,
		BatchSizes: map[TaskType]int{
			TaskTypeTags:              200,
			TaskTypeNER:               200,
			TaskTypePostGrouping:      200,
			TaskTypeTagClassification: 1000,
			TaskTypeTagsRank:          10000,
			TaskTypeBigramsRank:       10000,
		},
		Successors: DefaultSuccessors(),
		ExternalTypes: []TaskType{
			TaskTypeTagClassification, TaskTypePostGrouping, TaskTypeNER,
			TaskTypeTagClassificationBatch, TaskTypePostGroupingBatch, TaskTypeNERBatch,
		},
		IdleSleep:  2 * time.Second,
		IdleJitter: time.Second,
	}
}

// LoadSettings reads path and overlays it on the defaults. An empty path yields the defaults.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	return ParseSettings(data)
}

// ParseSettings decodes YAML settings over the defaults. A present successors
// section replaces the default graph as a whole.
func ParseSettings(data []byte) (Settings, error) {
	settings := DefaultSettings()

	var raw rawSettings
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return settings, fmt.Errorf("failed to parse settings: %w", err)
	}

	if raw.SampleSize < 0 {
		return settings, fmt.Errorf("sample_size must not be negative, got %d", raw.SampleSize)
	}
	if raw.SampleSize > 0 {
		settings.SampleSize = raw.SampleSize
	}

	for name, size := range raw.BatchSizes {
		t, err := ParseTaskType(name)
		if err != nil {
			return settings, fmt.Errorf("batch_sizes: %w", err)
		}
		if !t.IsBatched() {
			return settings, fmt.Errorf("batch_sizes: %s is not a batched task type", t)
		}
		if size <= 0 {
			return settings, fmt.Errorf("batch_sizes: %s must be positive, got %d", t, size)
		}
		settings.BatchSizes[t.Base()] = size
	}

	if raw.Successors != nil {
		successors := make(map[TaskType][]TaskType, len(raw.Successors))
		for from, names := range raw.Successors {
			t, err := ParseTaskType(from)
			if err != nil {
				return settings, fmt.Errorf("successors: %w", err)
			}
			next, err := parseTypes(names)
			if err != nil {
				return settings, fmt.Errorf("successors of %s: %w", t, err)
			}
			successors[t] = next
		}
		settings.Successors = successors
	}

	if raw.ExternalTypes != nil {
		types, err := parseTypes(raw.ExternalTypes)
		if err != nil {
			return settings, fmt.Errorf("external_types: %w", err)
		}
		for _, t := range types {
			if !t.IsBatched() {
				return settings, fmt.Errorf("external_types: %s is not a batched task type", t)
			}
		}
		settings.ExternalTypes = types
	}

	if raw.IdleSleep > 0 {
		settings.IdleSleep = raw.IdleSleep
	}
	if raw.IdleJitter > 0 {
		settings.IdleJitter = raw.IdleJitter
	}

	return settings, nil
}

// BatchSize returns the page size of a batched type; _BATCH variants share their base size.
func (s Settings) BatchSize(t TaskType) int {
	if size, ok := s.BatchSizes[t.Base()]; ok && size > 0 {
		return size
	}
	return 200
}

// IsExternal reports whether external workers may claim items of t.
func (s Settings) IsExternal(t TaskType) bool {
	for _, e := range s.ExternalTypes {
		if e == t {
			return true
		}
	}
	return false
}

func parseTypes(names []string) ([]TaskType, error) {
	types := make([]TaskType, 0, len(names))
	for _, name := range names {
		t, err := ParseTaskType(name)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}
