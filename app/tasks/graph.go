package tasks

import "fmt"

// Graph is the static task type dependency graph: when an automatic task
// drains, its successors are enqueued for the same owner.
type Graph struct {
	successors map[TaskType][]TaskType
}

// DefaultSuccessors is the pipeline a freshly downloaded owner goes through.
func DefaultSuccessors() map[TaskType][]TaskType {
	return map[TaskType][]TaskType{
		TaskTypeDownload:     {TaskTypeTags},
		TaskTypeTags:         {TaskTypeCleanBigrams},
		TaskTypeCleanBigrams: {TaskTypeBigramsRank, TaskTypeTagsRank, TaskTypeLetters, TaskTypeTagsSentiment},
		TaskTypeTagsRank:     {TaskTypeW2V, TaskTypeNER},
		TaskTypeW2V:          {TaskTypeTagsGroup, TaskTypeTagsCoords},
		TaskTypeNER:          {TaskTypeClustering},
		TaskTypeClustering:   {TaskTypePostGrouping},
	}
}

// NewGraph validates the successor map and rejects unknown types and cycles.
func NewGraph(successors map[TaskType][]TaskType) (*Graph, error) {
	g := &Graph{successors: make(map[TaskType][]TaskType, len(successors))}

	for from, next := range successors {
		if !from.Valid() {
			return nil, fmt.Errorf("%w in graph: %d", ErrUnknownTaskType, from)
		}
		seen := make(map[TaskType]bool, len(next))
		for _, to := range next {
			if !to.Valid() {
				return nil, fmt.Errorf("%w in graph: %s -> %d", ErrUnknownTaskType, from, to)
			}
			if seen[to] {
				continue
			}
			seen[to] = true
			g.successors[from] = append(g.successors[from], to)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, fmt.Errorf("task graph has a cycle: %v", cycle)
	}

	return g, nil
}

// Successors returns a copy of the successors of t.
func (g *Graph) Successors(t TaskType) []TaskType {
	next := g.successors[t]
	if len(next) == 0 {
		return nil
	}
	out := make([]TaskType, len(next))
	copy(out, next)
	return out
}

const (
	unvisited = iota
	visiting
	visited
)

func (g *Graph) findCycle() []TaskType {
	state := make(map[TaskType]int)
	var path []TaskType

	var visit func(t TaskType) []TaskType
	visit = func(t TaskType) []TaskType {
		switch state[t] {
		case visiting:
			for i, p := range path {
				if p == t {
					return append(append([]TaskType{}, path[i:]...), t)
				}
			}
			return []TaskType{t}
		case visited:
			return nil
		}

		state[t] = visiting
		path = append(path, t)
		for _, next := range g.successors[t] {
			if cycle := visit(next); cycle != nil {
				return cycle
			}
		}
		path = path[:len(path)-1]
		state[t] = visited
		return nil
	}

	starts := make([]TaskType, 0, len(g.successors))
	for t := range g.successors {
		starts = append(starts, t)
	}
	sortTypes(starts)

	for _, t := range starts {
		if cycle := visit(t); cycle != nil {
			return cycle
		}
	}
	return nil
}
