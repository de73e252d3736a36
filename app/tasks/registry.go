package tasks

import (
	"context"
	"fmt"
	"sync"
)

// Handler processes a claimed task.
type Handler interface {
	Handle(ctx context.Context, claim Claim) Outcome
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, claim Claim) Outcome

func (f HandlerFunc) Handle(ctx context.Context, claim Claim) Outcome {
	return f(ctx, claim)
}

// Registry maps task types to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[TaskType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[TaskType]Handler)}
}

func (r *Registry) Register(t TaskType, h Handler) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownTaskType, t)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("handler for %s is already registered", t)
	}
	r.handlers[t] = h
	return nil
}

func (r *Registry) Get(t TaskType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[t]
	return h, ok
}

// Types lists the registered task types in numeric order.
func (r *Registry) Types() []TaskType {
	r.mu.RLock()
	types := make([]TaskType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	r.mu.RUnlock()

	sortTypes(types)
	return types
}
