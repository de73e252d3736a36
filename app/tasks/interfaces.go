package tasks

import (
	"context"
	"time"

	"github.com/lysyi3m/rss-tag/app/database"
)

// DispatcherInterface defines the worker pool lifecycle used by the server.
// Example usage:
//
//	dispatcher := NewDispatcher(store, registry, userRepo, settings, workerCount, collector)
//	dispatcher.Start()
//	defer dispatcher.Stop()
type DispatcherInterface interface {
	Start()
	Stop()
}

// StoreInterface is the part of the task store used by the dispatcher, the
// external worker service and the API.
type StoreInterface interface {
	AddTask(ctx context.Context, req TaskRequest, manual bool) (bool, error)
	Claim(ctx context.Context, allowed []TaskType) Claim
	Finish(ctx context.Context, claim Claim) error
	Release(ctx context.Context, claim Claim) error
	Remove(ctx context.Context, id string) (bool, error)
	Freeze(ctx context.Context, owner string, types ...TaskType) (int64, error)
	Unfreeze(ctx context.Context, owner string, types ...TaskType) (int64, error)
	Status(ctx context.Context, owner string) ([]TaskStatus, error)
	CompleteIfDrained(ctx context.Context, owner string, t TaskType) (bool, error)
	ResetLocks(ctx context.Context, owner string) (int64, int64, error)
}

// MetricsRecorder receives dispatcher events. A nil recorder is allowed.
type MetricsRecorder interface {
	ObserveClaim(taskType string)
	ObserveIdle()
	ObserveOutcome(taskType, outcome string, duration time.Duration)
	ObserveFreeze(taskType string)
}

// Provider is a content source acting on behalf of an owner: RSS, Telegram, Gmail.
type Provider interface {
	Download(ctx context.Context, user *database.User, task database.Task) (ProviderResult, error)
	Mark(ctx context.Context, user *database.User, task database.Task) (ProviderResult, error)
}

// Sorter is implemented by providers that can file the owner's mail into
// labels (GMAIL_SORT).
type Sorter interface {
	Sort(ctx context.Context, user *database.User, task database.Task) (ProviderResult, error)
}

var (
	_ DispatcherInterface = (*Dispatcher)(nil)
	_ StoreInterface      = (*Store)(nil)
)
