package database

import "context"

// TaskRepositoryInterface defines the task row operations used by the task store
type TaskRepositoryInterface interface {
	UpsertTask(ctx context.Context, dedupKey string, task Task, mergePayload bool) error
	InsertTasks(ctx context.Context, tasks []Task) error
	SampleFree(ctx context.Context, types []int, limit int) ([]Task, error)
	TryClaim(ctx context.Context, id string, stamp int64) (bool, error)
	ReleaseTask(ctx context.Context, id string, stamp int64) (bool, error)
	DeleteTask(ctx context.Context, id string) (bool, error)
	DeleteClaimed(ctx context.Context, id string, stamp int64) (bool, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	GetOwnerTasks(ctx context.Context, owner string, types []int) ([]Task, error)
	FreezeTasks(ctx context.Context, owner string, types []int) (int64, error)
	UnfreezeTasks(ctx context.Context, owner string, types []int) (int64, error)
	ResetTaskLocks(ctx context.Context, owner string) (int64, error)
}

// ItemRepositoryInterface defines the item lock operations used by the task store and
// the external worker service
type ItemRepositoryInterface interface {
	PullBatch(ctx context.Context, q Queue, owner string, limit int, stamp int64) ([]Item, error)
	PullPinned(ctx context.Context, q Queue, owner string, ids []string, stamp int64) ([]Item, error)
	ReleaseItems(ctx context.Context, c Collection, ids []string) error
	CountPending(ctx context.Context, q Queue, owner string, ids []string) (int, error)
	SetResult(ctx context.Context, q Queue, id string, value string) error
	ClaimForWorker(ctx context.Context, q Queue, owner string, pinned []string, tokenID string, stamp int64, sample int) (*Item, error)
	SubmitResult(ctx context.Context, q Queue, owner, id, tokenID, value string) (bool, error)
	SubmitFailure(ctx context.Context, c Collection, owner, id, tokenID, errText string) (bool, error)
	ResetItemLocks(ctx context.Context, owner string) (int64, error)
}

// UserRepositoryInterface defines the user directory operations
type UserRepositoryInterface interface {
	GetUser(ctx context.Context, id string) (*User, error)
	SetRetoken(ctx context.Context, id string, retoken bool) error
	SetInQueue(ctx context.Context, id string, inQueue bool) error
}

// ContentRepositoryInterface defines the domain data operations used by handlers
type ContentRepositoryInterface interface {
	InsertPost(ctx context.Context, post Post) (bool, error)
	GetPostTags(ctx context.Context, owner string) ([][]string, error)
	AddTagFrequencies(ctx context.Context, owner string, freqs map[string]int) error
	ReplaceBigrams(ctx context.Context, owner string, freqs map[string]int) error
	MaxFrequency(ctx context.Context, c Collection, owner string) (int, error)
	CountPosts(ctx context.Context, owner string) (int, error)
	SetPostRead(ctx context.Context, owner, id string, read bool) (bool, error)
}

// TokenRepositoryInterface defines the worker token lookups used by the API
type TokenRepositoryInterface interface {
	CreateToken(ctx context.Context, token WorkerToken) error
	GetActiveTokenByHash(ctx context.Context, hash string) (*WorkerToken, error)
	RevokeToken(ctx context.Context, id string) (bool, error)
}

var (
	_ TaskRepositoryInterface    = (*TaskRepository)(nil)
	_ ItemRepositoryInterface    = (*ItemRepository)(nil)
	_ UserRepositoryInterface    = (*UserRepository)(nil)
	_ ContentRepositoryInterface = (*ContentRepository)(nil)
	_ TokenRepositoryInterface   = (*TokenRepository)(nil)
)
