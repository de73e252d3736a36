package api

import (
	"context"
	"encoding/json"

	"github.com/lysyi3m/rss-tag/app/database"
	"github.com/lysyi3m/rss-tag/app/external"
	"github.com/lysyi3m/rss-tag/app/tasks"
)

type UserStore interface {
	UpsertUser(ctx context.Context, user database.User) error
	GetUser(ctx context.Context, id string) (*database.User, error)
	SetInQueue(ctx context.Context, id string, inQueue bool) error
	GetUserCount(ctx context.Context) (int, error)
}

type TaskCounter interface {
	GetTaskCount(ctx context.Context) (int, error)
}

type ExternalService interface {
	ClaimExternal(ctx context.Context, owner, tokenID string) (*external.ClaimedTask, error)
	SubmitExternal(ctx context.Context, owner string, req external.SubmitRequest, tokenID string) error
}

var (
	_ UserStore       = (*database.UserRepository)(nil)
	_ TaskCounter     = (*database.TaskRepository)(nil)
	_ ExternalService = (*external.Service)(nil)
)

type Handler struct {
	store    tasks.StoreInterface
	users    UserStore
	tokens   database.TokenRepositoryInterface
	counter  TaskCounter
	external ExternalService
}

type createUserRequest struct {
	ID       string   `json:"id" binding:"required"`
	Name     string   `json:"name"`
	Provider string   `json:"provider"`
	Feeds    []string `json:"feeds"`
}

type addTaskRequest struct {
	Owner        string           `json:"owner" binding:"required"`
	Type         json.RawMessage  `json:"type" binding:"required"`
	Host         string           `json:"host"`
	Provider     string           `json:"provider"`
	Selection    string           `json:"selection"`
	BatchItemIDs []string         `json:"batch_item_ids"`
	Payload      map[string]any   `json:"payload"`
	Items        []map[string]any `json:"items"`
	Manual       *bool            `json:"manual"`
}

type freezeRequest struct {
	Type json.RawMessage `json:"type"`
}

type createTokenRequest struct {
	Name string `json:"name"`
}
