package database

import (
	"time"
)

// Processing field sentinels shared by tasks and items.
// Any positive value is the unix-millisecond timestamp of the claim.
const (
	ProcessingFree   int64 = 0
	ProcessingFrozen int64 = -1
)

// Task represents a task row in the database
type Task struct {
	ID           string
	Owner        string
	Type         int
	Processing   int64
	Manual       bool
	Host         string
	Provider     string
	Selection    string
	BatchItemIDs []string
	Payload      map[string]any
	CreatedAt    time.Time
}

// Item is a domain row (post, tag or bigram) as seen by the lock manager.
// Fields not stored by a collection are left empty.
type Item struct {
	ID        string
	Owner     string
	Title     string
	Content   string
	URL       string
	Value     string // tag or bigram text
	Frequency int
}

// Post is a downloaded feed entry owned by a user
type Post struct {
	ID          string
	Owner       string
	FeedURL     string
	GUID        string
	URL         string
	Title       string
	Content     string
	ContentHash string
	IsRead      bool
	PublishedAt time.Time
	Tags        []string
	CreatedAt   time.Time
}

// UserSettings are the per-user provider settings kept as JSON
type UserSettings struct {
	Feeds []string `json:"feeds,omitempty"`
}

type User struct {
	ID        string
	Name      string
	Provider  string
	Settings  UserSettings
	InQueue   bool
	Retoken   bool
	CreatedAt time.Time
}

type WorkerToken struct {
	ID        string
	Owner     string
	Name      string
	TokenHash string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// ClaimAudit carries the external worker bookkeeping stored on an item
type ClaimAudit struct {
	ClaimTokenID  string
	ClaimedAt     *time.Time
	SubmittedAt   *time.Time
	ResultTokenID string
	Error         string
	Processing    int64
}
