package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// UserRepository handles database operations for users
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertUser registers a user or updates its name, provider and settings.
// Re-registering clears the retoken flag.
func (r *UserRepository) UpsertUser(ctx context.Context, user User) error {
	settings, err := json.Marshal(user.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode user settings: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, provider, settings, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			provider = excluded.provider,
			settings = excluded.settings,
			retoken = 0
	`, user.ID, user.Name, user.Provider, string(settings), nowMillis())
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	return nil
}

// GetUser retrieves a user by ID, nil when missing
func (r *UserRepository) GetUser(ctx context.Context, id string) (*User, error) {
	var (
		user      User
		settings  string
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, provider, settings, in_queue, retoken, created_at
		FROM users
		WHERE id = ?
	`, id).Scan(&user.ID, &user.Name, &user.Provider, &settings, &user.InQueue, &user.Retoken, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := json.Unmarshal([]byte(settings), &user.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings of user %s: %w", id, err)
	}
	user.CreatedAt = fromMillis(createdAt)

	return &user, nil
}

// SetRetoken raises or clears the flag asking the user to log in to the provider again
func (r *UserRepository) SetRetoken(ctx context.Context, id string, retoken bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET retoken = ? WHERE id = ?`, retoken, id)
	if err != nil {
		return fmt.Errorf("failed to set retoken flag: %w", err)
	}
	return nil
}

// SetInQueue sets the UI flag telling that a processing run is queued for the user
func (r *UserRepository) SetInQueue(ctx context.Context, id string, inQueue bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET in_queue = ? WHERE id = ?`, inQueue, id)
	if err != nil {
		return fmt.Errorf("failed to set in_queue flag: %w", err)
	}
	return nil
}

// GetUserCount returns the number of registered users
func (r *UserRepository) GetUserCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get user count: %w", err)
	}
	return count, nil
}
