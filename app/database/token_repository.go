package database

import (
	"context"
	"database/sql"
	"fmt"
)

// TokenRepository handles database operations for external worker tokens
type TokenRepository struct {
	db *DB
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// CreateToken stores a token by the hash of its secret
func (r *TokenRepository) CreateToken(ctx context.Context, token WorkerToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO worker_tokens (id, owner, name, token_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, token.ID, token.Owner, token.Name, token.TokenHash, nowMillis())
	if err != nil {
		return fmt.Errorf("failed to create worker token: %w", err)
	}
	return nil
}

// GetActiveTokenByHash returns the non-revoked token with the given hash, nil when missing
func (r *TokenRepository) GetActiveTokenByHash(ctx context.Context, hash string) (*WorkerToken, error) {
	var (
		token     WorkerToken
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner, name, token_hash, created_at
		FROM worker_tokens
		WHERE token_hash = ? AND revoked_at IS NULL
	`, hash).Scan(&token.ID, &token.Owner, &token.Name, &token.TokenHash, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker token: %w", err)
	}

	token.CreatedAt = fromMillis(createdAt)
	return &token, nil
}

// RevokeToken disables a token; revoking twice is not an error
func (r *TokenRepository) RevokeToken(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE worker_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL
	`, nowMillis(), id)
	if err != nil {
		return false, fmt.Errorf("failed to revoke worker token: %w", err)
	}
	return affected(res)
}
