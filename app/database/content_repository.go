package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ContentRepository handles the domain data produced by downloads and handlers:
// posts, tag frequencies and bigram frequencies.
type ContentRepository struct {
	db *DB
}

// NewContentRepository creates a new content repository
func NewContentRepository(db *DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// InsertPost stores a post unless the owner already has one with the same GUID.
// It reports whether a new row was written.
func (r *ContentRepository) InsertPost(ctx context.Context, post Post) (bool, error) {
	id := post.ID
	if id == "" {
		id = uuid.NewString()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO posts (id, owner, feed_url, guid, url, title, content, content_hash, is_read, published_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner, guid) DO NOTHING
	`, id, post.Owner, post.FeedURL, post.GUID, post.URL, post.Title, post.Content, post.ContentHash,
		post.IsRead, post.PublishedAt.UnixMilli(), nowMillis())
	if err != nil {
		return false, fmt.Errorf("failed to insert post: %w", err)
	}

	return affected(res)
}

// GetPostTags returns the tag lists of every already tagged post of the owner
func (r *ContentRepository) GetPostTags(ctx context.Context, owner string) ([][]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT tags FROM posts WHERE owner = ? AND tags IS NOT NULL ORDER BY rowid`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to get post tags: %w", err)
	}
	defer rows.Close()

	var result [][]string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan post tags: %w", err)
		}
		var tags []string
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			return nil, fmt.Errorf("failed to decode post tags: %w", err)
		}
		result = append(result, tags)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post tags: %w", err)
	}

	return result, nil
}

// AddTagFrequencies increments the owner's tag counters. A changed counter invalidates the
// tag rank so the ranking queue picks it up again.
func (r *ContentRepository) AddTagFrequencies(ctx context.Context, owner string, freqs map[string]int) error {
	for tag, freq := range freqs {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO tags (id, owner, tag, freq, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (owner, tag) DO UPDATE SET
				freq = tags.freq + excluded.freq,
				rank = NULL
		`, uuid.NewString(), owner, tag, freq, nowMillis())
		if err != nil {
			return fmt.Errorf("failed to add tag frequency: %w", err)
		}
	}
	return nil
}

// ReplaceBigrams rebuilds the owner's bigram table from freqs. Rows currently locked by a
// worker are left in place.
func (r *ContentRepository) ReplaceBigrams(ctx context.Context, owner string, freqs map[string]int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin bigram rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bigrams WHERE owner = ? AND processing = 0`, owner); err != nil {
		return fmt.Errorf("failed to clear bigrams: %w", err)
	}

	for bigram, freq := range freqs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bigrams (id, owner, bigram, freq, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (owner, bigram) DO UPDATE SET
				freq = excluded.freq,
				rank = NULL
		`, uuid.NewString(), owner, bigram, freq, nowMillis())
		if err != nil {
			return fmt.Errorf("failed to insert bigram: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bigram rebuild: %w", err)
	}
	return nil
}

// MaxFrequency returns the highest tag or bigram frequency of the owner
func (r *ContentRepository) MaxFrequency(ctx context.Context, c Collection, owner string) (int, error) {
	if c != CollectionTags && c != CollectionBigrams {
		return 0, fmt.Errorf("collection %q has no frequencies", c)
	}

	var maxFreq int
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(freq), 0) FROM %s WHERE owner = ?`, c), owner).Scan(&maxFreq)
	if err != nil {
		return 0, fmt.Errorf("failed to get max %s frequency: %w", c, err)
	}
	return maxFreq, nil
}

// SetPostRead updates the read flag of one of the owner's posts
func (r *ContentRepository) SetPostRead(ctx context.Context, owner, id string, read bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE posts SET is_read = ? WHERE owner = ? AND id = ?`, read, owner, id)
	if err != nil {
		return false, fmt.Errorf("failed to set post read state: %w", err)
	}
	return affected(res)
}

// CountPosts returns the number of posts of the owner
func (r *ContentRepository) CountPosts(ctx context.Context, owner string) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE owner = ?`, owner).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return count, nil
}
