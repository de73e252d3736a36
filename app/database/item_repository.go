package database

import (
	"context"
	"database/sql"
	"fmt"
)

// ItemRepository is the item lock manager: it owns the per-row processing field
// of posts, tags and bigrams and every read or write that depends on it.
type ItemRepository struct {
	db *DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// PullBatch locks up to limit pending, free items of the owner's queue at stamp and returns them.
// Items taken by a concurrent claimer between the select and the update are skipped.
func (r *ItemRepository) PullBatch(ctx context.Context, q Queue, owner string, limit int, stamp int64) ([]Item, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	ids, err := r.selectIDs(ctx, fmt.Sprintf(
		`SELECT id FROM %s WHERE owner = ? AND %s IS NULL AND processing = 0 ORDER BY rowid LIMIT ?`,
		q.Collection, q.Field), owner, limit)
	if err != nil {
		return nil, err
	}

	return r.lockAndLoad(ctx, q, ids, stamp)
}

// PullPinned is PullBatch restricted to a fixed id set, used to resume a pinned batch.
func (r *ItemRepository) PullPinned(ctx context.Context, q Queue, owner string, ids []string, stamp int64) ([]Item, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	args := []any{owner}
	for _, id := range ids {
		args = append(args, id)
	}
	pending, err := r.selectIDs(ctx, fmt.Sprintf(
		`SELECT id FROM %s WHERE owner = ? AND %s IS NULL AND processing = 0 AND id IN (%s) ORDER BY rowid`,
		q.Collection, q.Field, placeholders(len(ids))), args...)
	if err != nil {
		return nil, err
	}

	return r.lockAndLoad(ctx, q, pending, stamp)
}

// ReleaseItems resets the lock of every listed item, whatever its current holder
func (r *ItemRepository) ReleaseItems(ctx context.Context, c Collection, ids []string) error {
	if err := validCollection(c); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET processing = 0 WHERE id IN (%s)`, c, placeholders(len(ids))), args...)
	if err != nil {
		return fmt.Errorf("failed to release %s items: %w", c, err)
	}
	return nil
}

// CountPending counts the owner's items still missing the queue field, locked or not.
// A non-empty ids restricts the count to that pinned set.
func (r *ItemRepository) CountPending(ctx context.Context, q Queue, owner string, ids []string) (int, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE owner = ? AND %s IS NULL`, q.Collection, q.Field)
	args := []any{owner}
	if len(ids) > 0 {
		query += ` AND id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending %s: %w", q, err)
	}
	return count, nil
}

// SetResult stores a JSON-encoded result in the queue field of an item
func (r *ItemRepository) SetResult(ctx context.Context, q Queue, id string, value string) error {
	if err := q.Validate(); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s = ? WHERE id = ?`, q.Collection, q.Field), value, id)
	if err != nil {
		return fmt.Errorf("failed to set %s result: %w", q, err)
	}
	return nil
}

// ClaimForWorker locks one pending item of the owner's queue for an external worker token,
// stamping the audit columns in the same update. It samples up to sample candidates, from
// pinned when non-empty, and returns nil when none could be taken.
func (r *ItemRepository) ClaimForWorker(ctx context.Context, q Queue, owner string, pinned []string, tokenID string, stamp int64, sample int) (*Item, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id FROM %s WHERE owner = ? AND %s IS NULL AND processing = 0`, q.Collection, q.Field)
	args := []any{owner}
	if len(pinned) > 0 {
		query += ` AND id IN (` + placeholders(len(pinned)) + `)`
		for _, id := range pinned {
			args = append(args, id)
		}
	}
	args = append(args, sample)

	ids, err := r.selectIDs(ctx, query+` ORDER BY RANDOM() LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET
				processing = ?,
				external_claim_worker_token_id = ?,
				external_claimed_at = ?,
				external_submitted_at = NULL,
				external_result_worker_token_id = NULL,
				external_error = NULL
			WHERE id = ? AND processing = 0 AND %s IS NULL`, q.Collection, q.Field),
			stamp, tokenID, stamp, id)
		if err != nil {
			return nil, fmt.Errorf("failed to claim %s item: %w", q.Collection, err)
		}
		ok, err := affected(res)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		items, err := r.loadItems(ctx, q.Collection, []string{id})
		if err != nil {
			return nil, err
		}
		if len(items) == 1 {
			return &items[0], nil
		}
	}

	return nil, nil
}

// SubmitResult applies an external result and releases the item in one guarded update.
// The guard matches only the live external claim of tokenID: the lock must still carry the
// stamp ClaimForWorker wrote and nothing may have been submitted for it yet. It reports false
// otherwise, including when an internal worker has since locked the item.
func (r *ItemRepository) SubmitResult(ctx context.Context, q Queue, owner, id, tokenID, value string) (bool, error) {
	if err := q.Validate(); err != nil {
		return false, err
	}

	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET
			%s = ?,
			processing = 0,
			external_submitted_at = ?,
			external_result_worker_token_id = ?,
			external_error = NULL
		WHERE id = ? AND owner = ? AND processing = external_claimed_at
			AND external_submitted_at IS NULL AND external_claim_worker_token_id = ?`,
		q.Collection, q.Field), value, nowMillis(), tokenID, id, owner, tokenID)
	if err != nil {
		return false, fmt.Errorf("failed to submit %s result: %w", q, err)
	}
	return affected(res)
}

// SubmitFailure releases an externally claimed item and records the error, leaving it pending.
// It uses the same guard as SubmitResult.
func (r *ItemRepository) SubmitFailure(ctx context.Context, c Collection, owner, id, tokenID, errText string) (bool, error) {
	if err := validCollection(c); err != nil {
		return false, err
	}

	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET
			processing = 0,
			external_submitted_at = ?,
			external_result_worker_token_id = ?,
			external_error = ?
		WHERE id = ? AND owner = ? AND processing = external_claimed_at
			AND external_submitted_at IS NULL AND external_claim_worker_token_id = ?`, c),
		nowMillis(), tokenID, errText, id, owner, tokenID)
	if err != nil {
		return false, fmt.Errorf("failed to submit %s failure: %w", c, err)
	}
	return affected(res)
}

// GetClaimAudit returns the lock state and external audit columns of an item
func (r *ItemRepository) GetClaimAudit(ctx context.Context, c Collection, id string) (*ClaimAudit, error) {
	if err := validCollection(c); err != nil {
		return nil, err
	}

	var audit ClaimAudit
	var claimToken, resultToken, errText sql.NullString
	var claimedAt, submittedAt sql.NullInt64
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT processing, external_claim_worker_token_id, external_claimed_at,
		       external_submitted_at, external_result_worker_token_id, external_error
		FROM %s WHERE id = ?`, c), id).Scan(
		&audit.Processing, &claimToken, &claimedAt, &submittedAt, &resultToken, &errText)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim audit: %w", err)
	}

	audit.ClaimTokenID = claimToken.String
	audit.ResultTokenID = resultToken.String
	audit.Error = errText.String
	if claimedAt.Valid {
		t := fromMillis(claimedAt.Int64)
		audit.ClaimedAt = &t
	}
	if submittedAt.Valid {
		t := fromMillis(submittedAt.Int64)
		audit.SubmittedAt = &t
	}

	return &audit, nil
}

// ResetItemLocks frees every locked item of an owner (all owners when empty) in all collections
func (r *ItemRepository) ResetItemLocks(ctx context.Context, owner string) (int64, error) {
	var total int64
	for _, c := range Collections() {
		query := fmt.Sprintf(`UPDATE %s SET processing = 0 WHERE processing <> 0`, c)
		var args []any
		if owner != "" {
			query += ` AND owner = ?`
			args = append(args, owner)
		}
		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("failed to reset %s locks: %w", c, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to read affected rows: %w", err)
		}
		total += n
	}
	return total, nil
}

func (r *ItemRepository) lockAndLoad(ctx context.Context, q Queue, ids []string, stamp int64) ([]Item, error) {
	locked := make([]string, 0, len(ids))
	for _, id := range ids {
		res, err := r.db.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET processing = ? WHERE id = ? AND processing = 0`, q.Collection), stamp, id)
		if err != nil {
			// Hand back what this call already locked before giving up.
			if releaseErr := r.ReleaseItems(ctx, q.Collection, locked); releaseErr != nil {
				err = fmt.Errorf("%w (release: %v)", err, releaseErr)
			}
			return nil, fmt.Errorf("failed to lock %s item: %w", q.Collection, err)
		}
		ok, err := affected(res)
		if err != nil {
			return nil, err
		}
		if ok {
			locked = append(locked, id)
		}
	}

	if len(locked) == 0 {
		return nil, nil
	}

	return r.loadItems(ctx, q.Collection, locked)
}

func (r *ItemRepository) loadItems(ctx context.Context, c Collection, ids []string) ([]Item, error) {
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE id IN (%s) ORDER BY rowid`, itemColumns[c], c, placeholders(len(ids))), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s items: %w", c, err)
	}
	defer rows.Close()

	items := make([]Item, 0, len(ids))
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Owner, &item.Title, &item.Content, &item.URL, &item.Value, &item.Frequency); err != nil {
			return nil, fmt.Errorf("failed to scan %s item: %w", c, err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s items: %w", c, err)
	}

	return items, nil
}

func (r *ItemRepository) selectIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select item ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item ids: %w", err)
	}

	return ids, nil
}
