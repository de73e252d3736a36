package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// TaskRepository handles database operations for tasks
type TaskRepository struct {
	db *DB
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, owner, type, processing, manual, host, provider, selection, batch_item_ids, payload, created_at`

// UpsertTask inserts the task or, when a row with the same dedup key exists, updates it in place
// and resets it to free. With mergePayload the stored payload keys are kept and overlaid by the
// new ones; otherwise the payload is replaced.
func (r *TaskRepository) UpsertTask(ctx context.Context, dedupKey string, task Task, mergePayload bool) error {
	batchIDs, payload, err := encodeTaskJSON(task)
	if err != nil {
		return err
	}

	payloadExpr := "excluded.payload"
	if mergePayload {
		payloadExpr = "json_patch(tasks.payload, excluded.payload)"
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, dedup_key, owner, type, processing, manual, host, provider, selection, batch_item_ids, payload, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedup_key) DO UPDATE SET
			processing = 0,
			manual = excluded.manual,
			host = excluded.host,
			provider = excluded.provider,
			selection = excluded.selection,
			batch_item_ids = excluded.batch_item_ids,
			payload = `+payloadExpr,
		task.ID, dedupKey, task.Owner, task.Type, task.Manual, task.Host, task.Provider,
		task.Selection, batchIDs, payload, nowMillis())
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}

	return nil
}

// InsertTasks bulk-inserts tasks that are never deduplicated; each row is its own dedup key.
func (r *TaskRepository) InsertTasks(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO tasks (id, dedup_key, owner, type, processing, manual, host, provider, selection, batch_item_ids, payload, created_at) VALUES `)

	args := make([]any, 0, len(tasks)*11)
	now := nowMillis()
	for i, task := range tasks {
		batchIDs, payload, err := encodeTaskJSON(task)
		if err != nil {
			return err
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, task.ID, task.ID, task.Owner, task.Type, task.Manual, task.Host,
			task.Provider, task.Selection, batchIDs, payload, now)
	}

	if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert tasks: %w", err)
	}

	return nil
}

// SampleFree returns up to limit free tasks of the given types in random order
func (r *TaskRepository) SampleFree(ctx context.Context, types []int, limit int) ([]Task, error) {
	if len(types) == 0 || limit <= 0 {
		return nil, nil
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE processing = 0 AND type IN (` +
		placeholders(len(types)) + `) ORDER BY RANDOM() LIMIT ?`

	args := make([]any, 0, len(types)+1)
	for _, t := range types {
		args = append(args, t)
	}
	args = append(args, limit)

	return r.queryTasks(ctx, query, args...)
}

// TryClaim atomically moves a task from free to claimed at stamp.
// It reports false when another claimer got there first or the task is frozen or gone.
func (r *TaskRepository) TryClaim(ctx context.Context, id string, stamp int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE tasks SET processing = ? WHERE id = ? AND processing = 0`, stamp, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim task: %w", err)
	}
	return affected(res)
}

// ReleaseTask frees a task only if it is still held by the claim stamped at stamp,
// so a concurrent freeze or re-claim is never overwritten.
func (r *TaskRepository) ReleaseTask(ctx context.Context, id string, stamp int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE tasks SET processing = 0 WHERE id = ? AND processing = ?`, id, stamp)
	if err != nil {
		return false, fmt.Errorf("failed to release task: %w", err)
	}
	return affected(res)
}

// DeleteTask removes a task and reports whether this call deleted it
func (r *TaskRepository) DeleteTask(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}
	return affected(res)
}

// DeleteClaimed removes a task only while the claim stamped at stamp still holds it.
// A task re-queued or reset since that claim survives.
func (r *TaskRepository) DeleteClaimed(ctx context.Context, id string, stamp int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND processing = ?`, id, stamp)
	if err != nil {
		return false, fmt.Errorf("failed to delete claimed task: %w", err)
	}
	return affected(res)
}

// GetTask retrieves a task by ID, nil when missing
func (r *TaskRepository) GetTask(ctx context.Context, id string) (*Task, error) {
	tasks, err := r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

// GetOwnerTasks lists the tasks of an owner, optionally restricted to types
func (r *TaskRepository) GetOwnerTasks(ctx context.Context, owner string, types []int) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE owner = ?`
	args := []any{owner}
	if len(types) > 0 {
		query += ` AND type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}
	query += ` ORDER BY created_at, id`

	return r.queryTasks(ctx, query, args...)
}

// FreezeTasks marks the owner's tasks of the given types (all when empty) as frozen
func (r *TaskRepository) FreezeTasks(ctx context.Context, owner string, types []int) (int64, error) {
	query, args := ownerTypesFilter(`UPDATE tasks SET processing = -1 WHERE owner = ?`, owner, types)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to freeze tasks: %w", err)
	}
	return res.RowsAffected()
}

// UnfreezeTasks returns frozen tasks of the given types (all when empty) to free
func (r *TaskRepository) UnfreezeTasks(ctx context.Context, owner string, types []int) (int64, error) {
	query, args := ownerTypesFilter(`UPDATE tasks SET processing = 0 WHERE processing = -1 AND owner = ?`, owner, types)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to unfreeze tasks: %w", err)
	}
	return res.RowsAffected()
}

// ResetTaskLocks frees every claimed (not frozen) task of an owner, or of all owners when owner is empty
func (r *TaskRepository) ResetTaskLocks(ctx context.Context, owner string) (int64, error) {
	query := `UPDATE tasks SET processing = 0 WHERE processing > 0`
	var args []any
	if owner != "" {
		query += ` AND owner = ?`
		args = append(args, owner)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset task locks: %w", err)
	}
	return res.RowsAffected()
}

// GetTaskCount returns the total number of tasks
func (r *TaskRepository) GetTaskCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get task count: %w", err)
	}
	return count, nil
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var (
			task      Task
			batchIDs  string
			payload   string
			createdAt int64
		)
		err := rows.Scan(&task.ID, &task.Owner, &task.Type, &task.Processing, &task.Manual,
			&task.Host, &task.Provider, &task.Selection, &batchIDs, &payload, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		if err := json.Unmarshal([]byte(batchIDs), &task.BatchItemIDs); err != nil {
			return nil, fmt.Errorf("failed to decode batch item ids of task %s: %w", task.ID, err)
		}
		if err := json.Unmarshal([]byte(payload), &task.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of task %s: %w", task.ID, err)
		}
		task.CreatedAt = fromMillis(createdAt)
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

func encodeTaskJSON(task Task) (string, string, error) {
	ids := task.BatchItemIDs
	if ids == nil {
		ids = []string{}
	}
	batchIDs, err := json.Marshal(ids)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode batch item ids: %w", err)
	}

	payload := task.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode task payload: %w", err)
	}

	return string(batchIDs), string(payloadJSON), nil
}

func ownerTypesFilter(base, owner string, types []int) (string, []any) {
	args := []any{owner}
	if len(types) == 0 {
		return base, args
	}
	for _, t := range types {
		args = append(args, t)
	}
	return base + ` AND type IN (` + placeholders(len(types)) + `)`, args
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
