package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/rss-tag/app/database"
)

// TaskRequest describes a task a producer wants to enqueue.
type TaskRequest struct {
	Owner        string
	Type         TaskType
	Host         string
	Provider     string
	Selection    string
	BatchItemIDs []string
	Payload      map[string]any
	// Items holds one payload per task for MARK and MARK_TELEGRAM.
	Items []map[string]any
}

// Claim is a locked task handed to a worker. A zero Claim is NOOP.
type Claim struct {
	Task  database.Task
	Type  TaskType
	User  *database.User
	Items []database.Item
	Stamp int64
}

func (c Claim) IsNoop() bool {
	return c.Type == TaskTypeNoop
}

// ItemIDs returns the ids of the items pulled with the claim.
func (c Claim) ItemIDs() []string {
	ids := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		ids = append(ids, item.ID)
	}
	return ids
}

type TaskState string

const (
	TaskStateQueued  TaskState = "queued"
	TaskStateClaimed TaskState = "claimed"
	TaskStateFrozen  TaskState = "frozen"
)

// TaskStatus is a per-task progress line for the owner's UI.
type TaskStatus struct {
	ID        string    `json:"id"`
	Type      TaskType  `json:"type"`
	Title     string    `json:"title"`
	State     TaskState `json:"state"`
	Manual    bool      `json:"manual"`
	Remaining *int      `json:"remaining,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the task store. Every state change it makes is a single-row
// compare-and-update, so any number of workers in any number of processes may
// share one database.
type Store struct {
	tasks    database.TaskRepositoryInterface
	items    database.ItemRepositoryInterface
	users    database.UserRepositoryInterface
	graph    *Graph
	settings Settings
	now      func() time.Time
	last     atomic.Int64
}

func NewStore(tasks database.TaskRepositoryInterface, items database.ItemRepositoryInterface,
	users database.UserRepositoryInterface, graph *Graph, settings Settings) *Store {
	return &Store{
		tasks:    tasks,
		items:    items,
		users:    users,
		graph:    graph,
		settings: settings,
		now:      time.Now,
	}
}

func dedupKey(owner string, t TaskType) string {
	return owner + ":" + strconv.Itoa(int(t))
}

// AddTask enqueues a task. DOWNLOAD overwrites the owner's previous request;
// MARK and MARK_TELEGRAM store one task per item and report false for an
// empty item list; every other type is upserted per owner with its payload
// keys merged. Any upsert resets the task to free.
func (s *Store) AddTask(ctx context.Context, req TaskRequest, manual bool) (bool, error) {
	if req.Owner == "" {
		return false, errors.New("task owner is required")
	}
	if !req.Type.Valid() {
		return false, fmt.Errorf("%w: %d", ErrUnknownTaskType, req.Type)
	}

	if req.Type.IsFireAndCollect() {
		if len(req.Items) == 0 {
			return false, nil
		}
		rows := make([]database.Task, 0, len(req.Items))
		for _, payload := range req.Items {
			row := s.newRow(req, manual)
			row.Payload = payload
			rows = append(rows, row)
		}
		if err := s.tasks.InsertTasks(ctx, rows); err != nil {
			slog.Error("Failed to add tasks", "owner", req.Owner, "type", req.Type.String(), "count", len(rows), "error", err)
			return false, err
		}
		slog.Debug("Tasks added", "owner", req.Owner, "type", req.Type.String(), "count", len(rows))
		return true, nil
	}

	merge := req.Type != TaskTypeDownload
	if err := s.tasks.UpsertTask(ctx, dedupKey(req.Owner, req.Type), s.newRow(req, manual), merge); err != nil {
		slog.Error("Failed to add task", "owner", req.Owner, "type", req.Type.String(), "error", err)
		return false, err
	}

	slog.Debug("Task added", "owner", req.Owner, "type", req.Type.String(), "manual", manual)
	return true, nil
}

// AddNextTasks enqueues the graph successors of t as automatic tasks.
func (s *Store) AddNextTasks(ctx context.Context, owner string, t TaskType) (bool, error) {
	for _, next := range s.graph.Successors(t) {
		if _, err := s.AddTask(ctx, TaskRequest{Owner: owner, Type: next}, false); err != nil {
			return false, fmt.Errorf("failed to add successor %s of %s: %w", next, t, err)
		}
	}
	return true, nil
}

// Claim locks one free task among the allowed types and prepares its data.
// Failures never propagate: they are logged and the caller gets NOOP.
func (s *Store) Claim(ctx context.Context, allowed []TaskType) Claim {
	candidates, err := s.tasks.SampleFree(ctx, typeInts(allowed), s.settings.SampleSize)
	if err != nil {
		slog.Error("Failed to sample free tasks", "error", err)
		return Claim{}
	}

	for _, task := range candidates {
		stamp := s.stamp()
		ok, err := s.tasks.TryClaim(ctx, task.ID, stamp)
		if err != nil {
			slog.Error("Failed to claim task", "task_id", task.ID, "error", err)
			return Claim{}
		}
		if !ok {
			continue
		}
		task.Processing = stamp
		return s.prepare(ctx, task, stamp)
	}

	return Claim{}
}

func (s *Store) prepare(ctx context.Context, task database.Task, stamp int64) Claim {
	t := TaskType(task.Type)
	log := slog.With("task_id", task.ID, "owner", task.Owner, "type", t.String())

	user, err := s.users.GetUser(ctx, task.Owner)
	if err != nil {
		log.Error("Failed to get task owner", "error", err)
		s.releaseTask(ctx, task.ID, stamp)
		return Claim{}
	}
	if user == nil {
		log.Warn("Task owner not found, removing orphaned task")
		if _, err := s.tasks.DeleteTask(ctx, task.ID); err != nil {
			log.Error("Failed to remove orphaned task", "error", err)
		}
		return Claim{}
	}

	claim := Claim{Task: task, Type: t, User: user, Stamp: stamp}
	if !t.IsBatched() {
		return claim
	}

	q, _ := t.Queue()
	pinned := t.IsBatchVariant() && len(task.BatchItemIDs) > 0

	var items []database.Item
	if pinned {
		items, err = s.items.PullPinned(ctx, q, task.Owner, task.BatchItemIDs, stamp)
	} else {
		items, err = s.items.PullBatch(ctx, q, task.Owner, s.settings.BatchSize(t), stamp)
	}
	if err != nil {
		log.Error("Failed to pull batch", "queue", q.String(), "error", err)
		s.releaseTask(ctx, task.ID, stamp)
		return Claim{}
	}

	if len(items) > 0 {
		claim.Items = items
		log.Debug("Batch claimed", "queue", q.String(), "items", len(items))
		return claim
	}

	var ids []string
	if pinned {
		ids = task.BatchItemIDs
	}
	pending, err := s.items.CountPending(ctx, q, task.Owner, ids)
	if err != nil {
		log.Error("Failed to count pending items", "queue", q.String(), "error", err)
		s.releaseTask(ctx, task.ID, stamp)
		return Claim{}
	}
	if pending > 0 {
		log.Debug("Pending items are locked elsewhere, releasing task", "queue", q.String(), "pending", pending)
		s.releaseTask(ctx, task.ID, stamp)
		return Claim{}
	}

	s.complete(ctx, task, stamp)
	return Claim{}
}

// complete removes a drained task held at stamp. Automatic tasks hand off to
// their successors first and stay queued if that fails.
func (s *Store) complete(ctx context.Context, task database.Task, stamp int64) {
	t := TaskType(task.Type)
	log := slog.With("task_id", task.ID, "owner", task.Owner, "type", t.String())

	if !task.Manual {
		if _, err := s.AddNextTasks(ctx, task.Owner, t); err != nil {
			log.Error("Failed to add next tasks, releasing drained task", "error", err)
			s.releaseTask(ctx, task.ID, stamp)
			return
		}
	}

	deleted, err := s.tasks.DeleteClaimed(ctx, task.ID, stamp)
	if err != nil {
		log.Error("Failed to remove drained task", "error", err)
		s.releaseTask(ctx, task.ID, stamp)
		return
	}
	if !deleted {
		log.Info("Drained task was re-queued, keeping it")
		return
	}

	log.Info("Task drained", "manual", task.Manual)
}

// CompleteIfDrained finishes the owner's tasks of type t once their queue is
// empty. Only a task that can be locked right now is completed; a task held by
// a worker is left for that worker's next claim to notice.
func (s *Store) CompleteIfDrained(ctx context.Context, owner string, t TaskType) (bool, error) {
	q, ok := t.Queue()
	if !ok {
		return false, fmt.Errorf("%s has no item queue", t)
	}

	tasks, err := s.tasks.GetOwnerTasks(ctx, owner, []int{int(t)})
	if err != nil {
		return false, err
	}

	completed := false
	for _, task := range tasks {
		var ids []string
		if t.IsBatchVariant() && len(task.BatchItemIDs) > 0 {
			ids = task.BatchItemIDs
		}
		pending, err := s.items.CountPending(ctx, q, owner, ids)
		if err != nil {
			return completed, err
		}
		if pending > 0 {
			continue
		}

		stamp := s.stamp()
		locked, err := s.tasks.TryClaim(ctx, task.ID, stamp)
		if err != nil {
			return completed, err
		}
		if !locked {
			continue
		}
		s.complete(ctx, task, stamp)
		completed = true
	}

	return completed, nil
}

// Finish settles a claim. Batched claims give back their items and the task
// lock; the task stays queued until a claim finds its queue drained. Other
// claims remove the task while the claim still holds it and, for automatic
// tasks removed by this call, enqueue its successors. A task re-queued after
// the claim was taken is left in place.
func (s *Store) Finish(ctx context.Context, claim Claim) error {
	if claim.IsNoop() {
		return nil
	}

	if claim.Type.IsBatched() {
		q, _ := claim.Type.Queue()
		if err := s.items.ReleaseItems(ctx, q.Collection, claim.ItemIDs()); err != nil {
			return fmt.Errorf("failed to finish task %s: %w", claim.Task.ID, err)
		}
		if _, err := s.tasks.ReleaseTask(ctx, claim.Task.ID, claim.Stamp); err != nil {
			return fmt.Errorf("failed to finish task %s: %w", claim.Task.ID, err)
		}
		return nil
	}

	deleted, err := s.tasks.DeleteClaimed(ctx, claim.Task.ID, claim.Stamp)
	if err != nil {
		return fmt.Errorf("failed to finish task %s: %w", claim.Task.ID, err)
	}
	if !deleted || claim.Task.Manual {
		return nil
	}

	if _, err := s.AddNextTasks(ctx, claim.Task.Owner, claim.Type); err != nil {
		return fmt.Errorf("failed to finish task %s: %w", claim.Task.ID, err)
	}
	return nil
}

// Release gives a claim back without completing it.
func (s *Store) Release(ctx context.Context, claim Claim) error {
	if claim.IsNoop() {
		return nil
	}

	if len(claim.Items) > 0 {
		q, _ := claim.Type.Queue()
		if err := s.items.ReleaseItems(ctx, q.Collection, claim.ItemIDs()); err != nil {
			return fmt.Errorf("failed to release task %s: %w", claim.Task.ID, err)
		}
	}

	if _, err := s.tasks.ReleaseTask(ctx, claim.Task.ID, claim.Stamp); err != nil {
		return fmt.Errorf("failed to release task %s: %w", claim.Task.ID, err)
	}
	return nil
}

// Remove deletes a task by id and reports whether it existed.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	return s.tasks.DeleteTask(ctx, id)
}

// Freeze parks the owner's tasks of the given types, or all of them when none
// are given. Frozen tasks are never claimed.
func (s *Store) Freeze(ctx context.Context, owner string, types ...TaskType) (int64, error) {
	n, err := s.tasks.FreezeTasks(ctx, owner, typeInts(types))
	if err != nil {
		return 0, err
	}
	slog.Info("Tasks frozen", "owner", owner, "types", types, "count", n)
	return n, nil
}

// Unfreeze returns frozen tasks of the given types (all when none) to the queue.
func (s *Store) Unfreeze(ctx context.Context, owner string, types ...TaskType) (int64, error) {
	n, err := s.tasks.UnfreezeTasks(ctx, owner, typeInts(types))
	if err != nil {
		return 0, err
	}
	slog.Info("Tasks unfrozen", "owner", owner, "types", types, "count", n)
	return n, nil
}

// Status lists the owner's tasks with remaining item counts for batched types.
func (s *Store) Status(ctx context.Context, owner string) ([]TaskStatus, error) {
	tasks, err := s.tasks.GetOwnerTasks(ctx, owner, nil)
	if err != nil {
		return nil, err
	}

	statuses := make([]TaskStatus, 0, len(tasks))
	for _, task := range tasks {
		t := TaskType(task.Type)
		status := TaskStatus{
			ID:        task.ID,
			Type:      t,
			Title:     t.Title(),
			State:     stateOf(task.Processing),
			Manual:    task.Manual,
			CreatedAt: task.CreatedAt,
		}

		if q, ok := t.Queue(); ok {
			var ids []string
			if t.IsBatchVariant() && len(task.BatchItemIDs) > 0 {
				ids = task.BatchItemIDs
			}
			remaining, err := s.items.CountPending(ctx, q, owner, ids)
			if err != nil {
				return nil, err
			}
			status.Remaining = &remaining
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

// ResetLocks frees stuck task and item locks of an owner, or of everyone when owner is empty.
// Frozen tasks stay frozen.
func (s *Store) ResetLocks(ctx context.Context, owner string) (int64, int64, error) {
	tasks, err := s.tasks.ResetTaskLocks(ctx, owner)
	if err != nil {
		return 0, 0, err
	}
	items, err := s.items.ResetItemLocks(ctx, owner)
	if err != nil {
		return tasks, 0, err
	}
	slog.Warn("Locks reset", "owner", owner, "tasks", tasks, "items", items)
	return tasks, items, nil
}

func (s *Store) newRow(req TaskRequest, manual bool) database.Task {
	return database.Task{
		ID:           uuid.NewString(),
		Owner:        req.Owner,
		Type:         int(req.Type),
		Manual:       manual,
		Host:         req.Host,
		Provider:     req.Provider,
		Selection:    req.Selection,
		BatchItemIDs: req.BatchItemIDs,
		Payload:      req.Payload,
	}
}

func (s *Store) releaseTask(ctx context.Context, id string, stamp int64) {
	if _, err := s.tasks.ReleaseTask(ctx, id, stamp); err != nil {
		slog.Error("Failed to release task", "task_id", id, "error", err)
	}
}

// stamp returns the claim timestamp in unix milliseconds, strictly increasing
// within the process so two claims never share a stamp.
func (s *Store) stamp() int64 {
	now := s.now().UnixMilli()
	for {
		last := s.last.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if s.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

func stateOf(processing int64) TaskState {
	switch {
	case processing == database.ProcessingFrozen:
		return TaskStateFrozen
	case processing > 0:
		return TaskStateClaimed
	}
	return TaskStateQueued
}
