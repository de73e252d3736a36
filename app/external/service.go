package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-tag/app/database"
	"github.com/lysyi3m/rss-tag/app/feed"
	"github.com/lysyi3m/rss-tag/app/tasks"
)

const maxErrorRunes = 500

var (
	// ErrStaleClaim means the item is no longer claimed by the submitting token.
	ErrStaleClaim = errors.New("item is not claimed by this worker")
	// ErrTypeNotAllowed means the task type is not served to external workers.
	ErrTypeNotAllowed = errors.New("task type is not available to external workers")
	ErrInvalidResult  = errors.New("invalid result")
	// ErrRejected means the server refused a request for good; retrying it cannot succeed.
	ErrRejected = errors.New("request rejected")
)

// ClaimedTask is what an external worker receives for one claimed item.
type ClaimedTask struct {
	TaskID    string         `json:"task_id"`
	TaskType  tasks.TaskType `json:"task_type"`
	TaskTitle string         `json:"task_title"`
	Item      ItemPayload    `json:"item"`
}

// ItemPayload is the redacted item: plain text only, no internal state.
type ItemPayload struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content,omitempty"`
	URL       string `json:"url,omitempty"`
	Tag       string `json:"tag,omitempty"`
	Frequency int    `json:"frequency,omitempty"`
}

type SubmitRequest struct {
	TaskType tasks.TaskType  `json:"task_type"`
	ItemID   string          `json:"item_id"`
	Success  bool            `json:"success"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// MetricsRecorder receives external protocol events. A nil recorder is allowed.
type MetricsRecorder interface {
	ObserveExternalClaim(taskType, result string)
	ObserveExternalSubmit(taskType, result string)
}

// Service implements the server side of the external worker protocol on top of
// the item lock manager. The owner is always the one bound to the worker token.
type Service struct {
	store     tasks.StoreInterface
	taskRepo  database.TaskRepositoryInterface
	items     database.ItemRepositoryInterface
	settings  tasks.Settings
	extractor *feed.ContentExtractor
	metrics   MetricsRecorder
}

func NewService(store tasks.StoreInterface, taskRepo database.TaskRepositoryInterface,
	items database.ItemRepositoryInterface, settings tasks.Settings, metrics MetricsRecorder) *Service {
	return &Service{
		store:     store,
		taskRepo:  taskRepo,
		items:     items,
		settings:  settings,
		extractor: feed.NewContentExtractor(),
		metrics:   metrics,
	}
}

// ClaimExternal locks one pending item of the owner's first eligible task for
// tokenID. It returns nil when there is nothing to do.
func (s *Service) ClaimExternal(ctx context.Context, owner, tokenID string) (*ClaimedTask, error) {
	if len(s.settings.ExternalTypes) == 0 {
		return nil, nil
	}

	candidates, err := s.taskRepo.GetOwnerTasks(ctx, owner, externalTypeInts(s.settings.ExternalTypes))
	if err != nil {
		return nil, fmt.Errorf("failed to list external tasks: %w", err)
	}

	for _, task := range candidates {
		if task.Processing == database.ProcessingFrozen {
			continue
		}

		t := tasks.TaskType(task.Type)
		q, ok := t.Queue()
		if !ok {
			continue
		}

		var pinned []string
		if t.IsBatchVariant() {
			pinned = task.BatchItemIDs
		}

		item, err := s.items.ClaimForWorker(ctx, q, owner, pinned, tokenID, time.Now().UnixMilli(), s.settings.SampleSize)
		if err != nil {
			return nil, fmt.Errorf("failed to claim %s item: %w", t, err)
		}
		if item == nil {
			if _, err := s.store.CompleteIfDrained(ctx, owner, t); err != nil {
				slog.Error("Failed to complete drained task", "owner", owner, "type", t.String(), "error", err)
			}
			continue
		}

		slog.Debug("External item claimed", "owner", owner, "type", t.String(), "item_id", item.ID, "token_id", tokenID)
		s.observeClaim(t, "claimed")

		return &ClaimedTask{
			TaskID:    task.ID,
			TaskType:  t,
			TaskTitle: t.Title(),
			Item:      s.payload(q, *item),
		}, nil
	}

	s.observeClaim(tasks.TaskTypeNoop, "idle")
	return nil, nil
}

// SubmitExternal applies a worker's answer for an item it claimed. Any answer
// from a token that does not hold the claim is rejected with ErrStaleClaim and
// leaves the item untouched.
func (s *Service) SubmitExternal(ctx context.Context, owner string, req SubmitRequest, tokenID string) error {
	t := req.TaskType
	if !s.settings.IsExternal(t) {
		return fmt.Errorf("%w: %s", ErrTypeNotAllowed, t)
	}
	if req.ItemID == "" {
		return fmt.Errorf("%w: item_id is required", ErrInvalidResult)
	}
	q, _ := t.Queue()
	log := slog.With("owner", owner, "type", t.String(), "item_id", req.ItemID, "token_id", tokenID)

	if !req.Success {
		if err := s.fail(ctx, q, owner, req.ItemID, tokenID, req.Error); err != nil {
			s.observeSubmit(t, "stale")
			return err
		}
		log.Warn("External worker reported failure", "error", truncate(req.Error, maxErrorRunes))
		s.observeSubmit(t, "failed")
		return nil
	}

	value, err := NormalizeResult(t, req.Result)
	if err != nil {
		if failErr := s.fail(ctx, q, owner, req.ItemID, tokenID, err.Error()); failErr != nil {
			s.observeSubmit(t, "stale")
			return failErr
		}
		s.observeSubmit(t, "failed")
		return err
	}

	ok, err := s.items.SubmitResult(ctx, q, owner, req.ItemID, tokenID, value)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn("Rejected stale external submission")
		s.observeSubmit(t, "stale")
		return ErrStaleClaim
	}
	s.observeSubmit(t, "applied")

	if _, err := s.store.CompleteIfDrained(ctx, owner, t); err != nil {
		log.Error("Failed to complete drained task", "error", err)
	}
	return nil
}

func (s *Service) fail(ctx context.Context, q database.Queue, owner, itemID, tokenID, errText string) error {
	ok, err := s.items.SubmitFailure(ctx, q.Collection, owner, itemID, tokenID, truncate(errText, maxErrorRunes))
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleClaim
	}
	return nil
}

func (s *Service) payload(q database.Queue, item database.Item) ItemPayload {
	p := ItemPayload{ID: item.ID}
	switch q.Collection {
	case database.CollectionPosts:
		p.Title = s.extractor.PlainText(item.Title)
		p.Content = s.extractor.PlainText(item.Content)
		p.URL = item.URL
	default:
		p.Tag = item.Value
		p.Frequency = item.Frequency
	}
	return p
}

func (s *Service) observeClaim(t tasks.TaskType, result string) {
	if s.metrics != nil {
		s.metrics.ObserveExternalClaim(t.String(), result)
	}
}

func (s *Service) observeSubmit(t tasks.TaskType, result string) {
	if s.metrics != nil {
		s.metrics.ObserveExternalSubmit(t.String(), result)
	}
}

func externalTypeInts(types []tasks.TaskType) []int {
	out := make([]int, 0, len(types))
	for _, t := range types {
		out = append(out, int(t))
	}
	return out
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
