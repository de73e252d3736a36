package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Runner polls the server for work, processes it with a local plugin and
// submits the answer. Every claimed item gets a submission, including items
// of types no plugin serves, so the server never keeps a lock for it.
// SubmitRetries bounds the extra submit attempts after a transport error.
type Runner struct {
	api           API
	plugins       *Plugins
	IdleSleep     time.Duration
	ErrorBackoff  time.Duration
	SubmitRetries int
	SubmitBackoff time.Duration
}

const maxSubmitBackoff = 30 * time.Second

func NewRunner(api API, plugins *Plugins) *Runner {
	return &Runner{
		api:           api,
		plugins:       plugins,
		IdleSleep:     5 * time.Second,
		ErrorBackoff:  10 * time.Second,
		SubmitRetries: 5,
		SubmitBackoff: time.Second,
	}
}

// Run polls until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("External worker runner started")

	for {
		worked, err := r.RunOnce(ctx)
		if ctx.Err() != nil {
			slog.Info("External worker runner stopped")
			return nil
		}

		var delay time.Duration
		switch {
		case err != nil:
			slog.Error("External worker iteration failed", "error", err)
			delay = r.ErrorBackoff
		case !worked:
			delay = r.IdleSleep
		}

		if delay > 0 {
			select {
			case <-ctx.Done():
				slog.Info("External worker runner stopped")
				return nil
			case <-time.After(delay):
			}
		}
	}
}

// RunOnce claims and settles at most one item. It reports whether an item was claimed.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	task, err := r.api.Claim(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	log := slog.With("task_id", task.TaskID, "type", task.TaskType.String(), "item_id", task.Item.ID)

	req := SubmitRequest{TaskType: task.TaskType, ItemID: task.Item.ID}
	result, err := r.process(ctx, *task)
	if err == nil {
		req.Result, err = json.Marshal(result)
	}
	if err != nil {
		log.Warn("Submitting failure", "error", err)
		req.Success = false
		req.Error = err.Error()
	} else {
		req.Success = true
	}

	if err := r.submit(ctx, req); err != nil {
		if errors.Is(err, ErrStaleClaim) {
			log.Warn("Claim was lost before submission")
			return true, nil
		}
		return true, err
	}

	log.Debug("Item submitted", "success", req.Success)
	return true, nil
}

// submit delivers req, retrying transport and server errors with exponential
// backoff. The claimed item stays locked on the server until a submission lands.
// Each attempt outlives ctx so a result computed before shutdown is still sent;
// cancelling ctx only stops further retries.
func (r *Runner) submit(ctx context.Context, req SubmitRequest) error {
	sendCtx := context.WithoutCancel(ctx)

	for attempt := 0; ; attempt++ {
		err := r.api.Submit(sendCtx, req)
		if err == nil || errors.Is(err, ErrStaleClaim) || errors.Is(err, ErrRejected) || attempt >= r.SubmitRetries {
			return err
		}

		delay := min(r.SubmitBackoff<<attempt, maxSubmitBackoff)
		slog.Warn("Submit failed, retrying", "item_id", req.ItemID, "attempt", attempt+1, "delay", delay.String(), "error", err)

		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
}

func (r *Runner) process(ctx context.Context, task ClaimedTask) (result any, err error) {
	plugin, ok := r.plugins.Get(task.TaskType)
	if !ok {
		return nil, fmt.Errorf("no plugin for task type %s", task.TaskType)
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("Plugin panicked", "type", task.TaskType.String(), "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("plugin panicked: %v", p)
		}
	}()

	return plugin.Process(ctx, task)
}
