package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/lysyi3m/rss-tag/app/database"
)

// Dispatcher runs workers that claim tasks, hand them to their registered
// handlers and settle the outcome.
type Dispatcher struct {
	store       StoreInterface
	registry    *Registry
	users       database.UserRepositoryInterface
	metrics     MetricsRecorder
	workerCount int
	idleSleep   time.Duration
	idleJitter  time.Duration
	taskTimeout time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	wg          conc.WaitGroup
}

func NewDispatcher(store StoreInterface, registry *Registry, users database.UserRepositoryInterface,
	settings Settings, workerCount int, metrics MetricsRecorder) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	if workerCount <= 0 {
		workerCount = 1
	}

	return &Dispatcher{
		store:       store,
		registry:    registry,
		users:       users,
		metrics:     metrics,
		workerCount: workerCount,
		idleSleep:   settings.IdleSleep,
		idleJitter:  settings.IdleJitter,
		taskTimeout: 30 * time.Minute,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (d *Dispatcher) Start() {
	slog.Info("Starting task dispatcher", "workers", d.workerCount, "types", d.registry.Types())

	for i := 0; i < d.workerCount; i++ {
		d.wg.Go(func() { d.worker(i) })
	}
}

func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		if d.RunOnce(d.ctx, id) {
			continue
		}

		select {
		case <-d.ctx.Done():
			return
		case <-time.After(d.idleDelay()):
		}
	}
}

// RunOnce claims and processes at most one task. It reports whether the worker
// made progress; false means it should back off before claiming again.
func (d *Dispatcher) RunOnce(ctx context.Context, workerID int) (worked bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Worker recovered from panic", "worker_id", workerID, "panic", r, "stack", string(debug.Stack()))
			worked = false
		}
	}()

	claim := d.store.Claim(ctx, d.registry.Types())
	if claim.IsNoop() {
		d.observeIdle()
		return false
	}
	d.observeClaim(claim.Type)

	started := time.Now()
	outcome := d.handle(ctx, workerID, claim)
	d.observeOutcome(claim.Type, outcome, time.Since(started))

	d.settle(ctx, claim, outcome)
	if outcome.Kind == OutcomeFailed {
		return false
	}
	// A batched NoOp still finished its items.
	return outcome.Kind == OutcomeSuccess || claim.Type.IsBatched()
}

func (d *Dispatcher) handle(ctx context.Context, workerID int, claim Claim) (outcome Outcome) {
	log := slog.With("worker_id", workerID, "task_id", claim.Task.ID, "owner", claim.Task.Owner, "type", claim.Type.String())

	handler, ok := d.registry.Get(claim.Type)
	if !ok {
		return Failed(fmt.Errorf("%w: %s", ErrNoHandler, claim.Type))
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panicked", "panic", r, "stack", string(debug.Stack()))
			outcome = Failed(fmt.Errorf("handler panicked: %v", r))
		}
	}()

	taskCtx, cancel := context.WithTimeout(ctx, d.taskTimeout)
	defer cancel()

	log.Debug("Handling task", "items", len(claim.Items))
	outcome = handler.Handle(taskCtx, claim)

	switch outcome.Kind {
	case OutcomeFailed:
		log.Error("Task failed", "error", outcome.Err)
	case OutcomeNoOp:
		log.Debug("Task had nothing to do")
	default:
		log.Debug("Task succeeded")
	}
	return outcome
}

func (d *Dispatcher) settle(ctx context.Context, claim Claim, outcome Outcome) {
	log := slog.With("task_id", claim.Task.ID, "owner", claim.Task.Owner, "type", claim.Type.String())

	switch {
	case claim.Type.IsBatched():
		if err := d.store.Finish(ctx, claim); err != nil {
			log.Error("Failed to finish batch", "error", err)
		}

	case outcome.Kind == OutcomeSuccess:
		if err := d.store.Finish(ctx, claim); err != nil {
			log.Error("Failed to finish task", "error", err)
			return
		}
		if claim.Type == TaskTypeClustering {
			if err := d.users.SetInQueue(ctx, claim.Task.Owner, false); err != nil {
				log.Error("Failed to clear in_queue flag", "error", err)
			}
		}

	case outcome.Kind == OutcomeFailed && claim.Type.IsProvider() && errors.Is(outcome.Err, ErrInvalidCredentials):
		log.Warn("Provider credentials rejected, freezing tasks")
		if _, err := d.store.Freeze(ctx, claim.Task.Owner, claim.Type); err != nil {
			log.Error("Failed to freeze tasks", "error", err)
			d.release(ctx, claim)
			return
		}
		if err := d.users.SetRetoken(ctx, claim.Task.Owner, true); err != nil {
			log.Error("Failed to set retoken flag", "error", err)
		}
		if d.metrics != nil {
			d.metrics.ObserveFreeze(claim.Type.String())
		}

	default:
		d.release(ctx, claim)
	}
}

func (d *Dispatcher) release(ctx context.Context, claim Claim) {
	if err := d.store.Release(ctx, claim); err != nil {
		slog.Error("Failed to release task", "task_id", claim.Task.ID, "type", claim.Type.String(), "error", err)
	}
}

func (d *Dispatcher) idleDelay() time.Duration {
	if d.idleJitter <= 0 {
		return d.idleSleep
	}
	delay := d.idleSleep + time.Duration(rand.Int64N(int64(2*d.idleJitter))) - d.idleJitter
	if delay < 0 {
		return 0
	}
	return delay
}

func (d *Dispatcher) observeClaim(t TaskType) {
	if d.metrics != nil {
		d.metrics.ObserveClaim(t.String())
	}
}

func (d *Dispatcher) observeIdle() {
	if d.metrics != nil {
		d.metrics.ObserveIdle()
	}
}

func (d *Dispatcher) observeOutcome(t TaskType, outcome Outcome, duration time.Duration) {
	if d.metrics != nil {
		d.metrics.ObserveOutcome(t.String(), outcome.Kind.String(), duration)
	}
}
