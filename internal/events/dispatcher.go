package events

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/pkg/logging"
)

// SyncStatus summarises how post-commit tasks fared.
type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncPartial SyncStatus = "partial"
	SyncFailed  SyncStatus = "failed"
	SyncQueued  SyncStatus = "queued"
	SyncSkipped SyncStatus = "skipped"
)

// TaskResult is the outcome of one entry.
type TaskResult struct {
	Type   string `json:"type"`
	Error  string `json:"error,omitempty"`
	Queued bool   `json:"queued,omitempty"`
}

// SyncReport is returned to callers alongside the committed result.
type SyncReport struct {
	Status SyncStatus   `json:"status"`
	Tasks  []TaskResult `json:"tasks,omitempty"`
}

// RetryQueue keeps failed entries for the outbox worker.
type RetryQueue interface {
	Enqueue(ctx context.Context, entry OutboxEntry) error
}

// Observer is told the final state of each task ("ok", "failed", "queued").
type Observer func(taskType, state string)

// Dispatcher runs post-commit entries concurrently. Each entry gets its own timeout
// and its failure never affects siblings or the caller's outcome.
type Dispatcher struct {
	handler  DeliveryHandler
	retry    RetryQueue
	logger   *logging.Logger
	timeout  time.Duration
	async    bool
	observer Observer
}

type DispatcherOption func(*Dispatcher)

func WithRetryQueue(q RetryQueue) DispatcherOption {
	return func(d *Dispatcher) { d.retry = q }
}

func WithTaskTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithAsync makes Dispatch return immediately with SyncQueued.
func WithAsync(async bool) DispatcherOption {
	return func(d *Dispatcher) { d.async = async }
}

func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

func NewDispatcher(handler DeliveryHandler, logger *logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		handler: handler,
		logger:  logger,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, entries []OutboxEntry) SyncReport {
	if d == nil || d.handler == nil || len(entries) == 0 {
		return SyncReport{Status: SyncSkipped}
	}
	if d.async {
		detached := context.WithoutCancel(ctx)
		go d.run(detached, entries)
		return SyncReport{Status: SyncQueued}
	}
	return d.run(ctx, entries)
}

func (d *Dispatcher) run(ctx context.Context, entries []OutboxEntry) SyncReport {
	results := make([]TaskResult, len(entries))
	var g errgroup.Group
	for i, entry := range entries {
		g.Go(func() error {
			results[i] = d.deliver(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	report := SyncReport{Tasks: results}
	switch {
	case failed == 0:
		report.Status = SyncSynced
	case failed == len(results):
		report.Status = SyncFailed
	default:
		report.Status = SyncPartial
	}
	return report
}

func (d *Dispatcher) deliver(ctx context.Context, entry OutboxEntry) (result TaskResult) {
	result.Type = entry.Type
	taskCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.handle(taskCtx, entry)
	if err == nil {
		d.observe(entry.Type, "ok")
		return result
	}

	result.Error = err.Error()
	d.logger.Warn("post-commit task failed", "task", entry.Type, "key", entry.Key, "error", err)
	if d.retry != nil {
		entry.Attempts++
		queueCtx, cancelQueue := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancelQueue()
		if qErr := d.retry.Enqueue(queueCtx, entry); qErr != nil {
			d.logger.Error("failed to queue task for retry", "task", entry.Type, "key", entry.Key, "error", qErr)
		} else {
			result.Queued = true
			d.observe(entry.Type, "queued")
			return result
		}
	}
	d.observe(entry.Type, "failed")
	return result
}

func (d *Dispatcher) handle(ctx context.Context, entry OutboxEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("events: task %s panicked: %v", entry.Type, r)
		}
	}()
	return d.handler.Handle(ctx, entry)
}

func (d *Dispatcher) observe(taskType, state string) {
	if d.observer != nil {
		d.observer(taskType, state)
	}
}
