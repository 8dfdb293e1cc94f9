// Package dispatcher drives one job generation: it feeds dispatchable items
// to a bounded worker pool until the job's queue drains.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-screenshotter/internal/progress"
	"github.com/JakeFAU/sitemap-screenshotter/internal/queue"
	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
	"github.com/JakeFAU/sitemap-screenshotter/internal/worker"
)

const defaultPollInterval = 500 * time.Millisecond

// Config controls Dispatcher behavior.
type Config struct {
	// PollInterval caps how long the loop sleeps between dispatch attempts
	// when no settle signal arrives.
	PollInterval time.Duration
}

// Dispatcher fans dispatchable items out to a pool of workers.
type Dispatcher struct {
	store     *queue.Store
	scheduler *queue.Scheduler
	worker    *worker.Worker
	events    progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// New creates a Dispatcher.
func New(
	store *queue.Store,
	scheduler *queue.Scheduler,
	w *worker.Worker,
	events progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if events == nil {
		events = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:     store,
		scheduler: scheduler,
		worker:    w,
		events:    events,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run starts exactly Limit() workers and dispatches until no item is pending
// or processing. It returns nil on drain and the context error on
// cancellation; in both cases every worker has exited before it returns.
func (d *Dispatcher) Run(ctx context.Context, jobID string) error {
	items := make(chan screenshot.WorkItem)
	wake := make(chan struct{}, 1)
	settled := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < d.scheduler.Limit(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker.Run(ctx, jobID, items, settled)
		}()
	}
	defer func() {
		close(items)
		wg.Wait()
	}()

	logger := d.logger.With(zap.String("job_id", jobID))
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("dispatch loop: %w", err)
		}
		if d.store.Drained() {
			logger.Debug("queue drained")
			return nil
		}
		if item, ok := d.scheduler.DispatchNext(); ok {
			d.emitDispatched(jobID, item.URL)
			select {
			case items <- item:
				continue
			case <-ctx.Done():
				d.worker.Abandon(ctx, jobID, item, ctx.Err())
				return fmt.Errorf("dispatch %s: %w", item.URL, ctx.Err())
			}
		}
		select {
		case <-wake:
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("dispatch loop: %w", ctx.Err())
		}
	}
}

func (d *Dispatcher) emitDispatched(jobID, url string) {
	d.events.Emit(progress.Event{
		JobID: progress.JobKey(jobID),
		TS:    time.Now().UTC(),
		Stage: progress.StageItemDispatched,
		URL:   url,
	})
}
