// Package worker implements the per-item capture pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-screenshotter/internal/metrics"
	"github.com/JakeFAU/sitemap-screenshotter/internal/progress"
	"github.com/JakeFAU/sitemap-screenshotter/internal/queue"
	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
)

// Config controls Worker behavior.
type Config struct {
	// ImageExt is the screenshot file extension ("png" or "jpg").
	ImageExt string
}

// Worker captures dispatched items and settles their outcome in the store.
type Worker struct {
	store    *queue.Store
	capturer screenshot.Capturer
	recorder screenshot.ResultRecorder
	events   progress.Emitter
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	store *queue.Store,
	capturer screenshot.Capturer,
	recorder screenshot.ResultRecorder,
	events progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ImageExt == "" {
		cfg.ImageExt = "png"
	}
	if events == nil {
		events = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:    store,
		capturer: capturer,
		recorder: recorder,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// Run processes items until the channel is closed. settled is invoked after
// each item's outcome has been written to the store.
func (w *Worker) Run(ctx context.Context, jobID string, items <-chan screenshot.WorkItem, settled func()) {
	for item := range items {
		w.Process(ctx, jobID, item)
		if settled != nil {
			settled()
		}
	}
}

// Process captures a single Processing item, records it, and settles it.
// The settled copy is returned.
func (w *Worker) Process(ctx context.Context, jobID string, item screenshot.WorkItem) screenshot.WorkItem {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("job_id", jobID), zap.String("url", item.URL))
	start := w.now()
	res, err := w.capture(ctx, jobID, item.URL)
	dur := w.now().Sub(start)

	final := item
	if err != nil {
		final.Status = screenshot.StatusFailed
		final.Error = err.Error()
		final.ResultPath = ""
	} else {
		final.Status = screenshot.StatusCompleted
		final.Error = ""
		final.ResultPath = res.Path
	}

	if recErr := w.record(ctx, jobID, final); recErr != nil {
		logger.Error("record result failed", zap.Error(recErr))
		if final.Status == screenshot.StatusCompleted {
			final.Status = screenshot.StatusFailed
			final.Error = fmt.Sprintf("persist result: %v", recErr)
			final.ResultPath = ""
		}
	}

	w.settle(logger, final)
	w.emit(jobID, final, res.Bytes, dur)
	if final.Status == screenshot.StatusCompleted {
		logger.Info("screenshot captured", zap.String("path", final.ResultPath), zap.Duration("dur", dur))
	} else {
		logger.Warn("screenshot failed", zap.String("error", final.Error), zap.Duration("dur", dur))
	}
	return final
}

// Abandon settles a Processing item as Failed without capturing it, for items
// dispatched while the job was shutting down.
func (w *Worker) Abandon(ctx context.Context, jobID string, item screenshot.WorkItem, cause error) {
	if cause == nil {
		cause = errors.New("abandoned")
	}
	final := item
	final.Status = screenshot.StatusFailed
	final.Error = cause.Error()
	final.ResultPath = ""
	logger := w.logger.With(zap.String("job_id", jobID), zap.String("url", item.URL))
	if err := w.record(context.WithoutCancel(ctx), jobID, final); err != nil {
		logger.Error("record abandoned result failed", zap.Error(err))
	}
	w.settle(logger, final)
	w.emit(jobID, final, 0, 0)
}

func (w *Worker) capture(ctx context.Context, jobID, rawURL string) (res screenshot.CaptureResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = screenshot.CaptureResult{}
			err = fmt.Errorf("capture panic: %v", r)
		}
	}()
	if w.capturer == nil {
		return screenshot.CaptureResult{}, errors.New("no capturer configured")
	}
	filename, err := screenshot.Filename(rawURL, w.cfg.ImageExt, w.now())
	if err != nil {
		return screenshot.CaptureResult{}, err
	}
	res, err = w.capturer.Capture(ctx, screenshot.CaptureRequest{
		JobID:    jobID,
		URL:      rawURL,
		Filename: filename,
	})
	if err != nil {
		return screenshot.CaptureResult{}, err
	}
	if res.Path == "" {
		return screenshot.CaptureResult{}, errors.New("capturer returned empty path")
	}
	return res, nil
}

func (w *Worker) record(ctx context.Context, jobID string, item screenshot.WorkItem) error {
	if w.recorder == nil {
		return nil
	}
	if err := w.recorder.Record(ctx, jobID, item); err != nil {
		return fmt.Errorf("record %s: %w", item.URL, err)
	}
	return nil
}

func (w *Worker) settle(logger *zap.Logger, item screenshot.WorkItem) {
	var ok bool
	if item.Status == screenshot.StatusCompleted {
		ok = w.store.MarkCompleted(item.URL, item.ResultPath)
	} else {
		ok = w.store.MarkFailed(item.URL, item.Error)
	}
	if !ok {
		logger.Warn("settle ignored; item not processing", zap.String("status", string(item.Status)))
	}
}

func (w *Worker) emit(jobID string, item screenshot.WorkItem, size int64, dur time.Duration) {
	site := metrics.SanitizeSite(item.URL)
	stage := progress.StageItemCompleted
	status := string(screenshot.StatusCompleted)
	note := ""
	if item.Status == screenshot.StatusFailed {
		stage = progress.StageItemFailed
		status = string(screenshot.StatusFailed)
		note = item.Error
		size = 0
	}
	metrics.ObserveCapture(item.URL, status)
	w.events.Emit(progress.Event{
		JobID: progress.JobKey(jobID),
		TS:    w.now().UTC(),
		Stage: stage,
		Site:  site,
		URL:   item.URL,
		Bytes: size,
		Dur:   dur,
		Note:  note,
	})
}
