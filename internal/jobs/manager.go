// Package jobs owns the lifecycle of the single active screenshot job: start,
// retry, progress observation, and finalization.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-screenshotter/internal/dispatcher"
	"github.com/JakeFAU/sitemap-screenshotter/internal/progress"
	"github.com/JakeFAU/sitemap-screenshotter/internal/queue"
	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
	"github.com/JakeFAU/sitemap-screenshotter/internal/worker"
)

const defaultConcurrency = 3

// Config controls Manager behavior.
type Config struct {
	DefaultConcurrency int
	// MaxConcurrency clamps requested limits when positive.
	MaxConcurrency int
	PollInterval   time.Duration
	ImageExt       string
	// Topic receives a notification each time a job drains. Empty disables
	// publishing.
	Topic string
}

// ResultsLocator returns the results file location for a job.
type ResultsLocator func(jobID string) string

// DrainedNotice is published when a job's queue drains.
type DrainedNotice struct {
	JobID    string              `json:"job_id"`
	Progress screenshot.Progress `json:"progress"`
	Drained  time.Time           `json:"drained_at"`
}

// Manager coordinates the current job. At most one job is processing at a
// time; starting a new job replaces a drained one.
type Manager struct {
	capturer    screenshot.Capturer
	recorder    screenshot.ResultRecorder
	archiver    screenshot.Archiver
	publisher   screenshot.Publisher
	events      progress.Emitter
	resultsPath ResultsLocator
	cfg         Config
	logger      *zap.Logger
	now         func() time.Time
	newID       func() (string, error)

	ctx    context.Context
	cancel context.CancelFunc

	mu  sync.Mutex
	job *job
}

type job struct {
	id         string
	store      *queue.Store
	dispatcher *dispatcher.Dispatcher
	limit      int
	state      screenshot.JobState
	processing bool
	startedAt  time.Time
	done       chan struct{}
}

// NewManager constructs a Manager. Nil collaborators other than the capturer
// and archiver are optional.
func NewManager(
	capturer screenshot.Capturer,
	recorder screenshot.ResultRecorder,
	archiver screenshot.Archiver,
	publisher screenshot.Publisher,
	events progress.Emitter,
	resultsPath ResultsLocator,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if cfg.DefaultConcurrency <= 0 {
		cfg.DefaultConcurrency = defaultConcurrency
	}
	if events == nil {
		events = progress.Nop{}
	}
	if resultsPath == nil {
		resultsPath = func(string) string { return "" }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		capturer:    capturer,
		recorder:    recorder,
		archiver:    archiver,
		publisher:   publisher,
		events:      events,
		resultsPath: resultsPath,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		newID:       newJobID,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func newJobID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return id.String(), nil
}

// Start seeds a new job with urls and begins dispatching with the given
// concurrency limit (the configured default when limit <= 0). It returns as
// soon as the driver is launched.
func (m *Manager) Start(_ context.Context, urls []string, limit int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return "", errors.New("manager closed")
	}
	if m.job != nil && m.job.processing {
		return "", screenshot.ErrAlreadyRunning
	}

	store := queue.NewStore()
	if store.Seed(urls) == 0 {
		return "", screenshot.ErrNoValidURLs
	}
	id, err := m.newID()
	if err != nil {
		return "", err
	}
	limit = m.clampLimit(limit)
	sched := queue.NewScheduler(store, limit)
	w := worker.New(store, m.capturer, m.recorder, m.events, worker.Config{ImageExt: m.cfg.ImageExt}, m.logger)
	j := &job{
		id:         id,
		store:      store,
		dispatcher: dispatcher.New(store, sched, w, m.events, dispatcher.Config{PollInterval: m.cfg.PollInterval}, m.logger),
		limit:      limit,
		state:      screenshot.JobStateIdle,
		startedAt:  m.now().UTC(),
	}
	m.job = j
	m.logger.Info("job started",
		zap.String("job_id", id),
		zap.Int("urls", store.Progress().Total),
		zap.Int("concurrency", limit),
	)
	m.launchLocked(j)
	return id, nil
}

func (m *Manager) clampLimit(limit int) int {
	if limit <= 0 {
		limit = m.cfg.DefaultConcurrency
	}
	if m.cfg.MaxConcurrency > 0 && limit > m.cfg.MaxConcurrency {
		limit = m.cfg.MaxConcurrency
	}
	return limit
}

// launchLocked starts a driver generation. Callers hold m.mu.
func (m *Manager) launchLocked(j *job) {
	j.processing = true
	j.state = screenshot.JobStateRunning
	done := make(chan struct{})
	j.done = done
	m.emit(j.id, progress.StageJobStart, "", 0)
	go m.drive(j, done)
}

func (m *Manager) drive(j *job, done chan struct{}) {
	defer close(done)
	logger := m.logger.With(zap.String("job_id", j.id))
	start := m.now()
	for {
		err := j.dispatcher.Run(m.ctx, j.id)

		m.mu.Lock()
		if err == nil && !j.store.Progress().Drained() {
			// A retry re-armed an item after the loop observed the drain.
			m.mu.Unlock()
			continue
		}
		snapshot := j.store.Progress()
		j.processing = false
		j.state = screenshot.JobStateDrained
		if !snapshot.Drained() {
			j.state = screenshot.JobStateIdle
		}
		m.mu.Unlock()

		if err != nil {
			logger.Warn("job driver stopped", zap.Error(err))
		}
		dur := m.now().Sub(start)
		m.emit(j.id, progress.StageJobDrained, "", dur)
		logger.Info("job drained",
			zap.Int("completed", snapshot.Completed),
			zap.Int("failed", snapshot.Failed),
			zap.Duration("dur", dur),
		)
		m.notifyDrained(j.id, snapshot)
		return
	}
}

func (m *Manager) notifyDrained(jobID string, p screenshot.Progress) {
	if m.publisher == nil || m.cfg.Topic == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), 10*time.Second)
	defer cancel()
	notice := DrainedNotice{JobID: jobID, Progress: p, Drained: m.now().UTC()}
	if _, err := m.publisher.Publish(ctx, m.cfg.Topic, notice); err != nil {
		m.logger.Error("publish drained notice failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// Retry re-arms a single Failed item of the current job and restarts the
// driver if it has stopped. Unknown URLs and items that are not Failed are
// ignored.
func (m *Manager) Retry(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j := m.job
	if j == nil {
		return screenshot.ErrNoActiveJob
	}
	if !j.store.MarkRetry(url) {
		return nil
	}
	m.emit(j.id, progress.StageItemRetry, url, 0)
	m.logger.Info("item re-armed", zap.String("job_id", j.id), zap.String("url", url))
	m.ensureRunningLocked(j)
	return nil
}

// RetryAll re-arms every Failed item of the current job and returns how many
// were re-armed.
func (m *Manager) RetryAll(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j := m.job
	if j == nil {
		return 0, screenshot.ErrNoActiveJob
	}
	urls := j.store.RetryAllFailed()
	for _, url := range urls {
		m.emit(j.id, progress.StageItemRetry, url, 0)
	}
	m.logger.Info("failed items re-armed", zap.String("job_id", j.id), zap.Int("count", len(urls)))
	if len(urls) > 0 {
		m.ensureRunningLocked(j)
	}
	return len(urls), nil
}

func (m *Manager) ensureRunningLocked(j *job) {
	if j.processing || m.ctx.Err() != nil {
		return
	}
	m.launchLocked(j)
}

// CurrentProgress returns a consistent view of the current job. With no job
// it returns the zero shape with an empty item list.
func (m *Manager) CurrentProgress() screenshot.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	j := m.job
	if j == nil {
		return screenshot.Snapshot{Items: []screenshot.WorkItem{}}
	}
	items := j.store.Snapshot()
	started := j.startedAt
	return screenshot.Snapshot{
		HasJob:       true,
		JobID:        j.id,
		State:        j.state,
		IsProcessing: j.processing,
		StartedAt:    &started,
		Progress:     screenshot.Count(items),
		Items:        items,
	}
}

// Finalize packages a drained job. It fails with ErrJobNotFound when jobID
// is not the current job and ErrJobStillRunning while items are outstanding.
func (m *Manager) Finalize(ctx context.Context, jobID string) (screenshot.Artifact, error) {
	m.mu.Lock()
	j := m.job
	if j == nil || j.id != jobID {
		m.mu.Unlock()
		return screenshot.Artifact{}, screenshot.ErrJobNotFound
	}
	items := j.store.Snapshot()
	m.mu.Unlock()

	if !screenshot.Count(items).Drained() {
		return screenshot.Artifact{}, screenshot.ErrJobStillRunning
	}
	if m.archiver == nil {
		return screenshot.Artifact{}, errors.New("no archiver configured")
	}
	artifact, err := m.archiver.Build(ctx, jobID, items, m.resultsPath(jobID))
	if err != nil {
		return screenshot.Artifact{}, fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	m.logger.Info("job finalized",
		zap.String("job_id", jobID),
		zap.String("artifact", artifact.Path),
		zap.Int64("size", artifact.Size),
	)
	return artifact, nil
}

// Wait blocks until the current driver generation exits or ctx finishes.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	var done chan struct{}
	if m.job != nil {
		done = m.job.done
	}
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for job: %w", ctx.Err())
	}
}

// Close cancels a running driver and waits for its workers to exit.
func (m *Manager) Close(ctx context.Context) error {
	m.cancel()
	return m.Wait(ctx)
}

func (m *Manager) emit(jobID string, stage progress.Stage, url string, dur time.Duration) {
	m.events.Emit(progress.Event{
		JobID: progress.JobKey(jobID),
		TS:    m.now().UTC(),
		Stage: stage,
		URL:   url,
		Dur:   dur,
	})
}
