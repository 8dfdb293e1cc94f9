// Package server builds the application's dependencies from configuration and
// runs them, either as an HTTP service or as a one-shot capture.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-screenshotter/internal/api"
	"github.com/JakeFAU/sitemap-screenshotter/internal/archive"
	"github.com/JakeFAU/sitemap-screenshotter/internal/capture"
	"github.com/JakeFAU/sitemap-screenshotter/internal/config"
	"github.com/JakeFAU/sitemap-screenshotter/internal/jobs"
	"github.com/JakeFAU/sitemap-screenshotter/internal/logging"
	"github.com/JakeFAU/sitemap-screenshotter/internal/progress"
	progresssinks "github.com/JakeFAU/sitemap-screenshotter/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/sitemap-screenshotter/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sitemap-screenshotter/internal/publisher/pubsub"
	"github.com/JakeFAU/sitemap-screenshotter/internal/results"
	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
	"github.com/JakeFAU/sitemap-screenshotter/internal/sitemap"
	gcsstorage "github.com/JakeFAU/sitemap-screenshotter/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitemap-screenshotter/internal/storage/local"
	memorystorage "github.com/JakeFAU/sitemap-screenshotter/internal/storage/memory"
	miniostorage "github.com/JakeFAU/sitemap-screenshotter/internal/storage/minio"
)

// localDrainedTopic receives drained notices when Pub/Sub is not configured.
const localDrainedTopic = "screenshotter.jobs.drained"

// CapturerFactory builds the screenshot capturer on top of the blob store.
type CapturerFactory func(cfg config.Config, blobs screenshot.BlobStore, logger *zap.Logger) (screenshot.Capturer, error)

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	apiServer   *api.Server
	manager     *jobs.Manager
	source      screenshot.URLSource
	blobs       screenshot.BlobStore
	archiver    *archive.Builder
	capturer    screenshot.Capturer
	progressHub *progress.Hub
	publisher   screenshot.Publisher
	gcsClient   *storage.Client
	pgRecorder  *results.PostgresRecorder
}

// Build creates the application's dependencies with a chromedp capturer.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWith(ctx, cfg, logger, NewChromedpCapturer)
}

// BuildWith creates the application's dependencies using newCapturer.
func BuildWith(ctx context.Context, cfg config.Config, logger *zap.Logger, newCapturer CapturerFactory) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("results_db", cfg.Results.DB.DSN != ""),
		zap.Bool("pubsub", cfg.PubSub.TopicName != ""),
	)

	var err error
	if app.blobs, err = app.setupStorage(ctx); err != nil {
		return nil, app.abort(err)
	}
	recorder, resultsPath, err := app.setupResults(ctx)
	if err != nil {
		return nil, app.abort(err)
	}
	topic, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, app.abort(err)
	}
	events := app.setupProgress()

	app.archiver, err = archive.NewBuilder(app.blobs, archive.Config{
		Dir:         cfg.ArchiveDir(),
		Prefix:      cfg.Storage.ScreenshotsPrefix,
		IncludeXLSX: cfg.Archive.IncludeXLSX,
	}, logger.Named("archive"))
	if err != nil {
		return nil, app.abort(fmt.Errorf("archive builder init failed: %w", err))
	}

	app.capturer, err = newCapturer(cfg, app.blobs, logger.Named("capture"))
	if err != nil {
		return nil, app.abort(fmt.Errorf("capturer init failed: %w", err))
	}

	app.source = sitemap.New(sitemap.Config{
		UserAgent: cfg.Sitemap.UserAgent,
		Timeout:   cfg.SitemapTimeout(),
		MaxDepth:  cfg.Sitemap.MaxDepth,
	}, logger.Named("sitemap"))

	app.manager = jobs.NewManager(
		app.capturer,
		recorder,
		app.archiver,
		app.publisher,
		events,
		resultsPath,
		jobs.Config{
			DefaultConcurrency: cfg.Jobs.DefaultConcurrency,
			MaxConcurrency:     cfg.Jobs.MaxConcurrency,
			PollInterval:       cfg.PollInterval(),
			ImageExt:           cfg.ImageExt(),
			Topic:              topic,
		},
		logger.Named("jobs"),
	)

	app.apiServer = api.NewServer(app.manager, app.source, app.blobs, app.archiver, cfg, logger.Named("api"))
	logger.Info("application dependencies ready")
	return app, nil
}

// NewChromedpCapturer is the production CapturerFactory.
func NewChromedpCapturer(cfg config.Config, blobs screenshot.BlobStore, logger *zap.Logger) (screenshot.Capturer, error) {
	c, err := capture.NewChromedp(capture.Config{
		Headless:       cfg.Screenshot.Headless,
		MaxParallel:    cfg.Screenshot.MaxParallel,
		UserAgent:      cfg.Screenshot.UserAgent,
		ViewportWidth:  cfg.Screenshot.ViewportWidth,
		ViewportHeight: cfg.Screenshot.ViewportHeight,
		Wait:           cfg.CaptureWait(),
		FullPage:       cfg.Screenshot.FullPage,
		Format:         cfg.ImageExt(),
		Timeout:        cfg.CaptureTimeout(),
		DomainQPS:      cfg.Screenshot.DomainQPS,
		Prefix:         cfg.Storage.ScreenshotsPrefix,
	}, blobs, logger)
	if err != nil {
		return nil, fmt.Errorf("chromedp capturer: %w", err)
	}
	return c, nil
}

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and blocks until ctx is canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	default:
		return closeErr
	}
}

// CaptureSitemap runs one job to completion for location and copies the
// resulting archive to dest. It returns the final progress.
func (a *App) CaptureSitemap(ctx context.Context, location string, limit int, dest string) (screenshot.Progress, error) {
	urls, err := a.source.URLs(ctx, location)
	if err != nil {
		return screenshot.Progress{}, fmt.Errorf("resolve urls: %w", err)
	}
	jobID, err := a.manager.Start(ctx, urls, limit)
	if err != nil {
		return screenshot.Progress{}, fmt.Errorf("start job: %w", err)
	}
	if err := a.manager.Wait(ctx); err != nil {
		return screenshot.Progress{}, err
	}
	snap := a.manager.CurrentProgress()
	if !snap.Progress.Drained() {
		return snap.Progress, fmt.Errorf("job %s stopped with %d items outstanding", jobID, snap.Progress.Outstanding())
	}

	artifact, err := a.manager.Finalize(ctx, jobID)
	if err != nil {
		return snap.Progress, err
	}
	if err := copyFile(artifact.Path, dest); err != nil {
		return snap.Progress, err
	}
	if err := a.archiver.Cleanup(jobID); err != nil {
		a.logger.Warn("archive cleanup failed", zap.String("job_id", jobID), zap.Error(err))
	}
	a.logger.Info("capture complete",
		zap.String("job_id", jobID),
		zap.String("archive", dest),
		zap.Int("completed", snap.Progress.Completed),
		zap.Int("failed", snap.Progress.Failed),
	)
	return snap.Progress, nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.manager != nil {
		if err := a.manager.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	if err := logging.Sync(a.logger); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if c, ok := a.capturer.(interface{ Close() }); ok {
		c.Close()
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if c, ok := a.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgRecorder != nil {
		a.pgRecorder.Close()
	}
}

// abort releases anything built before a failed setup step.
func (a *App) abort(err error) error {
	a.closeInfrastructure(context.Background())
	return err
}

func (a *App) setupStorage(ctx context.Context) (screenshot.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.BackendMinio:
		m := a.cfg.Storage.Minio
		a.logger.Info("using MinIO storage backend", zap.String("endpoint", m.Endpoint), zap.String("bucket", m.Bucket))
		blobs, err := miniostorage.New(miniostorage.Config{
			Endpoint:  m.Endpoint,
			Bucket:    m.Bucket,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			UseSSL:    m.UseSSL,
			Region:    m.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("minio blob store init failed: %w", err)
		}
		return blobs, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.BlobDir()))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.BlobDir()})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	}
}

func (a *App) setupResults(ctx context.Context) (screenshot.ResultRecorder, jobs.ResultsLocator, error) {
	csvRecorder, err := results.NewCSVRecorder(a.cfg.ResultsDir())
	if err != nil {
		return nil, nil, fmt.Errorf("csv recorder init failed: %w", err)
	}
	db := a.cfg.Results.DB
	if db.DSN == "" {
		a.logger.Info("no results DSN configured; recording to CSV only")
		return csvRecorder, csvRecorder.Path, nil
	}
	// #nosec G115 -- max_conns is a small configured pool size.
	pg, err := results.NewPostgresRecorder(ctx, results.PostgresConfig{
		DSN:             db.DSN,
		Table:           db.Table,
		MaxConns:        int32(db.MaxConns),
		MaxConnLifetime: time.Duration(db.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres recorder init failed: %w", err)
	}
	a.pgRecorder = pg
	a.logger.Info("recording results to postgres", zap.String("table", db.Table))
	return results.Multi{csvRecorder, pg}, csvRecorder.Path, nil
}

func (a *App) setupPublisher(ctx context.Context) (string, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New(0, a.logger.Named("notices"))
		return localDrainedTopic, nil
	}
	pub, err := gcppublisher.NewFromProject(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return "", fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.cfg.PubSub.TopicName, nil
}

func (a *App) setupProgress() progress.Emitter {
	sinkList := []progress.Sink{progresssinks.NewLogSink(a.logger.Named("progress_log"))}
	promSink, err := progresssinks.NewPrometheusSink(nil)
	if err != nil {
		a.logger.Warn("prometheus progress sink unavailable", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}
	a.progressHub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress_hub")}, sinkList...)
	a.logger.Debug("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return a.progressHub
}

func copyFile(src, dest string) error {
	if dest == "" {
		return errors.New("destination path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	// #nosec G304 -- src is produced by the archiver.
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = in.Close() }()
	// #nosec G304 -- dest is an operator-supplied CLI flag.
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	return nil
}
