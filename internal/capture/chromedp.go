// Package capture renders pages in headless Chrome and stores the resulting
// screenshots in a blob store.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-screenshotter/internal/policy/ratelimit"
	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
)

const (
	defaultTimeout = 30 * time.Second
	defaultWidth   = 1920
	defaultHeight  = 1080
	jpegQuality    = 90
)

// Config controls the behavior of the chromedp capturer.
type Config struct {
	// Headless runs Chrome without a window.
	Headless       bool
	MaxParallel    int
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	// Wait is an extra settle delay after the page body is ready.
	Wait     time.Duration
	FullPage bool
	// Format is "png" or "jpg".
	Format  string
	Timeout time.Duration
	// DomainQPS throttles navigations per host; zero disables throttling.
	DomainQPS float64
	// Prefix is the blob path prefix screenshots are written under.
	Prefix string
}

// Chromedp implements screenshot.Capturer using chromedp and headless Chrome.
type Chromedp struct {
	cfg         Config
	blobs       screenshot.BlobStore
	limiter     chan struct{}
	hosts       *ratelimit.Limiter
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a capturer backed by a shared Chrome allocator. The
// browser process starts lazily on the first capture.
func NewChromedp(cfg Config, blobs screenshot.BlobStore, logger *zap.Logger) (*Chromedp, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	format, err := normalizeFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	cfg.Format = format
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = defaultWidth
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = defaultHeight
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-accelerated-2d-canvas", true),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Chromedp{
		cfg:         cfg,
		blobs:       blobs,
		limiter:     limiter,
		hosts:       ratelimit.New(ratelimit.Config{RPS: cfg.DomainQPS, Burst: 1}),
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts down the browser allocator.
func (c *Chromedp) Close() {
	c.allocCancel()
}

// Capture renders req.URL, takes a screenshot, and writes it to the blob
// store under the configured prefix.
func (c *Chromedp) Capture(ctx context.Context, req screenshot.CaptureRequest) (screenshot.CaptureResult, error) {
	if req.Filename == "" {
		return screenshot.CaptureResult{}, errors.New("filename is required")
	}
	if err := c.acquire(ctx); err != nil {
		return screenshot.CaptureResult{}, err
	}
	defer c.release()

	if err := c.waitDomainBudget(ctx, req.URL); err != nil {
		return screenshot.CaptureResult{}, err
	}

	taskCtx, taskCancel := chromedp.NewContext(c.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, c.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	start := time.Now()
	var buf []byte
	actions := []chromedp.Action{
		c.networkSetupAction(),
		chromedp.EmulateViewport(int64(c.cfg.ViewportWidth), int64(c.cfg.ViewportHeight)),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if c.cfg.Wait > 0 {
		actions = append(actions, chromedp.Sleep(c.cfg.Wait))
	}
	actions = append(actions, c.screenshotAction(&buf))
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return screenshot.CaptureResult{}, fmt.Errorf("chromedp run: %w", err)
	}
	if len(buf) == 0 {
		return screenshot.CaptureResult{}, errors.New("empty screenshot")
	}

	uri, err := c.blobs.PutObject(ctx, c.objectPath(req.Filename), contentType(c.cfg.Format), bytes.NewReader(buf))
	if err != nil {
		return screenshot.CaptureResult{}, fmt.Errorf("store screenshot: %w", err)
	}
	c.logger.Debug("screenshot stored",
		zap.String("job_id", req.JobID),
		zap.String("url", req.URL),
		zap.String("uri", uri),
		zap.Int("bytes", len(buf)),
	)
	return screenshot.CaptureResult{
		Path:     path.Join("screenshots", req.Filename),
		URI:      uri,
		Bytes:    int64(len(buf)),
		Duration: time.Since(start),
	}, nil
}

func (c *Chromedp) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if c.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (c *Chromedp) screenshotAction(buf *[]byte) chromedp.Action {
	jpeg := c.cfg.Format == "jpg"
	if c.cfg.FullPage {
		quality := 100
		if jpeg {
			quality = jpegQuality
		}
		return chromedp.FullScreenshot(buf, quality)
	}
	return chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.CaptureScreenshot().WithFromSurface(true).WithFormat(page.CaptureScreenshotFormatPng)
		if jpeg {
			params = params.WithFormat(page.CaptureScreenshotFormatJpeg).WithQuality(jpegQuality)
		}
		data, err := params.Do(ctx)
		if err != nil {
			return fmt.Errorf("capture screenshot: %w", err)
		}
		*buf = data
		return nil
	})
}

func (c *Chromedp) objectPath(filename string) string {
	prefix := strings.Trim(c.cfg.Prefix, "/")
	if prefix == "" {
		return filename
	}
	return prefix + "/" + filename
}

func (c *Chromedp) waitDomainBudget(ctx context.Context, rawURL string) error {
	if err := c.hosts.Wait(ctx, rawURL); err != nil {
		return fmt.Errorf("domain budget: %w", err)
	}
	return nil
}

func (c *Chromedp) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (c *Chromedp) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}

func normalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "png":
		return "png", nil
	case "jpg", "jpeg":
		return "jpg", nil
	default:
		return "", fmt.Errorf("unsupported image format %q", format)
	}
}

func contentType(format string) string {
	if format == "jpg" {
		return "image/jpeg"
	}
	return "image/png"
}
