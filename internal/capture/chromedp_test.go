package capture

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-screenshotter/internal/policy/ratelimit"
	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
)

type nopBlobs struct{}

func (nopBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "mem://x", nil
}

func (nopBlobs) GetObject(context.Context, string) (io.ReadCloser, error) {
	return nil, io.EOF
}

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1}, nopBlobs{}, nil)
	require.Error(t, err)

	_, err = NewChromedp(Config{}, nil, nil)
	require.Error(t, err)

	_, err = NewChromedp(Config{Format: "gif"}, nopBlobs{}, nil)
	require.Error(t, err)

	c, err := NewChromedp(Config{MaxParallel: 2, Format: "JPEG"}, nopBlobs{}, nil)
	require.NoError(t, err)
	defer c.Close()
	require.Equal(t, 2, cap(c.limiter))
	require.Equal(t, "jpg", c.cfg.Format)
	require.Equal(t, defaultTimeout, c.cfg.Timeout)
	require.Equal(t, defaultWidth, c.cfg.ViewportWidth)
	require.Equal(t, defaultHeight, c.cfg.ViewportHeight)
}

func TestObjectPath(t *testing.T) {
	t.Parallel()

	c := &Chromedp{}
	require.Equal(t, "a.png", c.objectPath("a.png"))
	c.cfg.Prefix = "/screenshots/"
	require.Equal(t, "screenshots/a.png", c.objectPath("a.png"))
}

func TestContentType(t *testing.T) {
	t.Parallel()

	require.Equal(t, "image/png", contentType("png"))
	require.Equal(t, "image/jpeg", contentType("jpg"))
}

func TestCaptureRequiresFilename(t *testing.T) {
	t.Parallel()

	c := &Chromedp{}
	_, err := c.Capture(context.Background(), screenshot.CaptureRequest{URL: "https://example.com/"})
	require.Error(t, err)
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	c := &Chromedp{limiter: make(chan struct{}, 1)}
	require.NoError(t, c.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.acquire(ctx), context.DeadlineExceeded)

	c.release()
	require.NoError(t, c.acquire(context.Background()))
}

func TestWaitDomainBudgetThrottlesPerHost(t *testing.T) {
	t.Parallel()

	c := &Chromedp{hosts: ratelimit.New(ratelimit.Config{RPS: 20, Burst: 1})}
	ctx := context.Background()
	start := time.Now()
	require.NoError(t, c.waitDomainBudget(ctx, "https://a.example/1"))
	require.NoError(t, c.waitDomainBudget(ctx, "https://b.example/1"))

	require.NoError(t, c.waitDomainBudget(ctx, "https://a.example/2"))
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaitDomainBudgetDisabled(t *testing.T) {
	t.Parallel()

	c := &Chromedp{}
	require.NoError(t, c.waitDomainBudget(context.Background(), "://bad"))
}
