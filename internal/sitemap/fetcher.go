// Package sitemap resolves sitemap documents and URL lists into the absolute
// page URLs a job should capture.
package sitemap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-screenshotter/internal/metrics"
	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxDepth = 3
)

// Config controls sitemap fetching.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxDepth bounds sitemap index nesting; the root document is depth 1.
	MaxDepth int
}

// Fetcher implements screenshot.URLSource using colly. Locations ending in
// ".csv" are treated as URL lists; everything else as a sitemap or sitemap
// index.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		logger:    logger,
	}
}

// URLs fetches location and returns the de-duplicated http(s) URLs it lists,
// in document order.
func (f *Fetcher) URLs(ctx context.Context, location string) ([]string, error) {
	if !isHTTPURL(location) {
		return nil, fmt.Errorf("%w: %q", screenshot.ErrInvalidSource, location)
	}
	var (
		urls []string
		err  error
	)
	if isCSVLocation(location) {
		urls, err = f.fetchCSV(ctx, location)
	} else {
		urls, err = f.fetchSitemap(ctx, location)
	}
	if err != nil {
		return nil, err
	}
	metrics.ObserveSitemapURLs(len(urls))
	f.logger.Info("resolved url source", zap.String("location", location), zap.Int("urls", len(urls)))
	return urls, nil
}

func (f *Fetcher) newCollector(maxDepth int) *colly.Collector {
	c := colly.NewCollector(
		colly.Async(false),
		colly.MaxDepth(maxDepth),
	)
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(f.cfg.Timeout)
	c.WithTransport(f.transport)
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	return c
}

func (f *Fetcher) fetchSitemap(ctx context.Context, location string) ([]string, error) {
	c := f.newCollector(f.cfg.MaxDepth)
	set := newURLSet()
	var (
		mu       sync.Mutex
		fetchErr error
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	// OnResponse runs before the XML callbacks, which colly skips unless the
	// body is labeled as XML. Sitemaps are parsed whatever their content type.
	c.OnResponse(func(r *colly.Response) {
		if r.Headers != nil && !strings.Contains(strings.ToLower(r.Headers.Get("Content-Type")), "xml") {
			r.Headers.Set("Content-Type", "application/xml")
		}
	})
	c.OnXML("//sitemapindex/sitemap/loc", func(e *colly.XMLElement) {
		child := strings.TrimSpace(e.Text)
		if !isHTTPURL(child) {
			return
		}
		f.logger.Debug("following nested sitemap", zap.String("sitemap", child), zap.Int("depth", e.Request.Depth))
		// Revisits and depth overflows are refused by the collector and skipped.
		if err := e.Request.Visit(child); err != nil {
			f.logger.Debug("nested sitemap skipped", zap.String("sitemap", child), zap.Error(err))
		}
	})
	c.OnXML("//urlset/url/loc", func(e *colly.XMLElement) {
		set.add(strings.TrimSpace(e.Text))
	})
	c.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		fetchErr = errors.Join(fetchErr, fmt.Errorf("fetch %s: %w", r.Request.URL, err))
	})

	if err := f.run(ctx, c, location); err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", fetchErr)
	}
	return set.list(), nil
}

func (f *Fetcher) fetchCSV(ctx context.Context, location string) ([]string, error) {
	c := f.newCollector(1)
	var (
		body     []byte
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("fetch %s: %w", r.Request.URL, err)
	})
	if err := f.run(ctx, c, location); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch url list: %w", fetchErr)
	}
	return ParseCSV(bytes.NewReader(body))
}

func (f *Fetcher) run(ctx context.Context, c *colly.Collector, location string) error {
	done := make(chan error, 1)
	go func() {
		done <- c.Visit(location)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sitemap fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func isCSVLocation(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".csv")
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// urlSet keeps first-seen order while dropping duplicates and non-http(s)
// entries.
type urlSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
	urls []string
}

func newURLSet() *urlSet {
	return &urlSet{seen: make(map[string]struct{})}
}

func (s *urlSet) add(raw string) {
	if !isHTTPURL(raw) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[raw]; ok {
		return
	}
	s.seen[raw] = struct{}{}
	s.urls = append(s.urls, raw)
}

func (s *urlSet) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.urls...)
}
