package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-screenshotter/internal/config"
	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
	"github.com/JakeFAU/sitemap-screenshotter/internal/server"
)

type stubCapturer struct {
	blobs screenshot.BlobStore
}

func (c stubCapturer) Capture(ctx context.Context, req screenshot.CaptureRequest) (screenshot.CaptureResult, error) {
	if _, err := c.blobs.PutObject(ctx, "screenshots/"+req.Filename, "image/png", strings.NewReader("img")); err != nil {
		return screenshot.CaptureResult{}, err
	}
	return screenshot.CaptureResult{Path: "screenshots/" + req.Filename}, nil
}

func useStubBuilder(t *testing.T) {
	t.Helper()
	prev := appBuilder
	appBuilder = func(ctx context.Context, cfg config.Config) (*server.App, error) {
		return server.BuildWith(ctx, cfg, zap.NewNop(),
			func(_ config.Config, blobs screenshot.BlobStore, _ *zap.Logger) (screenshot.Capturer, error) {
				return stubCapturer{blobs: blobs}, nil
			})
	}
	t.Cleanup(func() { appBuilder = prev })
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("storage:\n  backend: memory\n  tmp_dir: %s\nlogging:\n  development: false\n", filepath.Join(dir, "tmp"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestCaptureCommand(t *testing.T) {
	useStubBuilder(t)

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<?xml version="1.0"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">` +
			`<url><loc>https://example.com/</loc></url><url><loc>https://example.com/a</loc></url></urlset>`))
	}))
	t.Cleanup(site.Close)

	out := filepath.Join(t.TempDir(), "shots.zip")
	var stdout bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetArgs([]string{"--config", writeConfig(t), "capture", site.URL + "/sitemap.xml", "-o", out, "-c", "2"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	require.Contains(t, stdout.String(), "2 captured, 0 failed")
	require.FileExists(t, out)
}

func TestCaptureCommandRequiresArgument(t *testing.T) {
	useStubBuilder(t)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", writeConfig(t), "capture"})
	require.Error(t, root.ExecuteContext(context.Background()))
}

func TestRootRejectsBadConfig(t *testing.T) {
	useStubBuilder(t)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "capture", "https://example.com/sitemap.xml"})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "load config")
}
