package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if capturesTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveCapture("https://init-test.example/", "completed")
	if val := testutil.ToFloat64(capturesTotal.WithLabelValues("init-test.example", "completed")); val != 1 {
		t.Errorf("Expected capturesTotal to be 1, got %f", val)
	}
}

func TestCaptureMetricsCountAttemptsOnly(t *testing.T) {
	Init()
	ObserveCapture("https://bytes-test.example/", "completed")

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if strings.Contains(mf.GetName(), "capture") && strings.Contains(mf.GetName(), "bytes") {
			t.Errorf("unexpected capture bytes metric %q; stored bytes belong to the progress sink", mf.GetName())
		}
	}
}

func TestGaugesAndCounters(t *testing.T) {
	Init()
	before := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(activeWorkers); val != before+1 {
		t.Errorf("Expected activeWorkers to be %f, got %f", before+1, val)
	}

	urlsBefore := testutil.ToFloat64(sitemapURLsTotal)
	ObserveSitemapURLs(3)
	ObserveSitemapURLs(0)
	if val := testutil.ToFloat64(sitemapURLsTotal); val != urlsBefore+3 {
		t.Errorf("Expected sitemapURLsTotal to be %f, got %f", urlsBefore+3, val)
	}

	ObserveRateLimitDelay("gauge-test.example", 200*time.Millisecond)
	if val := testutil.CollectAndCount(rateLimitDelaysSeconds); val <= 0 {
		t.Errorf("Expected rateLimitDelaysSeconds to be observed, got %d", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
