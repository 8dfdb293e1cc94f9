// Package results records settled work items: a per-job CSV file for the
// download archive and, optionally, a Postgres table.
package results

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
)

// CSVHeader is the first row of every results file.
var CSVHeader = []string{"URL", "Screenshot", "Status"}

// CSVRecorder appends one row per settled item to screenshots-<job>.csv under
// its directory. Rows for a URL that is retried appear once per settle.
type CSVRecorder struct {
	dir string
	mu  sync.Mutex
}

// NewCSVRecorder creates the results directory if needed.
func NewCSVRecorder(dir string) (*CSVRecorder, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("results directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	return &CSVRecorder{dir: dir}, nil
}

// Path returns the results file location for jobID.
func (r *CSVRecorder) Path(jobID string) string {
	return filepath.Join(r.dir, fmt.Sprintf("screenshots-%s.csv", jobID))
}

// Record appends item as a CSV row, writing the header when the file is new.
func (r *CSVRecorder) Record(_ context.Context, jobID string, item screenshot.WorkItem) error {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) {
		return fmt.Errorf("invalid job id %q", jobID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.Path(jobID)
	// #nosec G304 -- path is built from the configured directory and a validated job id.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open results file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat results file: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(CSVHeader); err != nil {
			_ = f.Close()
			return fmt.Errorf("write results header: %w", err)
		}
	}
	if err := w.Write([]string{item.URL, item.ResultPath, string(item.Status)}); err != nil {
		_ = f.Close()
		return fmt.Errorf("write results row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush results: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close results file: %w", err)
	}
	return nil
}
