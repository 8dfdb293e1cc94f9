// Package archive packages a drained job into a downloadable zip bundle.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
)

const (
	csvEntry       = "screenshots.csv"
	xlsxEntry      = "screenshots.xlsx"
	screenshotsDir = "screenshots"
)

// Config controls archive output.
type Config struct {
	// Dir is where zip files are written.
	Dir string
	// Prefix is the blob path prefix screenshots were stored under.
	Prefix string
	// IncludeXLSX adds a screenshots.xlsx workbook next to the CSV.
	IncludeXLSX bool
}

// Builder implements screenshot.Archiver on top of a blob store.
type Builder struct {
	blobs  screenshot.BlobStore
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewBuilder constructs a Builder and ensures the output directory exists.
func NewBuilder(blobs screenshot.BlobStore, cfg Config, logger *zap.Logger) (*Builder, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("archive directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{blobs: blobs, cfg: cfg, logger: logger, now: time.Now}, nil
}

// Filename returns the download name for jobID.
func Filename(jobID string) string {
	return fmt.Sprintf("screenshots-%s.zip", jobID)
}

// Path returns where the zip for jobID is written.
func (b *Builder) Path(jobID string) string {
	return filepath.Join(b.cfg.Dir, Filename(jobID))
}

// Build writes screenshots.csv, every completed item's screenshot under
// screenshots/, and optionally screenshots.xlsx into a zip for jobID. When
// resultsPath is missing the CSV is generated from items.
func (b *Builder) Build(ctx context.Context, jobID string, items []screenshot.WorkItem, resultsPath string) (screenshot.Artifact, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) {
		return screenshot.Artifact{}, fmt.Errorf("invalid job id %q", jobID)
	}
	final := b.Path(jobID)
	tmp, err := os.CreateTemp(b.cfg.Dir, ".screenshots-*.zip")
	if err != nil {
		return screenshot.Artifact{}, fmt.Errorf("create archive: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	zw := zip.NewWriter(tmp)
	if err := b.writeEntries(ctx, zw, jobID, items, resultsPath); err != nil {
		_ = zw.Close()
		_ = tmp.Close()
		return screenshot.Artifact{}, err
	}
	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		return screenshot.Artifact{}, fmt.Errorf("finish archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return screenshot.Artifact{}, fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return screenshot.Artifact{}, fmt.Errorf("publish archive: %w", err)
	}
	info, err := os.Stat(final)
	if err != nil {
		return screenshot.Artifact{}, fmt.Errorf("stat archive: %w", err)
	}
	b.logger.Info("archive created", zap.String("job_id", jobID), zap.String("path", final), zap.Int64("size", info.Size()))
	return screenshot.Artifact{
		JobID:    jobID,
		Path:     final,
		Filename: Filename(jobID),
		Size:     info.Size(),
	}, nil
}

func (b *Builder) writeEntries(ctx context.Context, zw *zip.Writer, jobID string, items []screenshot.WorkItem, resultsPath string) error {
	csvData, err := b.resultsCSV(items, resultsPath)
	if err != nil {
		return err
	}
	if err := b.writeEntry(zw, csvEntry, zip.Deflate, bytes.NewReader(csvData)); err != nil {
		return err
	}
	if b.cfg.IncludeXLSX {
		var buf bytes.Buffer
		if err := writeWorkbook(&buf, items); err != nil {
			return err
		}
		if err := b.writeEntry(zw, xlsxEntry, zip.Store, &buf); err != nil {
			return err
		}
	}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("build archive: %w", err)
		}
		if item.Status != screenshot.StatusCompleted || item.ResultPath == "" {
			continue
		}
		name := path.Base(item.ResultPath)
		rc, err := b.blobs.GetObject(ctx, b.blobPath(name))
		if err != nil {
			b.logger.Warn("screenshot missing from store",
				zap.String("job_id", jobID),
				zap.String("url", item.URL),
				zap.Error(err),
			)
			continue
		}
		err = b.writeEntry(zw, path.Join(screenshotsDir, name), zip.Store, rc)
		_ = rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) writeEntry(zw *zip.Writer, name string, method uint16, r io.Reader) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: b.now(),
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (b *Builder) blobPath(name string) string {
	prefix := strings.Trim(b.cfg.Prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (b *Builder) resultsCSV(items []screenshot.WorkItem, resultsPath string) ([]byte, error) {
	if resultsPath != "" {
		// #nosec G304 -- resultsPath comes from the results recorder, not user input.
		data, err := os.ReadFile(resultsPath)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read results file: %w", err)
		}
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"URL", "Screenshot", "Status"}); err != nil {
		return nil, fmt.Errorf("write results header: %w", err)
	}
	for _, item := range items {
		if err := w.Write([]string{item.URL, item.ResultPath, string(item.Status)}); err != nil {
			return nil, fmt.Errorf("write results row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush results: %w", err)
	}
	return buf.Bytes(), nil
}

// Cleanup removes the zip for jobID. A missing file is not an error.
func (b *Builder) Cleanup(jobID string) error {
	if err := os.Remove(b.Path(jobID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove archive: %w", err)
	}
	b.logger.Debug("archive cleaned up", zap.String("job_id", jobID))
	return nil
}
