package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
)

const maxFormBytes = 1 << 20

type generateRequest struct {
	SitemapURL  string  `json:"sitemapUrl"`
	Concurrency flexInt `json:"concurrency"`
}

type generateResponse struct {
	JobID     string `json:"jobId"`
	TotalURLs int    `json:"totalUrls"`
	Message   string `json:"message"`
}

type retryRequest struct {
	URL      string `json:"url"`
	RetryAll bool   `json:"retryAll"`
}

// flexInt accepts a JSON number or a numeric string; form posts send strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("concurrency must be an integer: %w", err)
	}
	*f = flexInt(n)
	return nil
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	if s.jobs.CurrentProgress().IsProcessing {
		writeError(w, http.StatusBadRequest, screenshot.ErrAlreadyRunning.Error())
		return
	}

	var req generateRequest
	if err := decodeRequest(r, &req, func(get func(string) string) error {
		req.SitemapURL = get("sitemapUrl")
		return req.Concurrency.UnmarshalJSON([]byte(get("concurrency")))
	}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.SitemapURL = strings.TrimSpace(req.SitemapURL)
	if req.SitemapURL == "" {
		writeError(w, http.StatusBadRequest, "Sitemap URL is required")
		return
	}

	urls, err := s.source.URLs(r.Context(), req.SitemapURL)
	if err != nil {
		s.logger.Error("resolve sitemap failed", zap.String("sitemap", req.SitemapURL), zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}

	jobID, err := s.jobs.Start(r.Context(), urls, int(req.Concurrency))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.logger.Info("job started",
		zap.String("job_id", jobID),
		zap.String("sitemap", req.SitemapURL),
		zap.Int("urls", len(urls)),
	)
	writeJSON(w, http.StatusOK, generateResponse{
		JobID:     jobID,
		TotalURLs: len(urls),
		Message:   "Job started",
	})
}

func (s *Server) retry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := decodeRequest(r, &req, func(get func(string) string) error {
		req.URL = get("url")
		if raw := get("retryAll"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("retryAll must be a boolean: %w", err)
			}
			req.RetryAll = v
		}
		return nil
	}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch {
	case req.RetryAll:
		n, err := s.jobs.RetryAll(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Retrying all failed URLs", "count": n})
	case strings.TrimSpace(req.URL) != "":
		if err := s.jobs.Retry(r.Context(), strings.TrimSpace(req.URL)); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Retrying URL"})
	default:
		if !s.jobs.CurrentProgress().HasJob {
			writeError(w, http.StatusBadRequest, screenshot.ErrNoActiveJob.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "No URL or retryAll specified")
	}
}

func (s *Server) progress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.CurrentProgress())
}

func (s *Server) getScreenshot(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" || filename != path.Base(filename) || strings.HasPrefix(filename, ".") {
		writeError(w, http.StatusNotFound, "Screenshot not found")
		return
	}
	rc, err := s.blobs.GetObject(r.Context(), s.screenshotPath(filename))
	if err != nil {
		if errors.Is(err, screenshot.ErrBlobNotFound) {
			writeError(w, http.StatusNotFound, "Screenshot not found")
			return
		}
		s.logger.Error("read screenshot failed", zap.String("filename", filename), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer closeQuietly(rc, s.logger)

	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("stream screenshot failed", zap.String("filename", filename), zap.Error(err))
	}
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	artifact, err := s.jobs.Finalize(r.Context(), jobID)
	if err != nil {
		if status := statusFor(err); status == http.StatusInternalServerError {
			s.logger.Error("finalize job failed", zap.String("job_id", jobID), zap.Error(err))
		}
		writeError(w, statusFor(err), err.Error())
		return
	}

	// #nosec G304 -- artifact.Path is produced by the archiver.
	f, err := os.Open(artifact.Path)
	if err != nil {
		s.logger.Error("open archive failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	info, err := f.Stat()
	if err != nil {
		closeQuietly(f, s.logger)
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	http.ServeContent(w, r, artifact.Filename, info.ModTime(), f)
	closeQuietly(f, s.logger)

	if r.Context().Err() != nil {
		s.logger.Warn("archive download interrupted", zap.String("job_id", jobID))
		return
	}
	if s.cleaner != nil {
		if err := s.cleaner.Cleanup(jobID); err != nil {
			s.logger.Warn("archive cleanup failed", zap.String("job_id", jobID), zap.Error(err))
			return
		}
	}
	s.logger.Info("archive downloaded", zap.String("job_id", jobID), zap.Int64("size", info.Size()))
}

func (s *Server) screenshotPath(filename string) string {
	prefix := strings.Trim(s.cfg.Storage.ScreenshotsPrefix, "/")
	if prefix == "" {
		return filename
	}
	return prefix + "/" + filename
}

// decodeRequest reads JSON bodies into dst and falls back to form values
// (urlencoded or multipart) through fromForm.
func decodeRequest(r *http.Request, dst any, fromForm func(get func(string) string) error) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxFormBytes)).Decode(dst); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("invalid JSON: %w", err)
		}
		return nil
	}
	if ct == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxFormBytes); err != nil {
			return fmt.Errorf("invalid form: %w", err)
		}
	} else if err := r.ParseForm(); err != nil {
		return fmt.Errorf("invalid form: %w", err)
	}
	return fromForm(r.FormValue)
}

func closeQuietly(c io.Closer, logger *zap.Logger) {
	if err := c.Close(); err != nil {
		logger.Debug("close failed", zap.Error(err))
	}
}
