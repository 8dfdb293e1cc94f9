package screenshot

import "errors"

// Structural errors reported by job lifecycle operations. Per-item capture
// failures never surface as these; they are recorded on the WorkItem.
var (
	ErrAlreadyRunning  = errors.New("a job is already in progress")
	ErrNoActiveJob     = errors.New("no active job")
	ErrNoValidURLs     = errors.New("no valid URLs found")
	ErrJobNotFound     = errors.New("job not found")
	ErrJobStillRunning = errors.New("job is still processing")
)

// ErrInvalidSource reports a sitemap or URL list location that is not an
// absolute http(s) URL.
var ErrInvalidSource = errors.New("invalid sitemap url")

// ErrBlobNotFound is wrapped by every BlobStore when an object is missing.
var ErrBlobNotFound = errors.New("object not found")
