package screenshot

import (
	"context"
	"io"
)

// Capturer takes a screenshot of a URL and stores it under the requested
// filename. Timeouts are the capturer's concern; the engine treats them like
// any other failure.
type Capturer interface {
	Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error)
}

// ResultRecorder durably records a settled work item. It is called once per
// settled item and may be invoked concurrently.
type ResultRecorder interface {
	Record(ctx context.Context, jobID string, item WorkItem) error
}

// Archiver packages a drained job into a single downloadable bundle.
type Archiver interface {
	Build(ctx context.Context, jobID string, items []WorkItem, resultsPath string) (Artifact, error)
}

// BlobStore persists screenshot bytes and reads them back for archiving and
// serving.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Publisher pushes job notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// URLSource resolves a sitemap or URL list into absolute, de-duplicated URLs.
type URLSource interface {
	URLs(ctx context.Context, location string) ([]string, error)
}
