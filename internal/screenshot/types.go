package screenshot

import "time"

// Status represents the lifecycle state of a single work item.
type Status string

// Work item states. Completed is terminal; Failed is terminal until re-armed
// by an explicit retry.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// WorkItem is one URL's journey through the pipeline.
type WorkItem struct {
	URL        string `json:"url"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
	ResultPath string `json:"screenshotPath,omitempty"`
	RetryCount int    `json:"retryCount"`
}

// Settled reports whether the item carries a terminal outcome.
func (w WorkItem) Settled() bool {
	return w.Status == StatusCompleted || w.Status == StatusFailed
}

// Progress aggregates item counts for a job. Total always equals the sum of
// the four status buckets.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
}

// Outstanding returns the number of items that still need work.
func (p Progress) Outstanding() int {
	return p.Pending + p.Processing
}

// Drained reports whether no item is pending or in flight.
func (p Progress) Drained() bool {
	return p.Outstanding() == 0
}

// Count tallies a slice of items into a Progress.
func Count(items []WorkItem) Progress {
	p := Progress{Total: len(items)}
	for _, item := range items {
		switch item.Status {
		case StatusCompleted:
			p.Completed++
		case StatusFailed:
			p.Failed++
		case StatusPending:
			p.Pending++
		case StatusProcessing:
			p.Processing++
		}
	}
	return p
}

// JobState distinguishes a job that has not started dispatching from one that
// is running or has drained its queue.
type JobState string

// Job states reported by the lifecycle manager.
const (
	JobStateIdle    JobState = "idle"
	JobStateRunning JobState = "running"
	JobStateDrained JobState = "drained"
)

// Snapshot is the consistent view of the current job handed to observers.
type Snapshot struct {
	HasJob       bool       `json:"hasJob"`
	JobID        string     `json:"jobId,omitempty"`
	State        JobState   `json:"state,omitempty"`
	IsProcessing bool       `json:"isProcessing"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	Progress     Progress   `json:"progress"`
	Items        []WorkItem `json:"urls"`
}

// CaptureRequest names the URL to capture and the output slot it should be
// written to.
type CaptureRequest struct {
	JobID    string
	URL      string
	Filename string
}

// CaptureResult describes a successful capture.
type CaptureResult struct {
	// Path is the location recorded on the work item, relative to the archive
	// root (for example "screenshots/example_com_index_1700000000000_ab12cd3.png").
	Path string
	// URI is the backend-specific address of the stored image.
	URI      string
	Bytes    int64
	Duration time.Duration
}

// Artifact is the packaged output of a finalized job.
type Artifact struct {
	JobID    string
	Path     string
	Filename string
	Size     int64
}
