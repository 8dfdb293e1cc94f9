package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart       Stage = "JOB_START"
	StageJobDrained     Stage = "JOB_DRAINED"
	StageItemDispatched Stage = "ITEM_DISPATCHED"
	StageItemCompleted  Stage = "ITEM_COMPLETED"
	StageItemFailed     Stage = "ITEM_FAILED"
	StageItemRetry      Stage = "ITEM_RETRY"
)

// Event captures a single capture-pipeline milestone.
type Event struct {
	// JobID is the 16-byte form of the job UUID.
	JobID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Site is the host label for item events.
	Site string
	URL  string
	// Bytes is the stored image size for completed items.
	Bytes int64
	// Dur is the capture latency for item events, or job wall time for
	// JOB_DRAINED.
	Dur time.Duration
	// Note carries low-volume context such as the failure reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == [16]byte{} {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDrained:
	case StageItemDispatched, StageItemCompleted, StageItemFailed, StageItemRetry:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// JobUUID converts the binary job ID back to a uuid.UUID.
func (e Event) JobUUID() uuid.UUID {
	return uuid.UUID(e.JobID)
}

// JobKey parses a string job ID into the Event form. Unparseable IDs map to
// the zero key, which Validate rejects.
func JobKey(jobID string) [16]byte {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return [16]byte{}
	}
	return [16]byte(id)
}
