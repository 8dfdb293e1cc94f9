package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/sitemap-screenshotter/internal/jobs"
	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
)

func drained(jobID string, completed, failed int) jobs.DrainedNotice {
	return jobs.DrainedNotice{
		JobID: jobID,
		Progress: screenshot.Progress{
			Total:     completed + failed,
			Completed: completed,
			Failed:    failed,
		},
		Drained: time.Unix(1700000000, 0).UTC(),
	}
}

func TestPublishLogsDrainedNotice(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	pub := New(4, zap.New(core))

	id, err := pub.Publish(context.Background(), "jobs.drained", drained("job-1", 2, 1))
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	entries := logs.FilterMessage("job notice published").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "job-1", fields["job_id"])
	require.EqualValues(t, 2, fields["completed"])
	require.EqualValues(t, 1, fields["failed"])
	require.Equal(t, "jobs.drained", fields["topic"])

	recent := pub.Recent()
	require.Len(t, recent, 1)
	require.Equal(t, drained("job-1", 2, 1), recent[0].Payload)
}

func TestPublishKeepsOnlyMostRecent(t *testing.T) {
	t.Parallel()

	pub := New(2, nil)
	for _, jobID := range []string{"job-1", "job-2", "job-3"} {
		_, err := pub.Publish(context.Background(), "jobs.drained", drained(jobID, 1, 0))
		require.NoError(t, err)
	}

	recent := pub.Recent()
	require.Len(t, recent, 2)
	require.Equal(t, "job-2", recent[0].Payload.(jobs.DrainedNotice).JobID)
	require.Equal(t, "job-3", recent[1].Payload.(jobs.DrainedNotice).JobID)
	require.Equal(t, "memory-3", recent[1].ID)

	recent[0].Topic = "modified"
	require.Equal(t, "jobs.drained", pub.Recent()[0].Topic)
}

func TestPublishRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := New(0, nil).Publish(context.Background(), "", drained("job-1", 0, 0))
	require.Error(t, err)
}
