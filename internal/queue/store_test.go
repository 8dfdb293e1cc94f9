package queue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
)

func urlsOf(items []screenshot.WorkItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.URL)
	}
	return out
}

func TestStoreSeedIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.Equal(t, 3, s.Seed([]string{"a", "b", "c"}))
	require.Equal(t, 1, s.Seed([]string{"b", "c", "d", ""}))

	items := s.Snapshot()
	require.Equal(t, []string{"a", "b", "c", "d"}, urlsOf(items))
	for _, item := range items {
		require.Equal(t, screenshot.StatusPending, item.Status)
		require.Zero(t, item.RetryCount)
	}
}

func TestStoreSeedSkipsURLsInRetryBucket(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Seed([]string{"a", "b"})
	require.True(t, s.MarkProcessing("a"))
	require.True(t, s.MarkFailed("a", "boom"))

	require.Zero(t, s.Seed([]string{"a"}))
	require.Equal(t, []string{"b", "a"}, urlsOf(s.Snapshot()))
}

func TestStoreProgressTotalsAlwaysAddUp(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Seed([]string{"a", "b", "c", "d"})
	s.MarkProcessing("a")
	s.MarkProcessing("b")
	s.MarkCompleted("a", "screenshots/a.png")
	s.MarkProcessing("c")
	s.MarkFailed("c", "timeout")

	p := s.Progress()
	require.Equal(t, screenshot.Progress{Total: 4, Completed: 1, Failed: 1, Pending: 1, Processing: 1}, p)
	require.Equal(t, p.Total, p.Completed+p.Failed+p.Pending+p.Processing)
}

func TestStoreFailureMovesItemToRetryBucket(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Seed([]string{"a", "b", "c"})
	s.MarkProcessing("b")
	require.True(t, s.MarkFailed("b", "navigation timeout"))

	require.Equal(t, []string{"a", "c", "b"}, urlsOf(s.Snapshot()))
	failed := s.FailedItems()
	require.Len(t, failed, 1)
	require.Equal(t, "b", failed[0].URL)
	require.Equal(t, "navigation timeout", failed[0].Error)
}

func TestStoreCompletionClearsErrorAndRecordsPath(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Seed([]string{"a"})
	s.MarkProcessing("a")
	s.MarkFailed("a", "boom")
	require.True(t, s.MarkRetry("a"))
	s.MarkProcessing("a")
	require.True(t, s.MarkCompleted("a", "screenshots/a.png"))

	item, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, screenshot.StatusCompleted, item.Status)
	require.Equal(t, "screenshots/a.png", item.ResultPath)
	require.Empty(t, item.Error)
	require.Equal(t, 1, item.RetryCount)
	require.Empty(t, s.FailedItems())
}

func TestStoreRetryIncrementsCountAndClearsError(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Seed([]string{"a"})
	for attempt := 1; attempt <= 3; attempt++ {
		require.True(t, s.MarkProcessing("a"))
		require.True(t, s.MarkFailed("a", "boom"))
		require.True(t, s.MarkRetry("a"))

		item, _ := s.Get("a")
		require.Equal(t, screenshot.StatusPending, item.Status)
		require.Equal(t, attempt, item.RetryCount)
		require.Empty(t, item.Error)
	}
}

func TestStoreIllegalTransitionsAreIgnored(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Seed([]string{"a"})

	require.False(t, s.MarkCompleted("a", "x"), "pending cannot complete")
	require.False(t, s.MarkFailed("a", "x"), "pending cannot fail")
	require.False(t, s.MarkRetry("a"), "pending cannot be retried")

	s.MarkProcessing("a")
	require.False(t, s.MarkProcessing("a"), "processing cannot be dispatched twice")
	require.False(t, s.MarkRetry("a"), "processing cannot be retried")

	s.MarkCompleted("a", "x")
	require.False(t, s.MarkRetry("a"), "completed is terminal")
	require.False(t, s.MarkFailed("a", "late"), "completed is terminal")

	item, _ := s.Get("a")
	require.Equal(t, screenshot.StatusCompleted, item.Status)
	require.Zero(t, item.RetryCount)
}

func TestStoreUnknownURLIsNoOp(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.False(t, s.MarkProcessing("ghost"))
	require.False(t, s.MarkCompleted("ghost", "x"))
	require.False(t, s.MarkFailed("ghost", "x"))
	require.False(t, s.MarkRetry("ghost"))
	require.Empty(t, s.Snapshot())
}

func TestStoreRetryAllFailed(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Seed([]string{"a", "b", "c"})
	for _, url := range []string{"c", "a"} {
		s.MarkProcessing(url)
		s.MarkFailed(url, "boom")
	}
	s.MarkProcessing("b")

	require.Equal(t, []string{"c", "a"}, s.RetryAllFailed())
	require.Empty(t, s.FailedItems())
	require.Empty(t, s.RetryAllFailed())

	p := s.Progress()
	require.Equal(t, 2, p.Pending)
	require.Equal(t, 1, p.Processing)
}

func TestStoreSnapshotReturnsCopies(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Seed([]string{"a"})
	items := s.Snapshot()
	items[0].Status = screenshot.StatusCompleted

	item, _ := s.Get("a")
	require.Equal(t, screenshot.StatusPending, item.Status)
}

func TestStoreDrainedTracksCounts(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.True(t, s.Drained())
	s.Seed([]string{"a", "b", "c"})
	sched := NewScheduler(s, 2)

	check := func() {
		t.Helper()
		require.Equal(t, s.Progress().Drained(), s.Drained())
	}
	check()

	a, ok := sched.DispatchNext()
	require.True(t, ok)
	b, ok := sched.DispatchNext()
	require.True(t, ok)
	require.True(t, s.MarkFailed(a.URL, "boom"))
	require.True(t, s.MarkCompleted(b.URL, "p"))
	check()

	c, ok := sched.DispatchNext()
	require.True(t, ok)
	require.Equal(t, "c", c.URL)
	require.True(t, s.MarkCompleted(c.URL, "p"))
	check()
	require.True(t, s.Drained())

	require.True(t, s.MarkRetry(a.URL))
	require.False(t, s.Drained())
	check()
}

func TestStoreDispatchAfterFailureAndRetry(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Seed([]string{"a", "b", "c", "d"})
	sched := NewScheduler(s, 1)

	a, ok := sched.DispatchNext()
	require.True(t, ok)
	require.True(t, s.MarkFailed(a.URL, "boom"))
	require.Equal(t, []string{"b", "c", "d", "a"}, urlsOf(s.Snapshot()))

	require.True(t, s.MarkRetry("a"))
	next, ok := sched.DispatchNext()
	require.True(t, ok)
	require.Equal(t, "a", next.URL)
	require.True(t, s.MarkCompleted("a", "p"))

	// An item marked Processing out of band is skipped by dispatch.
	require.True(t, s.MarkProcessing("c"))
	require.True(t, s.MarkCompleted("c", "p"))

	var order []string
	for {
		item, ok := sched.DispatchNext()
		if !ok {
			break
		}
		order = append(order, item.URL)
		require.True(t, s.MarkCompleted(item.URL, "p"))
	}
	require.Equal(t, []string{"b", "d"}, order)
	require.True(t, s.Drained())
	require.Len(t, s.Snapshot(), 4)
}
