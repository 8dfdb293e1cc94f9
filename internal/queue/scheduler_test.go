package queue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
)

func TestSchedulerRespectsConcurrencyCap(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Seed([]string{"a", "b", "c"})
	sched := NewScheduler(s, 2)

	first, ok := sched.DispatchNext()
	require.True(t, ok)
	second, ok := sched.DispatchNext()
	require.True(t, ok)
	_, ok = sched.DispatchNext()
	require.False(t, ok, "third dispatch must wait for a free slot")

	require.Equal(t, []string{"a", "b"}, []string{first.URL, second.URL})
	require.Equal(t, screenshot.StatusProcessing, first.Status)
	item, _ := s.Get("c")
	require.Equal(t, screenshot.StatusPending, item.Status)
	require.Equal(t, 2, sched.InFlight())

	s.MarkCompleted("a", "screenshots/a.png")
	third, ok := sched.DispatchNext()
	require.True(t, ok)
	require.Equal(t, "c", third.URL)
}

func TestSchedulerPrefersRetryBucket(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Seed([]string{"a", "b", "c", "d"})
	sched := NewScheduler(s, 1)

	item, ok := sched.DispatchNext()
	require.True(t, ok)
	require.Equal(t, "a", item.URL)
	s.MarkFailed("a", "boom")

	item, ok = sched.DispatchNext()
	require.True(t, ok)
	require.Equal(t, "b", item.URL)
	s.MarkFailed("b", "boom")

	s.RetryAllFailed()

	var order []string
	for {
		item, ok := sched.DispatchNext()
		if !ok {
			break
		}
		order = append(order, item.URL)
		s.MarkCompleted(item.URL, "p")
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestSchedulerReturnsFalseWhenNothingPending(t *testing.T) {
	t.Parallel()

	sched := NewScheduler(NewStore(), 3)
	_, ok := sched.DispatchNext()
	require.False(t, ok)
}

func TestSchedulerClampsLimit(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, NewScheduler(NewStore(), 0).Limit())
	require.Equal(t, 1, NewScheduler(NewStore(), -4).Limit())
}

func TestSchedulerNeverExceedsCapUnderContention(t *testing.T) {
	t.Parallel()

	const limit = 3
	s := NewStore()
	urls := make([]string, 200)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/%d", i)
	}
	s.Seed(urls)
	sched := NewScheduler(s, limit)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		maxSeen int
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, ok := sched.DispatchNext()
				if !ok {
					if s.Progress().Pending == 0 {
						return
					}
					continue
				}
				mu.Lock()
				if n := sched.InFlight(); n > maxSeen {
					maxSeen = n
				}
				mu.Unlock()
				s.MarkCompleted(item.URL, "p")
			}
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, maxSeen, limit)
	p := s.Progress()
	require.Equal(t, len(urls), p.Completed)
	require.Equal(t, len(urls), p.Total)
}
