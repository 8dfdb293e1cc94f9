package queue

import (
	"sync"

	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
)

type bucket int

const (
	primaryBucket bucket = iota
	retryBucket
)

type entry struct {
	item   screenshot.WorkItem
	bucket bucket
}

// Store is the in-memory source of truth for one job's work items.
//
// The primary slice is append-only: an item that fails moves to the retry
// bucket and is skipped in primary from then on. Items in primary never become
// Pending again once dispatched, so primaryNext only moves forward.
type Store struct {
	mu             sync.Mutex
	entries        map[string]*entry
	primary        []string
	retry          []string
	primaryNext    int
	pendingPrimary int
	pendingRetry   int
	processing     int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Seed adds a Pending item for every URL not already tracked in either
// bucket and returns how many were added. Re-seeding a known URL is a no-op.
func (s *Store) Seed(urls []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, url := range urls {
		if url == "" {
			continue
		}
		if _, ok := s.entries[url]; ok {
			continue
		}
		s.entries[url] = &entry{
			item:   screenshot.WorkItem{URL: url, Status: screenshot.StatusPending},
			bucket: primaryBucket,
		}
		s.primary = append(s.primary, url)
		added++
	}
	s.pendingPrimary += added
	return added
}

// Snapshot returns copies of every item: primary bucket first, then the
// retry bucket, each in insertion order.
func (s *Store) Snapshot() []screenshot.WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]screenshot.WorkItem, 0, len(s.entries))
	for _, url := range s.primary {
		if e := s.entries[url]; e.bucket == primaryBucket {
			out = append(out, e.item)
		}
	}
	for _, url := range s.retry {
		out = append(out, s.entries[url].item)
	}
	return out
}

// Progress aggregates the current snapshot.
func (s *Store) Progress() screenshot.Progress {
	return screenshot.Count(s.Snapshot())
}

// Drained reports whether no item is Pending or Processing.
func (s *Store) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingPrimary+s.pendingRetry+s.processing == 0
}

// Get returns a copy of the item for url.
func (s *Store) Get(url string) (screenshot.WorkItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[url]
	if !ok {
		return screenshot.WorkItem{}, false
	}
	return e.item, true
}

// FailedItems returns the Failed items of the retry bucket in insertion order.
func (s *Store) FailedItems() []screenshot.WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []screenshot.WorkItem
	for _, url := range s.retry {
		if e := s.entries[url]; e.item.Status == screenshot.StatusFailed {
			out = append(out, e.item)
		}
	}
	return out
}

// MarkProcessing moves a Pending item to Processing. It reports whether the
// transition was applied; unknown URLs and illegal transitions are ignored.
func (s *Store) MarkProcessing(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[url]
	if !ok || e.item.Status != screenshot.StatusPending {
		return false
	}
	s.startLocked(e)
	return true
}

// MarkCompleted settles a Processing item as Completed with its result path.
func (s *Store) MarkCompleted(url, resultPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[url]
	if !ok || e.item.Status != screenshot.StatusProcessing {
		return false
	}
	s.processing--
	e.item.Status = screenshot.StatusCompleted
	e.item.ResultPath = resultPath
	e.item.Error = ""
	return true
}

// MarkFailed settles a Processing item as Failed and re-homes it into the
// retry bucket if it was not already there.
func (s *Store) MarkFailed(url, errText string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[url]
	if !ok || e.item.Status != screenshot.StatusProcessing {
		return false
	}
	s.processing--
	e.item.Status = screenshot.StatusFailed
	e.item.Error = errText
	if e.bucket == primaryBucket {
		s.retry = append(s.retry, url)
		e.bucket = retryBucket
	}
	return true
}

// MarkRetry re-arms a Failed item: it becomes Pending, its retry count goes
// up by one and its error is cleared.
func (s *Store) MarkRetry(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[url]
	if !ok {
		return false
	}
	return s.rearmLocked(e)
}

// RetryAllFailed re-arms every Failed item in the retry bucket and returns
// the URLs affected, in bucket order.
func (s *Store) RetryAllFailed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var urls []string
	for _, url := range s.retry {
		if s.rearmLocked(s.entries[url]) {
			urls = append(urls, url)
		}
	}
	return urls
}

// dispatch picks the next Pending item, retry bucket first, and marks it
// Processing, unless limit items are already in flight.
func (s *Store) dispatch(limit int) (screenshot.WorkItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing >= limit {
		return screenshot.WorkItem{}, false
	}
	if s.pendingRetry > 0 {
		for _, url := range s.retry {
			if e := s.entries[url]; e.item.Status == screenshot.StatusPending {
				s.startLocked(e)
				return e.item, true
			}
		}
	}
	for s.pendingPrimary > 0 && s.primaryNext < len(s.primary) {
		e := s.entries[s.primary[s.primaryNext]]
		if e.bucket == primaryBucket && e.item.Status == screenshot.StatusPending {
			s.startLocked(e)
			return e.item, true
		}
		s.primaryNext++
	}
	return screenshot.WorkItem{}, false
}

func (s *Store) inFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

func (s *Store) startLocked(e *entry) {
	if e.bucket == primaryBucket {
		s.pendingPrimary--
	} else {
		s.pendingRetry--
	}
	e.item.Status = screenshot.StatusProcessing
	s.processing++
}

// rearmLocked moves a Failed item back to Pending. Failed items always live in
// the retry bucket.
func (s *Store) rearmLocked(e *entry) bool {
	if e.item.Status != screenshot.StatusFailed {
		return false
	}
	e.item.Status = screenshot.StatusPending
	e.item.RetryCount++
	e.item.Error = ""
	s.pendingRetry++
	return true
}
