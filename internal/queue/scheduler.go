package queue

import "github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"

// Scheduler selects the next work item to dispatch under a concurrency cap.
type Scheduler struct {
	store *Store
	limit int
}

// NewScheduler binds a Scheduler to store. Limits below one are raised to one.
func NewScheduler(store *Store, limit int) *Scheduler {
	if limit < 1 {
		limit = 1
	}
	return &Scheduler{store: store, limit: limit}
}

// Limit returns the concurrency cap.
func (s *Scheduler) Limit() int {
	return s.limit
}

// InFlight returns the number of items currently Processing.
func (s *Scheduler) InFlight() int {
	return s.store.inFlight()
}

// DispatchNext transitions the next eligible item to Processing and returns
// it. It returns false when the cap is reached or nothing is Pending; callers
// must back off before asking again.
func (s *Scheduler) DispatchNext() (screenshot.WorkItem, bool) {
	return s.store.dispatch(s.limit)
}
