// Package queue holds the per-job work item store and the scheduler that
// dispatches items under a concurrency cap.
//
// Items live in two ordered buckets. Freshly seeded URLs go to the primary
// bucket; an item that fails is re-homed to the retry bucket, and the
// scheduler always drains Pending items from the retry bucket first so that
// operator-triggered retries are not starved by first-pass work. Every
// operation serializes on a single mutex, so observers never see an item
// mid-transition.
package queue
