// Package screenshot defines the core types shared across the capture
// pipeline: work items and their lifecycle states, progress aggregates, the
// structural error taxonomy, and the collaborator interfaces the job engine
// drives (capturer, result recorder, archiver, blob store, publisher).
package screenshot
