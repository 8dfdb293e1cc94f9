// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces the job engine uses to report capture progress. Events are
// batched on a background goroutine and fanned out to pluggable sinks such as
// Prometheus collectors or structured logs.
package progress
