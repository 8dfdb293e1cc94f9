// Package api hosts the HTTP server, middleware, and REST handlers for the
// screenshot service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/generate and /api/retry to start and re-arm jobs.
//   - GET /api/progress for the current job snapshot.
//   - GET /api/screenshots/{filename} and /api/download/{job_id} for output.
package api
