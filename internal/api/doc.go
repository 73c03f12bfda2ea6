// Package api hosts the HTTP server, middleware, and REST handlers for the scrape
// job queue. Notable routes:
//   - POST /scrape to submit a site.
//   - GET /scrape/status/{jobId} and /scrape/result/{jobId} to follow a job.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
