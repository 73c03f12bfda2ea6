// Package cmd defines the sitescraper CLI.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts scrape submissions, validates the start URL and records a waiting job
//     in the JobStore before it is enqueued. Status and result lookups read the same store.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by queue.depth and are fanned out to a
//     fixed worker pool sized by queue.workers. Failed attempts are retried with exponential backoff up to
//     queue.attempts.
//   - Scrape pipeline: each job reads /sitemap.xml (one level of sub-sitemaps) and scrapes the listed pages in
//     batches. When no sitemap is usable it falls back to a breadth-first crawl of same-site links capped at
//     scraper.max_pages. Pages are fetched with Colly, or headless Chrome when enabled, and reduced to text or
//     markdown.
//   - Persistence & fanout: the job store is in memory or Redis. Completed results are optionally archived to a
//     blob store (memory/local/GCS), summarized in Postgres, and announced on Pub/Sub.
//   - Configuration & plumbing: Viper populates config from a file and SCRAPER_* env vars (a .env file is honored);
//     zap provides structured logging; Prometheus metrics are exported on /metrics.
//
// Operational notes:
//   - Shutdown: SIGINT/SIGTERM cancel the root context. The server drains, workers stop, and jobs that never ran
//     stay waiting; with the Redis store they are requeued on the next start.
//   - Politeness: politeness.rps applies a per-host token bucket to page fetches. robots.txt is only honored when
//     scraper.respect_robots is set.
//   - Cloud Run: the server listens on PORT when SCRAPER_SERVER_PORT is unset.
package cmd
