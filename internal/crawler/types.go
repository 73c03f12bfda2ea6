package crawler

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// JobState represents the lifecycle state of a scrape job.
type JobState string

// Job states persisted in the job store.
const (
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Method names the discovery strategy used for a scrape.
type Method string

// Discovery strategies.
const (
	MethodSitemap        Method = "sitemap"
	MethodRecursiveCrawl Method = "recursive_crawl"
)

// ErrJobNotFound is returned by job stores for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// Job is the persisted record of one submitted scrape.
type Job struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	State        JobState   `json:"state"`
	Progress     int        `json:"progress"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	FailedReason string     `json:"failed_reason,omitempty"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Result       *Result    `json:"result,omitempty"`
}

// Result is the return value of a completed job.
type Result struct {
	Data     map[string]string `json:"data"`
	Metadata Metadata          `json:"metadata"`
}

// Metadata summarizes a scrape. SuccessfulScrapes+FailedScrapes always equals TotalURLsFound.
type Metadata struct {
	TotalURLsFound    int       `json:"totalUrlsFound"`
	SuccessfulScrapes int       `json:"successfulScrapes"`
	FailedScrapes     int       `json:"failedScrapes"`
	ScrapingMethod    Method    `json:"scrapingMethod"`
	StartTime         time.Time `json:"startTime"`
	EndTime           time.Time `json:"endTime"`
	Duration          string    `json:"duration"`
	DurationMillis    int64     `json:"durationMs"`
	StartURL          string    `json:"startUrl"`
	BaseDomain        string    `json:"baseDomain"`
	SitemapURLs       int       `json:"sitemapUrls,omitempty"`
}

// Page is the outcome of fetching one URL with link discovery.
type Page struct {
	URL   string
	Text  string
	Links []string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID   string
	URL     string
	Attempt int
}

// ProgressFunc receives a job's completion percentage. Reports may arrive out of order;
// stores keep the maximum.
type ProgressFunc func(ctx context.Context, percent int)

func (p ProgressFunc) report(ctx context.Context, percent int) {
	if p != nil {
		p(ctx, percent)
	}
}
