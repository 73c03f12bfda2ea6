package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Orchestrator defaults.
const (
	DefaultConcurrency        = 10
	DefaultSitemapConcurrency = 5
	DefaultProgressEvery      = 10

	// discoveryProgress is reported once URL discovery finishes.
	discoveryProgress = 5
)

// Config collects the knobs of a single site scrape.
type Config struct {
	Concurrency   int
	ProgressEvery int
	Sitemap       SitemapConfig
	Recursive     RecursiveConfig
}

// SitemapSource lists a site's URLs from its sitemap. An empty list means none was usable.
type SitemapSource interface {
	Resolve(ctx context.Context, baseURL string) []string
}

// Orchestrator scrapes a whole site: sitemap first, recursive crawl as the fallback.
type Orchestrator struct {
	sitemaps    SitemapSource
	batch       *BatchScraper
	recursive   *RecursiveCrawler
	concurrency int
	clock       Clock
	logger      *zap.Logger
}

// PageSource is what the orchestrator needs from a page fetcher.
type PageSource interface {
	TextFetcher
	LinkFetcher
}

// NewOrchestrator wires an Orchestrator. Sitemaps are read through fetcher and pages
// through pages.
func NewOrchestrator(cfg Config, fetcher Fetcher, pages PageSource, clock Clock, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ProgressEvery < 1 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if cfg.Sitemap.Concurrency < 1 {
		cfg.Sitemap.Concurrency = DefaultSitemapConcurrency
	}
	return &Orchestrator{
		sitemaps:    NewSitemapResolver(fetcher, cfg.Sitemap, logger),
		batch:       NewBatchScraper(pages, cfg.ProgressEvery, logger),
		recursive:   NewRecursiveCrawler(pages, cfg.Recursive, logger),
		concurrency: cfg.Concurrency,
		clock:       clock,
		logger:      logger.Named("orchestrator"),
	}
}

// Scrape collects the visible text of every discoverable page of startURL's site.
// Per-page failures are counted in the metadata. Only an invalid start URL or a
// finished context produce an error.
func (o *Orchestrator) Scrape(ctx context.Context, startURL string, progress ProgressFunc) (Result, error) {
	start, err := ParseStartURL(startURL)
	if err != nil {
		return Result{}, err
	}
	startedAt := o.clock.Now()
	meta := Metadata{
		StartURL:   start.String(),
		BaseDomain: start.Hostname(),
		StartTime:  startedAt,
	}

	urls := o.sitemaps.Resolve(ctx, meta.StartURL)
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("sitemap discovery: %w", err)
	}
	progress.report(ctx, discoveryProgress)

	limiter := NewLimiter(o.concurrency)
	var stats BatchStats
	if len(urls) > 0 {
		meta.ScrapingMethod = MethodSitemap
		meta.SitemapURLs = len(urls)
		o.logger.Info("scraping from sitemap",
			zap.String("url", meta.StartURL),
			zap.Int("urls", len(urls)),
		)
		stats = o.batch.ScrapeBatch(ctx, urls, limiter, progress)
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("sitemap scrape: %w", err)
		}
	} else {
		meta.ScrapingMethod = MethodRecursiveCrawl
		o.logger.Info("no sitemap, crawling recursively", zap.String("url", meta.StartURL))
		seed := *start
		if seed.Path == "" {
			seed.Path = "/"
		}
		stats, err = o.recursive.Crawl(ctx, seed.String(), meta.BaseDomain, limiter, progress)
		if err != nil {
			return Result{}, err
		}
	}

	finishedAt := o.clock.Now()
	elapsed := finishedAt.Sub(startedAt)
	meta.EndTime = finishedAt
	meta.Duration = FormatDuration(elapsed)
	meta.DurationMillis = elapsed.Milliseconds()
	meta.SuccessfulScrapes = stats.Successful
	meta.FailedScrapes = stats.Failed
	meta.TotalURLsFound = stats.Successful + stats.Failed

	return Result{Data: stats.Data, Metadata: meta}, nil
}

// FormatDuration renders d as seconds with two decimals, e.g. "3.27s".
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}
