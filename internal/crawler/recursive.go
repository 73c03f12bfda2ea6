package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Recursive crawl defaults.
const (
	DefaultMaxPages  = 1000
	DefaultBatchSize = 10
)

// LinkFetcher returns a page's text together with its same-site links.
type LinkFetcher interface {
	FetchWithLinks(ctx context.Context, url, baseDomain string) (Page, error)
}

// RecursiveConfig bounds a recursive crawl.
type RecursiveConfig struct {
	// MaxPages caps how many URLs are fetched per crawl.
	MaxPages int
	// BatchSize is how many URLs leave the frontier per round.
	BatchSize int
}

// RecursiveCrawler discovers pages by following links breadth-first from a start URL.
type RecursiveCrawler struct {
	pages  LinkFetcher
	cfg    RecursiveConfig
	logger *zap.Logger
}

type pageOutcome struct {
	url  string
	page Page
	err  error
}

// NewRecursiveCrawler wires a RecursiveCrawler. Zero config values take the defaults.
func NewRecursiveCrawler(pages LinkFetcher, cfg RecursiveConfig, logger *zap.Logger) *RecursiveCrawler {
	if cfg.MaxPages < 1 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecursiveCrawler{pages: pages, cfg: cfg, logger: logger.Named("recursive")}
}

// Crawl fetches startURL and every reachable same-site page until the frontier drains
// or MaxPages URLs have been fetched. No URL is fetched twice. Frontier state lives on
// the calling goroutine; fetch units only report back over a channel.
func (c *RecursiveCrawler) Crawl(
	ctx context.Context,
	startURL, baseDomain string,
	limiter *Limiter,
	progress ProgressFunc,
) (BatchStats, error) {
	stats := BatchStats{Data: make(map[string]string)}
	front := newFrontier(startURL)
	processed := 0

	for !front.empty() && processed < c.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("recursive crawl: %w", err)
		}

		batch := front.pop(min(c.cfg.BatchSize, c.cfg.MaxPages-processed))
		results := make(chan pageOutcome, len(batch))
		dispatched := 0
		for _, target := range batch {
			if !front.visit(target) {
				continue
			}
			processed++
			dispatched++
			go c.fetch(ctx, target, baseDomain, limiter, results)
		}

		for range dispatched {
			out := <-results
			if out.err != nil {
				stats.Failed++
				c.logger.Debug("page failed", zap.String("url", out.url), zap.Error(out.err))
				continue
			}
			stats.Data[out.url] = out.page.Text
			stats.Successful++
			for _, link := range out.page.Links {
				front.push(link)
			}
			progress.report(ctx, min(95, processed*90/c.cfg.MaxPages+5))
		}
		c.logger.Debug("crawl round finished",
			zap.Int("processed", processed),
			zap.Int("frontier", front.size()),
		)
	}

	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("recursive crawl: %w", err)
	}
	return stats, nil
}

func (c *RecursiveCrawler) fetch(
	ctx context.Context,
	target, baseDomain string,
	limiter *Limiter,
	results chan<- pageOutcome,
) {
	var page Page
	err := limiter.Run(ctx, func(ctx context.Context) error {
		var fetchErr error
		page, fetchErr = c.pages.FetchWithLinks(ctx, target, baseDomain)
		return fetchErr
	})
	results <- pageOutcome{url: target, page: page, err: err}
}
