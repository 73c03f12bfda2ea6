package crawler

import (
	"context"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// TextFetcher returns the visible text of a page.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// BatchStats is the outcome of scraping a known URL list.
type BatchStats struct {
	Data       map[string]string
	Successful int
	Failed     int
}

// BatchScraper scrapes a fixed URL list concurrently.
type BatchScraper struct {
	pages         TextFetcher
	progressEvery int
	logger        *zap.Logger
}

// NewBatchScraper wires a BatchScraper. Progress is reported every progressEvery
// completions and after the last one.
func NewBatchScraper(pages TextFetcher, progressEvery int, logger *zap.Logger) *BatchScraper {
	if progressEvery < 1 {
		progressEvery = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchScraper{pages: pages, progressEvery: progressEvery, logger: logger.Named("batch")}
}

// ScrapeBatch fetches every URL under limiter and waits for all of them. Individual
// failures are counted, never returned. Reported progress runs from 5 to 100.
func (b *BatchScraper) ScrapeBatch(ctx context.Context, urls []string, limiter *Limiter, progress ProgressFunc) BatchStats {
	urls = lo.Uniq(urls)
	stats := BatchStats{Data: make(map[string]string, len(urls))}
	total := len(urls)
	if total == 0 {
		return stats
	}

	var (
		mu        sync.Mutex
		completed int
		wg        sync.WaitGroup
	)
	for _, target := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var text string
			err := limiter.Run(ctx, func(ctx context.Context) error {
				var fetchErr error
				text, fetchErr = b.pages.FetchText(ctx, target)
				return fetchErr
			})

			mu.Lock()
			if err != nil {
				stats.Failed++
			} else {
				stats.Data[target] = text
				stats.Successful++
			}
			completed++
			done := completed
			mu.Unlock()

			if err != nil {
				b.logger.Debug("page failed", zap.String("url", target), zap.Error(err))
			}
			if done%b.progressEvery == 0 || done == total {
				progress.report(ctx, done*95/total+5)
			}
		}()
	}
	wg.Wait()
	return stats
}
