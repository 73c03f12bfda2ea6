package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/site-scraper/internal/extract"
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

func successStatus(code int) bool {
	return code >= 200 && code < 300
}

// PageObserver is told about every page fetch outcome.
type PageObserver func(url string, status string, bytes int)

// Page fetch outcomes passed to a PageObserver.
const (
	PageStatusSuccess = "success"
	PageStatusError   = "error"
)

// PageFetcher retrieves single pages and turns them into text and links.
type PageFetcher struct {
	fetcher   Fetcher
	extractor *extract.Extractor
	waiter    Waiter
	observer  PageObserver
	timeout   time.Duration
}

// PageFetcherOption customizes a PageFetcher.
type PageFetcherOption func(*PageFetcher)

// WithWaiter delays each fetch until w admits it.
func WithWaiter(w Waiter) PageFetcherOption {
	return func(p *PageFetcher) {
		p.waiter = w
	}
}

// WithRequestTimeout bounds each page fetch, including the politeness wait.
func WithRequestTimeout(d time.Duration) PageFetcherOption {
	return func(p *PageFetcher) {
		p.timeout = d
	}
}

// WithPageObserver reports each fetch outcome to fn.
func WithPageObserver(fn PageObserver) PageFetcherOption {
	return func(p *PageFetcher) {
		p.observer = fn
	}
}

// NewPageFetcher wires a PageFetcher. A nil extractor renders plain text.
func NewPageFetcher(fetcher Fetcher, extractor *extract.Extractor, opts ...PageFetcherOption) *PageFetcher {
	if extractor == nil {
		extractor, _ = extract.New(extract.FormatText)
	}
	p := &PageFetcher{fetcher: fetcher, extractor: extractor}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FetchText returns the normalized visible text of url.
func (p *PageFetcher) FetchText(ctx context.Context, url string) (string, error) {
	resp, err := p.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	text, err := p.extractor.Text(resp.Body)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", url, err)
	}
	return text, nil
}

// FetchWithLinks returns the text of url plus the links on it that stay on baseDomain.
// Relative links resolve against the URL the response was served from.
func (p *PageFetcher) FetchWithLinks(ctx context.Context, url, baseDomain string) (Page, error) {
	resp, err := p.fetch(ctx, url)
	if err != nil {
		return Page{}, err
	}
	pageURL := resp.URL
	if pageURL == "" {
		pageURL = url
	}
	text, links, err := p.extractor.TextAndLinks(resp.Body, pageURL, baseDomain)
	if err != nil {
		return Page{}, fmt.Errorf("extract %s: %w", url, err)
	}
	return Page{URL: url, Text: text, Links: links}, nil
}

func (p *PageFetcher) fetch(ctx context.Context, url string) (FetchResponse, error) {
	resp, err := p.fetchRaw(ctx, url)
	if p.observer != nil {
		if err != nil {
			p.observer(url, PageStatusError, 0)
		} else {
			p.observer(url, PageStatusSuccess, len(resp.Body))
		}
	}
	return resp, err
}

func (p *PageFetcher) fetchRaw(ctx context.Context, url string) (FetchResponse, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if p.waiter != nil {
		if err := p.waiter.Wait(ctx, url); err != nil {
			return FetchResponse{}, fmt.Errorf("politeness wait: %w", err)
		}
	}
	resp, err := p.fetcher.Fetch(ctx, FetchRequest{URL: url})
	if err != nil {
		return FetchResponse{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	if !successStatus(resp.StatusCode) {
		return FetchResponse{}, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp, nil
}
