// Package collyfetcher implements Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRedirects = 5
	defaultMaxBodySize  = 10 << 20

	// defaultAccept covers both pages and sitemaps.
	defaultAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	MaxRedirects  int
	RespectRobots bool
	// MaxBodySize truncates larger bodies. Zero uses 10 MiB.
	MaxBodySize int
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	base *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBodySize),
	)
	// Clones share this HTTP backend.
	c.WithTransport(newRetryTransport(newHTTPTransport()))
	c.SetRequestTimeout(cfg.Timeout)
	c.SetRedirectHandler(redirectLimit(cfg.MaxRedirects))
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Fetcher{base: c}
}

// Fetch executes a single GET. Non-2xx responses are returned with their status code
// rather than as errors; the page fetcher decides what counts as a failure.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	v := &visit{request: request, start: time.Now()}
	collector := f.base.Clone()
	// The HTTP request carries ctx, so a canceled fetch also aborts the in-flight request.
	collector.Context = ctx
	collector.OnRequest(v.onRequest)
	collector.OnResponse(v.onResponse)
	collector.OnError(v.onError)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("colly visit %s: %w", request.URL, err)
		}
		if v.err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("colly response %s: %w", request.URL, v.err)
		}
		return v.response, nil
	}
}

// visit collects the callbacks of one synchronous collector run.
type visit struct {
	request  crawler.FetchRequest
	start    time.Time
	response crawler.FetchResponse
	err      error
}

// onRequest runs after colly filled in its own defaults, so caller headers replace them.
func (v *visit) onRequest(r *colly.Request) {
	if v.request.Headers.Get("Accept") == "" {
		r.Headers.Set("Accept", defaultAccept)
	}
	for key, values := range v.request.Headers {
		r.Headers.Del(key)
		for _, value := range values {
			r.Headers.Add(key, value)
		}
	}
}

func (v *visit) onResponse(r *colly.Response) {
	v.response = crawler.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    http.Header{},
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.start),
	}
	if r.Headers != nil {
		v.response.Headers = r.Headers.Clone()
	}
}

func (v *visit) onError(_ *colly.Response, err error) {
	v.err = err
}

func redirectLimit(maxRedirects int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
