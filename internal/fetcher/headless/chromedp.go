// Package headless renders pages in headless Chrome so script-built content is
// visible to extraction.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultBodyTimeout       = 10 * time.Second
	defaultSettleDelay       = 500 * time.Millisecond
)

// Config controls the headless fetcher.
type Config struct {
	// MaxParallel caps open browser tabs. Zero leaves tabs unbounded.
	MaxParallel int
	UserAgent   string
	// NavigationTimeout bounds a whole page render.
	NavigationTimeout time.Duration
	// BodyTimeout bounds the wait for <body> after navigation.
	BodyTimeout time.Duration
	SettleDelay time.Duration
	// ExecPath overrides the Chrome binary located by chromedp.
	ExecPath string
}

func (c Config) withDefaults() (Config, error) {
	if c.MaxParallel < 0 {
		return c, errors.New("max parallel must be >= 0")
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.BodyTimeout <= 0 || c.BodyTimeout > c.NavigationTimeout {
		c.BodyTimeout = min(defaultBodyTimeout, c.NavigationTimeout)
	}
	switch {
	case c.SettleDelay < 0:
		c.SettleDelay = 0
	case c.SettleDelay == 0:
		c.SettleDelay = defaultSettleDelay
	}
	return c, nil
}

// Fetcher implements crawler.Fetcher with one shared Chrome process and one tab per page.
type Fetcher struct {
	cfg         Config
	tabs        *crawler.Limiter
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless fetcher. Chrome starts lazily with the first page.
func New(cfg Config) (*Fetcher, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	var tabs *crawler.Limiter
	if cfg.MaxParallel > 0 {
		tabs = crawler.NewLimiter(cfg.MaxParallel)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	return &Fetcher{
		cfg:         cfg,
		tabs:        tabs,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// allocatorOptions returns Chrome flags suited to running inside a container.
func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders the page and returns the DOM serialized after scripts ran.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if f.tabs == nil {
		return f.render(ctx, request)
	}
	var resp crawler.FetchResponse
	err := f.tabs.Run(ctx, func(ctx context.Context) error {
		var err error
		resp, err = f.render(ctx, request)
		return err
	})
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("headless fetch: %w", err)
	}
	return resp, nil
}

func (f *Fetcher) render(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()
	// Tabs derive from the allocator, not from ctx.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &mainDocument{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tabCtx,
		f.prepareTab(request.Headers),
		chromedp.Navigate(request.URL),
		f.waitForBody(),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("render canceled: %w", ctx.Err())
		}
		return crawler.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	status, url := doc.result(request.URL, location)
	return crawler.FetchResponse{
		URL:          url,
		StatusCode:   status,
		Headers:      http.Header{},
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) prepareTab(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if extra := extraHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// waitForBody gives the document its own, shorter deadline inside the navigation budget.
func (f *Fetcher) waitForBody() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, f.cfg.BodyTimeout)
		defer cancel()
		if err := chromedp.WaitReady("body", chromedp.ByQuery).Do(waitCtx); err != nil {
			return fmt.Errorf("wait for body: %w", err)
		}
		return nil
	})
}

// extraHeaders folds repeated header values into one comma-separated value.
func extraHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}

// mainDocument keeps the status of the first document response a tab receives.
// Later document responses belong to iframes.
type mainDocument struct {
	mu     sync.Mutex
	seen   bool
	status int
	url    string
}

func (d *mainDocument) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
}

// result falls back to the browser location, then the requested URL. Chrome does not
// always surface a response for cached or synthetic documents, so a missing status is 200.
func (d *mainDocument) result(requested, location string) (int, string) {
	d.mu.Lock()
	status, url := d.status, d.url
	d.mu.Unlock()

	if url == "" {
		url = location
	}
	if url == "" {
		url = requested
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
