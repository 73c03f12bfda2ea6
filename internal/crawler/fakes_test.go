package crawler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// fakeSite serves canned responses keyed by URL and records how it was called.
type fakeSite struct {
	mu          sync.Mutex
	pages       map[string]FetchResponse
	errs        map[string]error
	generate    func(url string) (FetchResponse, bool)
	calls       map[string]int
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages: make(map[string]FetchResponse),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (s *fakeSite) serve(url, contentType, body string) {
	s.pages[url] = FetchResponse{
		URL:        url,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {contentType}},
		Body:       []byte(body),
	}
}

func (s *fakeSite) html(url, body string) {
	s.serve(url, "text/html", body)
}

func (s *fakeSite) xml(url, body string) {
	s.serve(url, "application/xml", body)
}

func (s *fakeSite) fail(url string, err error) {
	s.errs[url] = err
}

func (s *fakeSite) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	s.mu.Lock()
	s.calls[req.URL]++
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	resp, ok := s.pages[req.URL]
	if !ok && s.generate != nil {
		resp, ok = s.generate(req.URL)
	}
	err := s.errs[req.URL]
	delay := s.delay
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return FetchResponse{}, ctx.Err()
		}
	}
	if err != nil {
		return FetchResponse{}, err
	}
	if !ok {
		return FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	return resp, nil
}

func (s *fakeSite) callCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

func (s *fakeSite) peak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

func (s *fakeSite) fetchedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	urls := make([]string, 0, len(s.calls))
	for url := range s.calls {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// stepClock advances by step on every call to Now.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (p *progressLog) record(_ context.Context, percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, percent)
}

func (p *progressLog) snapshot() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.values...)
}

func page(title string, links ...string) string {
	body := "<html><head><title>" + title + "</title></head><body><h1>" + title + "</h1>\n"
	for _, link := range links {
		body += `<a href="` + link + `">` + link + "</a>\n"
	}
	return body + "</body></html>"
}

func urlset(locs ...string) string {
	body := `<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, loc := range locs {
		body += "<url><loc>" + loc + "</loc></url>"
	}
	return body + "</urlset>"
}

func sitemapIndex(locs ...string) string {
	body := `<?xml version="1.0" encoding="UTF-8"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, loc := range locs {
		body += "<sitemap><loc>" + loc + "</loc></sitemap>"
	}
	return body + "</sitemapindex>"
}
