package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/app"
	"github.com/JakeFAU/site-scraper/internal/config"
	"github.com/JakeFAU/site-scraper/internal/crawler"
)

// newSite serves a two page site. With sitemap set, /sitemap.xml lists both pages;
// otherwise the pages must be found by following links.
func newSite(t *testing.T, sitemap bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		if !sitemap {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/</loc></url>
  <url><loc>%[1]s/about</loc></url>
</urlset>`, srv.URL)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><nav>menu</nav><p>About us</p></body></html>`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><h1>Home</h1><a href="/about">About</a><script>x()</script></body></html>`)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Queue.BackoffInitial = 10 * time.Millisecond
	cfg.Scraper.RequestTimeout = 5 * time.Second
	cfg.Scraper.SitemapTimeout = 5 * time.Second
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

// serve runs a on a loopback listener and returns its base URL.
func serve(t *testing.T, a *app.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("serve did not return after cancel")
		}
		a.Close()
	})
	return "http://" + ln.Addr().String()
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url) //nolint:noctx // test helper
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func submit(t *testing.T, baseURL, target string) string {
	t.Helper()
	resp, err := http.Post(baseURL+"/scrape", "application/json", //nolint:noctx // test helper
		strings.NewReader(fmt.Sprintf(`{"url":%q}`, target)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	id, _ := body["jobId"].(string)
	require.NotEmpty(t, id)
	return id
}

func waitForState(t *testing.T, baseURL, jobID string, want crawler.JobState) map[string]any {
	t.Helper()
	var last map[string]any
	require.Eventually(t, func() bool {
		code, body := getJSON(t, baseURL+"/scrape/status/"+jobID)
		last = body
		return code == http.StatusOK && body["state"] == string(want)
	}, 10*time.Second, 20*time.Millisecond, "job never reached %s", want)
	return last
}

func TestAppScrapesThroughSitemap(t *testing.T) {
	site := newSite(t, true)
	a, err := app.New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	baseURL := serve(t, a)

	jobID := submit(t, baseURL, site.URL)
	status := waitForState(t, baseURL, jobID, crawler.StateCompleted)
	assert.InDelta(t, 100, status["progress"], 0)

	code, result := getJSON(t, baseURL+"/scrape/result/"+jobID)
	require.Equal(t, http.StatusOK, code)
	summary, ok := result["summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(crawler.MethodSitemap), summary["method"])
	assert.InDelta(t, 2, summary["successful"], 0)

	data, ok := result["data"].(map[string]any)
	require.True(t, ok)
	var texts []string
	for _, v := range data {
		texts = append(texts, v.(string))
	}
	joined := strings.Join(texts, "\n")
	assert.Contains(t, joined, "About us")
	assert.NotContains(t, joined, "menu")
	assert.NotContains(t, joined, "x()")
}

func TestAppFallsBackToRecursiveCrawl(t *testing.T) {
	site := newSite(t, false)
	a, err := app.New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	baseURL := serve(t, a)

	jobID := submit(t, baseURL, site.URL)
	waitForState(t, baseURL, jobID, crawler.StateCompleted)

	result, err := a.Jobs().Result(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, crawler.MethodRecursiveCrawl, result.Metadata.ScrapingMethod)
	assert.Equal(t, 2, result.Metadata.SuccessfulScrapes)
	assert.Len(t, result.Data, 2)
}

func TestAppWithRedisStoreRecoversPendingJobs(t *testing.T) {
	site := newSite(t, true)
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Store.Backend = config.StoreRedis
	cfg.Store.RedisAddr = mr.Addr()

	// A job submitted before the workers start stays waiting in redis.
	first, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	job, err := first.Jobs().Submit(context.Background(), site.URL)
	require.NoError(t, err)
	first.Close()

	second, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	baseURL := serve(t, second)
	waitForState(t, baseURL, job.ID, crawler.StateCompleted)
}

func TestAppServesProbes(t *testing.T) {
	a, err := app.New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	baseURL := serve(t, a)

	code, body := getJSON(t, baseURL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body)

	code, _ = getJSON(t, baseURL+"/scrape/status/unknown")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAppRejectsBlockedDomains(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scraper.BlockedDomains = []string{"*.example.net"}
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	baseURL := serve(t, a)

	resp, err := http.Post(baseURL+"/scrape", "application/json", //nolint:noctx // test helper
		strings.NewReader(`{"url":"https://shop.example.net/"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Queue.Attempts = 0
	_, err := app.New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "queue.attempts")
}

func TestNewFailsWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.Store.Backend = config.StoreRedis
	cfg.Store.RedisAddr = addr
	_, err := app.New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "job store")
}

func TestNewWithLocalArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Backend = config.ArchiveLocal
	cfg.Archive.LocalDir = t.TempDir()
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	a.Close()
	a.Close()
}

func TestNewScraper(t *testing.T) {
	site := newSite(t, false)
	cfg := testConfig(t)
	cfg.Scraper.Format = "markdown"
	scraper, err := app.NewScraper(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(scraper.Close)

	result, err := scraper.Scrape(context.Background(), site.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, crawler.MethodRecursiveCrawl, result.Metadata.ScrapingMethod)
	assert.Equal(t, 2, result.Metadata.TotalURLsFound)

	cfg.Scraper.Format = "pdf"
	_, err = app.NewScraper(cfg, nil)
	require.Error(t, err)
}
