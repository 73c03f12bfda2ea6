package headless

import (
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	_, err := Config{MaxParallel: -1}.withDefaults()
	require.Error(t, err)

	cfg, err := Config{}.withDefaults()
	require.NoError(t, err)
	assert.Equal(t, defaultNavigationTimeout, cfg.NavigationTimeout)
	assert.Equal(t, defaultBodyTimeout, cfg.BodyTimeout)
	assert.Equal(t, defaultSettleDelay, cfg.SettleDelay)

	cfg, err = Config{NavigationTimeout: 2 * time.Second, BodyTimeout: time.Minute, SettleDelay: -1}.withDefaults()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.BodyTimeout, "body wait never outlives navigation")
	assert.Zero(t, cfg.SettleDelay)
}

func TestNewLimitsTabs(t *testing.T) {
	t.Parallel()

	fetcher, err := New(Config{MaxParallel: 2, ExecPath: "/opt/chrome/chrome"})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)
	require.NotNil(t, fetcher.tabs)
	assert.Equal(t, 2, fetcher.tabs.Size())

	unbounded, err := New(Config{})
	require.NoError(t, err)
	t.Cleanup(unbounded.Close)
	assert.Nil(t, unbounded.tabs)
}

func TestExtraHeaders(t *testing.T) {
	t.Parallel()

	headers := extraHeaders(http.Header{
		"Accept-Language": {"en", "fr;q=0.8"},
		"X-Single":        {"c"},
		"X-Empty":         {},
	})
	assert.Equal(t, network.Headers{"Accept-Language": "en, fr;q=0.8", "X-Single": "c"}, headers)
	assert.Empty(t, extraHeaders(nil))
}

func TestMainDocumentKeepsFirstDocument(t *testing.T) {
	t.Parallel()

	doc := &mainDocument{}
	doc.observe("not a network event")
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://example.com/app.js"},
	})
	doc.observe(&network.EventResponseReceived{Type: network.ResourceTypeDocument})
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://example.com/missing"},
	})
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://ads.example.net/frame"},
	})

	status, url := doc.result("https://example.com/requested", "https://example.com/location")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "https://example.com/missing", url)
}

func TestMainDocumentFallbacks(t *testing.T) {
	t.Parallel()

	status, url := (&mainDocument{}).result("https://example.com/requested", "https://example.com/location")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://example.com/location", url)

	_, url = (&mainDocument{}).result("https://example.com/requested", "")
	assert.Equal(t, "https://example.com/requested", url)
}
