package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := New("pdf")
	require.Error(t, err)

	e, err := New("")
	require.NoError(t, err)
	require.Equal(t, FormatText, e.Format())
}

func TestTextStripsNonContent(t *testing.T) {
	t.Parallel()

	e, err := New(FormatText)
	require.NoError(t, err)

	text, err := e.Text([]byte(`<html><body>
		<header>Top</header><nav>Menu</nav>
		<iframe src="/ad"></iframe><noscript>Enable JS</noscript>
		<p>Alpha</p>
		<p>	Beta
		Gamma </p>
		<footer>Bottom</footer>
	</body></html>`))
	require.NoError(t, err)
	require.Equal(t, "Alpha Beta Gamma", text)
}

func TestTextOfEmptyDocument(t *testing.T) {
	t.Parallel()

	e, err := New(FormatText)
	require.NoError(t, err)

	text, err := e.Text(nil)
	require.NoError(t, err)
	require.Empty(t, text)
}

func TestTextAndLinksKeepsNavigationLinks(t *testing.T) {
	t.Parallel()

	e, err := New(FormatText)
	require.NoError(t, err)

	text, links, err := e.TextAndLinks([]byte(`<html><body>
		<nav><a href="/about">About</a></nav>
		<p>Body <a href="./team?b=2&a=1">Team</a> <a href="/about#people">People</a></p>
	</body></html>`), "https://www.example.co.uk/company/", "www.example.co.uk")
	require.NoError(t, err)
	require.Equal(t, "Body Team People", text)
	require.Equal(t, []string{
		"https://www.example.co.uk/about",
		"https://www.example.co.uk/company/team?b=2&a=1",
	}, links)
}

func TestTextAndLinksGivesBareOriginRootPath(t *testing.T) {
	t.Parallel()

	e, err := New(FormatText)
	require.NoError(t, err)

	_, links, err := e.TextAndLinks([]byte(`<html><body>
		<a href="https://example.com">Home</a>
		<a href="https://example.com?lang=en">English</a>
		<a href="/">Root</a>
	</body></html>`), "https://example.com/docs", "example.com")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/",
		"https://example.com/?lang=en",
	}, links)
}

func TestTextAndLinksRejectsBadPageURL(t *testing.T) {
	t.Parallel()

	e, err := New(FormatText)
	require.NoError(t, err)

	_, _, err = e.TextAndLinks([]byte("<p>x</p>"), "http://%zz", "example.com")
	require.Error(t, err)
}

func TestSameSite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host, other string
		want        bool
	}{
		{"example.com", "example.com", true},
		{"blog.example.com", "example.com", true},
		{"WWW.Example.com", "example.com.", true},
		{"example.co.uk", "shop.example.co.uk", true},
		{"other.co.uk", "example.co.uk", false},
		{"example.org", "example.com", false},
		{"127.0.0.1", "127.0.0.1", true},
		{"127.0.0.1", "127.0.0.2", false},
		{"localhost", "localhost", true},
		{"", "example.com", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, SameSite(tc.host, tc.other), "%s vs %s", tc.host, tc.other)
	}
}

func TestMarkdownKeepsStructure(t *testing.T) {
	t.Parallel()

	e, err := New(FormatMarkdown)
	require.NoError(t, err)

	text, err := e.Text([]byte(`<html><body><script>x()</script><h2>Heading</h2><ul><li>one</li><li>two</li></ul></body></html>`))
	require.NoError(t, err)
	require.Contains(t, text, "## Heading")
	require.Contains(t, text, "- one")
	require.NotContains(t, text, "x()")
}
