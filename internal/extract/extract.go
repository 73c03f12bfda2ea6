// Package extract turns fetched HTML into normalized page text and same-site links.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	mdp "github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
)

// Format selects how page content is rendered.
type Format string

// Supported output formats.
const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

// strippedSelector lists the non-content elements removed before rendering.
const strippedSelector = "script, style, nav, header, footer, iframe, noscript"

var skippedLinkPrefixes = []string{"mailto:", "tel:", "javascript:", "#"}

// Extractor renders HTML documents into text and collects crawlable links.
type Extractor struct {
	format    Format
	converter *md.Converter
}

// New builds an Extractor for the given format. An empty format means FormatText.
func New(format Format) (*Extractor, error) {
	switch format {
	case "", FormatText:
		return &Extractor{format: FormatText}, nil
	case FormatMarkdown:
		converter := md.NewConverter("", true, nil)
		converter.Use(mdp.GitHubFlavored())
		return &Extractor{format: FormatMarkdown, converter: converter}, nil
	default:
		return nil, fmt.Errorf("unsupported extract format %q", format)
	}
}

// Format reports the configured output format.
func (e *Extractor) Format() Format {
	return e.format
}

// Text renders the visible content of body.
func (e *Extractor) Text(body []byte) (string, error) {
	doc, err := parse(body)
	if err != nil {
		return "", err
	}
	return e.render(doc)
}

// TextAndLinks renders the visible content of body and returns the links that
// stay on baseDomain's registrable domain. Relative links resolve against pageURL.
func (e *Extractor) TextAndLinks(body []byte, pageURL, baseDomain string) (string, []string, error) {
	doc, err := parse(body)
	if err != nil {
		return "", nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", nil, fmt.Errorf("parse page url: %w", err)
	}
	// Links are collected before stripping so navigation menus still feed the frontier.
	links := SameSiteLinks(doc, base, baseDomain)
	text, err := e.render(doc)
	if err != nil {
		return "", nil, err
	}
	return text, links, nil
}

func (e *Extractor) render(doc *goquery.Document) (string, error) {
	doc.Find(strippedSelector).Remove()
	body := doc.Find("body")
	if e.format != FormatMarkdown {
		return CollapseWhitespace(body.Text()), nil
	}
	html, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("serialize body: %w", err)
	}
	markdown, err := e.converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return strings.TrimSpace(markdown), nil
}

// SameSiteLinks returns the deduplicated absolute links in doc whose host shares
// the registrable domain of baseDomain.
func SameSiteLinks(doc *goquery.Document, base *url.URL, baseDomain string) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if link, ok := resolveLink(base, href, baseDomain); ok {
			links = append(links, link)
		}
	})
	return lo.Uniq(links)
}

func resolveLink(base *url.URL, href, baseDomain string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || hasSkippedPrefix(href) {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if !SameSite(abs.Hostname(), baseDomain) {
		return "", false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	// A bare origin and its root path are the same page.
	if abs.Path == "" && abs.Opaque == "" {
		abs.Path = "/"
		abs.RawPath = ""
	}
	return abs.String(), true
}

func hasSkippedPrefix(href string) bool {
	lower := strings.ToLower(href)
	for _, prefix := range skippedLinkPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// CollapseWhitespace replaces every whitespace run with one space and trims the ends.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func parse(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}
