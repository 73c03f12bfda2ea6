package crawler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
)

// ErrNotSitemap is returned when a document is XML but neither a urlset nor a sitemapindex.
var ErrNotSitemap = errors.New("not a sitemap document")

var gzipMagic = []byte{0x1f, 0x8b}

// SitemapConfig controls sitemap discovery.
type SitemapConfig struct {
	// Concurrency bounds parallel sub-sitemap fetches for sitemap indexes.
	Concurrency int
	// Timeout bounds each sitemap fetch.
	Timeout time.Duration
}

// SitemapResolver discovers page URLs from a site's sitemap.xml.
type SitemapResolver struct {
	fetcher Fetcher
	cfg     SitemapConfig
	logger  *zap.Logger
}

type sitemapDocument struct {
	XMLName  xml.Name
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// NewSitemapResolver wires a resolver around fetcher.
func NewSitemapResolver(fetcher Fetcher, cfg SitemapConfig, logger *zap.Logger) *SitemapResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SitemapResolver{fetcher: fetcher, cfg: cfg, logger: logger.Named("sitemap")}
}

// Resolve returns the deduplicated page URLs listed by baseURL's /sitemap.xml, following
// one level of sitemap index. An empty result means no usable sitemap was found; fetch and
// parse failures are never returned.
func (r *SitemapResolver) Resolve(ctx context.Context, baseURL string) []string {
	base, err := ParseStartURL(baseURL)
	if err != nil {
		r.logger.Debug("sitemap base rejected", zap.String("url", baseURL), zap.Error(err))
		return nil
	}
	root := sitemapURL(base)
	doc, err := r.load(ctx, root)
	if err != nil {
		r.logger.Debug("sitemap unavailable", zap.String("sitemap", root), zap.Error(err))
		return nil
	}

	urls := locations(doc.URLs)
	if children := locations(doc.Sitemaps); len(children) > 0 {
		urls = append(urls, r.resolveChildren(ctx, children)...)
	}
	urls = lo.Uniq(urls)
	r.logger.Debug("sitemap resolved",
		zap.String("sitemap", root),
		zap.Int("sub_sitemaps", len(doc.Sitemaps)),
		zap.Int("urls", len(urls)),
	)
	return urls
}

// resolveChildren reads each sub-sitemap's url entries. Results keep the index order.
func (r *SitemapResolver) resolveChildren(ctx context.Context, children []string) []string {
	limiter := NewLimiter(r.cfg.Concurrency)
	found := make([][]string, len(children))

	var wg sync.WaitGroup
	for i, loc := range children {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := limiter.Run(ctx, func(ctx context.Context) error {
				doc, err := r.load(ctx, loc)
				if err != nil {
					return err
				}
				found[i] = locations(doc.URLs)
				return nil
			})
			if err != nil {
				r.logger.Debug("sub-sitemap skipped", zap.String("sitemap", loc), zap.Error(err))
			}
		}()
	}
	wg.Wait()
	return lo.Flatten(found)
}

func (r *SitemapResolver) load(ctx context.Context, loc string) (sitemapDocument, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	resp, err := r.fetcher.Fetch(ctx, FetchRequest{URL: loc})
	if err != nil {
		return sitemapDocument{}, fmt.Errorf("fetch sitemap: %w", err)
	}
	if !successStatus(resp.StatusCode) {
		return sitemapDocument{}, &StatusError{URL: loc, StatusCode: resp.StatusCode}
	}
	return parseSitemap(resp.Body)
}

func parseSitemap(body []byte) (sitemapDocument, error) {
	var reader io.Reader = bytes.NewReader(body)
	if bytes.HasPrefix(body, gzipMagic) {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return sitemapDocument{}, fmt.Errorf("open gzip sitemap: %w", err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}

	decoder := xml.NewDecoder(reader)
	decoder.CharsetReader = charset.NewReaderLabel
	var doc sitemapDocument
	if err := decoder.Decode(&doc); err != nil {
		return sitemapDocument{}, fmt.Errorf("decode sitemap: %w", err)
	}
	switch doc.XMLName.Local {
	case "urlset", "sitemapindex":
		return doc, nil
	default:
		return sitemapDocument{}, fmt.Errorf("%w: root element %q", ErrNotSitemap, doc.XMLName.Local)
	}
}

func locations(entries []sitemapLoc) []string {
	return lo.FilterMap(entries, func(entry sitemapLoc, _ int) (string, bool) {
		loc := strings.TrimSpace(entry.Loc)
		return loc, loc != ""
	})
}
