// Package blocklist decides which hosts may be scraped at all.
package blocklist

import (
	"net/url"
	"strings"
)

// Blocklist matches hosts against exact names and suffix wildcards. A nil Blocklist
// blocks nothing.
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// New parses patterns. "example.org" blocks that host only; "*.example.org" and
// ".example.org" block the domain and every subdomain. It returns nil when no usable
// pattern is given.
func New(patterns []string) *Blocklist {
	b := &Blocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		default:
			if value = strings.TrimSuffix(value, "."); value != "" {
				b.exact[value] = struct{}{}
			}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *Blocklist) addSuffix(suffix string) {
	suffix = strings.TrimSuffix(suffix, ".")
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// Len reports how many patterns are active.
func (b *Blocklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.exact) + len(b.suffixes)
}

// Blocked reports whether host matches a pattern.
func (b *Blocklist) Blocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// AllowURL reports whether rawURL's host may be scraped. Unparseable URLs are allowed
// here and left to URL validation.
func (b *Blocklist) AllowURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return !b.Blocked(u.Hostname())
}
