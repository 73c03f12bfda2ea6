// Package crawler scrapes a whole website: it discovers URLs from sitemap.xml or by
// following links, fetches pages under a concurrency limit, and assembles the result
// and metadata of a scrape job.
package crawler
