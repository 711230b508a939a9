package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	sitemap "github.com/oxffaa/gopher-parse-sitemap"
)

// maxSitemapNesting bounds recursion through sitemap indexes.
const maxSitemapNesting = 3

// SitemapFetcher expands sitemap URLs into the page URLs they list.
type SitemapFetcher struct {
	fetcher *Fetcher
	logger  *slog.Logger
}

// NewSitemapFetcher initializes a new SitemapFetcher.
func NewSitemapFetcher(fetcher *Fetcher, logger *slog.Logger) *SitemapFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SitemapFetcher{fetcher: fetcher, logger: logger}
}

// IsSitemapURL guesses from the path whether rawURL points at a sitemap.
func IsSitemapURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	return strings.HasSuffix(lower, ".xml") && strings.Contains(lower, "sitemap")
}

// FetchSitemap fetches a sitemap or sitemap index and returns every page URL,
// following nested indexes.
func (s *SitemapFetcher) FetchSitemap(ctx context.Context, sitemapURL string) ([]string, error) {
	return s.fetch(ctx, sitemapURL, 0)
}

func (s *SitemapFetcher) fetch(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	s.logger.Debug("fetching sitemap", "url", sitemapURL, "depth", depth)

	res, err := s.fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch sitemap: bad status code %d", res.StatusCode)
	}

	var urls []string
	err = sitemap.Parse(bytes.NewReader(res.Body), func(e sitemap.Entry) error {
		urls = append(urls, e.GetLocation())
		return nil
	})
	if err == nil && len(urls) > 0 {
		return urls, nil
	}

	var nested []string
	indexErr := sitemap.ParseIndex(bytes.NewReader(res.Body), func(e sitemap.IndexEntry) error {
		nested = append(nested, e.GetLocation())
		return nil
	})
	if indexErr != nil || len(nested) == 0 {
		return nil, fmt.Errorf("%s is neither a sitemap nor a sitemap index", sitemapURL)
	}
	if depth >= maxSitemapNesting {
		return nil, fmt.Errorf("sitemap index %s nested deeper than %d", sitemapURL, maxSitemapNesting)
	}

	for _, n := range nested {
		more, err := s.fetch(ctx, n, depth+1)
		if err != nil {
			s.logger.Warn("failed to fetch nested sitemap", "url", n, "err", err)
			continue
		}
		urls = append(urls, more...)
	}
	return urls, nil
}
