package scraper

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
)

// CrawlConfig provides parameters for the BFS crawler.
type CrawlConfig struct {
	// MaxDepth is how many link hops are followed from a seed page. Zero
	// visits the seeds only.
	MaxDepth    int
	Concurrency int
	// Domains limits followed pages to these hosts and their subdomains.
	// Assets referenced by an in-scope page are fetched from any host.
	Domains []string
	// RespectRobots checks robots.txt before every request.
	RespectRobots bool
	// UserAgent is matched against robots.txt groups.
	UserAgent string
	// QueueSize bounds pending URLs (0 = 10000); discoveries beyond it are
	// dropped.
	QueueSize int
	// AssetSelector finds media references on HTML pages (default "img[src]");
	// AssetAttr names the attribute holding the URL (default "src").
	AssetSelector string
	AssetAttr     string
	// AssetTypes are content-type prefixes of wanted responses (default
	// "image/").
	AssetTypes []string
	// MaxAssets stops reporting assets after this many (0 = unlimited).
	MaxAssets int
}

// Asset is a fetched media resource.
type Asset struct {
	URL string
	// PageURL is the page that referenced the asset; empty for seeds that
	// were media themselves.
	PageURL string
	// Alt is the alt text of the referencing element; PageTitle is the
	// referencing page's <title>.
	Alt       string
	PageTitle string
	Response  *Response
}

// AssetFunc receives assets. It may be called concurrently.
type AssetFunc func(ctx context.Context, a Asset) error

// Crawler walks pages from seed URLs and reports the media it finds.
type Crawler struct {
	cfg     CrawlConfig
	fetcher *Fetcher
	logger  *slog.Logger
	auditor *RobotsTxtAuditor

	visitedMu sync.Mutex
	visited   map[string]struct{}
	assets    atomic.Int64
}

type job struct {
	URL       string
	PageURL   string
	Alt       string
	PageTitle string
	Depth     int
	Asset     bool
}

type assetRef struct {
	URL string
	Alt string
}

// NewCrawler creates a new BFS crawler.
func NewCrawler(cfg CrawlConfig, fetcher *Fetcher, logger *slog.Logger) *Crawler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "*"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	if cfg.AssetSelector == "" {
		cfg.AssetSelector = "img[src]"
	}
	if cfg.AssetAttr == "" {
		cfg.AssetAttr = "src"
	}
	if len(cfg.AssetTypes) == 0 {
		cfg.AssetTypes = []string{"image/"}
	}

	var auditor *RobotsTxtAuditor
	if cfg.RespectRobots {
		auditor = NewRobotsTxtAuditor(fetcher, logger)
	}

	return &Crawler{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger,
		auditor: auditor,
		visited: make(map[string]struct{}),
	}
}

// Run crawls from seeds until no work is left or ctx is done. A seed that is
// itself media is reported as an asset.
func (c *Crawler) Run(ctx context.Context, seeds []string, onAsset AssetFunc) error {
	queue := make(chan job, max(c.cfg.QueueSize, len(seeds)))

	// pending counts queued and in-flight jobs; the crawl is done at zero.
	var pending sync.WaitGroup
	for _, seed := range seeds {
		if c.claim(seed, true) {
			pending.Add(1)
			queue <- job{URL: seed}
		}
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(workCtx)

	for i := 0; i < c.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gCtx.Done():
					return nil
				case j := <-queue:
					c.processJob(gCtx, j, queue, &pending, onAsset)
					pending.Done()
				}
			}
		})
	}

	done := make(chan struct{})
	go func() {
		pending.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	cancel()
	_ = g.Wait()
	return ctx.Err()
}

func (c *Crawler) processJob(ctx context.Context, j job, queue chan<- job, pending *sync.WaitGroup, onAsset AssetFunc) {
	if c.auditor != nil {
		allowed, err := c.auditor.IsAllowed(ctx, j.URL, c.cfg.UserAgent)
		if err != nil {
			c.logger.Warn("error checking robots.txt", "url", j.URL, "err", err)
		} else if !allowed {
			c.logger.Debug("url blocked by robots.txt", "url", j.URL)
			return
		}
	}

	c.logger.Debug("fetching", "url", j.URL, "depth", j.Depth, "asset", j.Asset)
	res, err := c.fetcher.Fetch(ctx, j.URL)
	if err != nil {
		c.logger.Warn("fetch error", "url", j.URL, "err", err)
		return
	}
	if !res.OK() {
		c.logger.Debug("unusable response", "url", j.URL, "status", res.StatusCode, "challenge", res.Challenge)
		return
	}

	ct := res.ContentType()
	if c.isAsset(ct) {
		c.report(ctx, Asset{URL: j.URL, PageURL: j.PageURL, Alt: j.Alt, PageTitle: j.PageTitle, Response: res}, onAsset)
		return
	}
	if j.Asset || !strings.Contains(ct, "html") {
		return
	}

	title, assets, links := c.extract(res.URL, res.Body, j.Depth < c.cfg.MaxDepth)
	for _, a := range assets {
		if c.claim(a.URL, false) {
			c.enqueue(ctx, queue, pending, job{URL: a.URL, PageURL: j.URL, Alt: a.Alt, PageTitle: title, Depth: j.Depth, Asset: true})
		}
	}
	for _, l := range links {
		if c.claim(l, true) {
			c.enqueue(ctx, queue, pending, job{URL: l, Depth: j.Depth + 1})
		}
	}
}

func (c *Crawler) report(ctx context.Context, a Asset, onAsset AssetFunc) {
	if c.cfg.MaxAssets > 0 && c.assets.Add(1) > int64(c.cfg.MaxAssets) {
		return
	}
	if err := onAsset(ctx, a); err != nil {
		c.logger.Warn("asset rejected", "url", a.URL, "err", err)
	}
}

func (c *Crawler) enqueue(ctx context.Context, queue chan<- job, pending *sync.WaitGroup, j job) {
	pending.Add(1)
	select {
	case queue <- j:
	case <-ctx.Done():
		pending.Done()
	default:
		pending.Done()
		c.logger.Warn("crawl queue full, dropping url", "url", j.URL)
	}
}

func (c *Crawler) isAsset(contentType string) bool {
	for _, prefix := range c.cfg.AssetTypes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

// claim marks rawURL visited and reports whether it was new and eligible.
// Pages are subject to the domain scope, assets are not.
func (c *Crawler) claim(rawURL string, page bool) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if page && !c.inScope(u.Hostname()) {
		return false
	}
	u.Fragment = ""
	normalized := u.String()

	c.visitedMu.Lock()
	defer c.visitedMu.Unlock()
	if _, seen := c.visited[normalized]; seen {
		return false
	}
	c.visited[normalized] = struct{}{}
	return true
}

func (c *Crawler) inScope(host string) bool {
	if len(c.cfg.Domains) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, domain := range c.cfg.Domains {
		d := strings.ToLower(domain)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// extract returns the page title, absolute asset references and, when follow
// is set, link URLs.
func (c *Crawler) extract(baseURL string, body []byte, follow bool) (title string, assets []assetRef, links []string) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", nil, nil
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())

	resolve := func(ref string) (string, bool) {
		u, err := url.Parse(strings.TrimSpace(ref))
		if err != nil || ref == "" {
			return "", false
		}
		return base.ResolveReference(u).String(), true
	}

	doc.Find(c.cfg.AssetSelector).Each(func(_ int, s *goquery.Selection) {
		if ref, ok := s.Attr(c.cfg.AssetAttr); ok {
			if abs, ok := resolve(ref); ok {
				assets = append(assets, assetRef{URL: abs, Alt: strings.TrimSpace(s.AttrOr("alt", ""))})
			}
		}
	})
	if !follow {
		return title, assets, nil
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if abs, ok := resolve(s.AttrOr("href", "")); ok {
			links = append(links, abs)
		}
	})
	return title, assets, links
}
