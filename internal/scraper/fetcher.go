// Package scraper retrieves web resources for the gather stage: single
// downloads, a bounded crawler that discovers media on pages, robots.txt
// enforcement and sitemap expansion.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/maestro/internal/fingerprint"
	"github.com/FranksOps/maestro/internal/metrics"
	"github.com/FranksOps/maestro/pkg/httpclient"
	"github.com/FranksOps/maestro/pkg/ratelimit"
)

// DefaultMaxBodyBytes caps a downloaded body.
const DefaultMaxBodyBytes = 50 << 20

// ErrBodyTooLarge is returned when a body exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("scraper: response body too large")

// FetchConfig configures a Fetcher.
type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool
	UserAgent    string
	Fingerprint  fingerprint.Profile
	// Limiter paces requests per host. Nil disables pacing.
	Limiter      *ratelimit.Keyed
	MaxBodyBytes int64
}

// Response is a fetched resource.
type Response struct {
	URL         string
	StatusCode  int
	Header      http.Header
	Body        []byte
	Duration    time.Duration
	// Challenge names the bot protection that answered instead of the site.
	Challenge string
}

// ContentType returns the media type without parameters, lower-cased.
func (r *Response) ContentType() string {
	ct := r.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// OK reports a 2xx response that is not a challenge page.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299 && r.Challenge == ""
}

// Fetcher performs single GET requests. Cookie jars, if configured, persist
// for the lifetime of the Fetcher.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
}

// NewFetcher initializes a Fetcher.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileGo
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		UserAgent:    cfg.UserAgent,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return &Fetcher{config: cfg, client: client}, nil
}

// Fetch GETs targetURL. A non-2xx status is not an error; transport failures
// and oversized bodies are.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*Response, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", targetURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme in %q", targetURL)
	}
	domain := u.Hostname()

	if f.config.Limiter != nil {
		if err := f.config.Limiter.Wait(ctx, domain); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,image/avif,image/webp,image/*,audio/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(ctx, req)
	if err != nil {
		metrics.RecordRequest(domain, 0, err, "", time.Since(start), 0)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes+1))
	if err == nil && int64(len(body)) > f.config.MaxBodyBytes {
		err = fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, targetURL, f.config.MaxBodyBytes)
	}
	res := &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Duration:   time.Since(start),
	}
	if err != nil {
		metrics.RecordRequest(domain, res.StatusCode, err, "", res.Duration, len(body))
		return nil, fmt.Errorf("read %s: %w", targetURL, err)
	}

	res.Challenge = DetectChallenge(res, DefaultDetectors())
	metrics.RecordRequest(domain, res.StatusCode, nil, res.Challenge, res.Duration, len(body))
	return res, nil
}
