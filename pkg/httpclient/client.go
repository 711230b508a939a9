// Package httpclient is the outbound web-request capability used by fetchers,
// gatherers and webhook delivery.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// ErrTooManyRedirects is returned when a request exceeds MaxRedirects.
var ErrTooManyRedirects = errors.New("httpclient: too many redirects")

// DefaultUserAgent identifies maestro when a request sets no User-Agent.
const DefaultUserAgent = "maestro/1.0 (+https://github.com/FranksOps/maestro)"

// Config defines the setup for the HTTP Client.
type Config struct {
	Timeout time.Duration
	// MaxRedirects defaults to 10; a negative value disables following
	// redirects.
	MaxRedirects int
	UseCookieJar bool
	UserAgent    string
	// Transport overrides the default, e.g. for uTLS fingerprinting.
	Transport http.RoundTripper
}

// Client wraps http.Client with a timeout, a redirect policy and cookies.
type Client struct {
	*http.Client
	userAgent string
}

// New creates a new HTTP client based on the provided configuration.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 10
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	c := &http.Client{Timeout: cfg.Timeout}

	if cfg.MaxRedirects >= 0 {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) > cfg.MaxRedirects {
				return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, cfg.MaxRedirects)
			}
			return nil
		}
	} else {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	if cfg.UseCookieJar {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		c.Jar = jar
	}

	if cfg.Transport != nil {
		c.Transport = cfg.Transport
	}

	return &Client{Client: c, userAgent: cfg.UserAgent}, nil
}

// Do executes req under ctx, which controls cancellation independently of
// the client timeout.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		return nil, errors.New("httpclient: context cannot be nil")
	}

	r := req.Clone(ctx)
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.Client.Do(r)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.Method, r.URL.Redacted(), err)
	}
	return resp, nil
}

// Failure classifies why a request did not produce a usable response.
type Failure string

const (
	FailureNone       Failure = ""
	FailureConnection Failure = "connection"
	FailureTimeout    Failure = "timeout"
	FailureRedirects  Failure = "redirects"
	FailureStatus     Failure = "status"
)

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response status %s", e.Status)
}

// CheckStatus returns a *StatusError unless resp is 2xx.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

// Classify maps an error from Do or CheckStatus to a Failure.
func Classify(err error) Failure {
	if err == nil {
		return FailureNone
	}
	var se *StatusError
	if errors.As(err, &se) {
		return FailureStatus
	}
	if errors.Is(err, ErrTooManyRedirects) {
		return FailureRedirects
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}
	return FailureConnection
}
