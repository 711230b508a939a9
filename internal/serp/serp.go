// Package serp queries the search APIs behind the built-in fetchers and turns
// their responses into media URLs.
package serp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/maestro/pkg/httpclient"
	"github.com/FranksOps/maestro/pkg/ratelimit"
)

// ErrMissingKey is returned when a provider has no API credential.
var ErrMissingKey = errors.New("serp: missing API key")

// maxResponseBytes caps a decoded API response.
const maxResponseBytes = 10 << 20

// Query is a search request.
type Query struct {
	Text        string
	Keywords    []string
	CountryCode string
	StartDate   *time.Time
	EndDate     *time.Time
}

// Provider abstracts a search API returning media or page URLs.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]string, error)
}

// Options is shared by every provider.
type Options struct {
	// Endpoint overrides the provider's public API URL.
	Endpoint string
	Key      string
	Client   *httpclient.Client
	// Limiter paces calls to the paid API. Nil disables pacing.
	Limiter *ratelimit.Limiter
}

func (o Options) client() *httpclient.Client {
	if o.Client != nil {
		return o.Client
	}
	c, _ := httpclient.New(httpclient.Config{Timeout: 30 * time.Second})
	return c
}

// AcceptLanguage builds the Accept-Language header for a country code,
// always including English results.
func AcceptLanguage(countryCode string) string {
	switch strings.ToUpper(countryCode) {
	case "US", "":
		return "en-US, en"
	case "PT":
		return "pt-PT, pt, en"
	case "BR":
		return "pt-BR, pt, en"
	case "GB":
		return "en-GB, en"
	}
	lang := strings.ToLower(countryCode)
	return fmt.Sprintf("%s-%s, %s, en", lang, strings.ToUpper(countryCode), lang)
}

// getJSON performs a paced GET and decodes a 2xx JSON body into out.
func getJSON(ctx context.Context, o Options, endpoint string, params url.Values, header http.Header, out any) error {
	if o.Limiter != nil {
		if err := o.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client().Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := httpclient.CheckStatus(resp); err != nil {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var (
	_ Provider = (*BingImages)(nil)
	_ Provider = (*BingWeb)(nil)
	_ Provider = (*Freesound)(nil)
	_ Provider = (*TwitterImages)(nil)
)
