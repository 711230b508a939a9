package serp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const (
	bingImagesEndpoint = "https://api.bing.microsoft.com/v7.0/images/search"
	bingWebEndpoint    = "https://api.bing.microsoft.com/v7.0/search"
)

func bingRequest(q Query, key string) (url.Values, http.Header) {
	cc := q.CountryCode
	if cc == "" {
		cc = "US"
	}
	params := url.Values{"q": {q.Text}, "cc": {cc}}
	header := http.Header{}
	header.Set("Ocp-Apim-Subscription-Key", key)
	header.Set("Accept-Language", AcceptLanguage(cc))
	return params, header
}

// BingImages returns image content URLs from the Bing Image Search API.
type BingImages struct {
	Options
}

func (b *BingImages) Name() string { return "bing-images" }

func (b *BingImages) Search(ctx context.Context, q Query) ([]string, error) {
	if b.Key == "" {
		return nil, fmt.Errorf("bing images: %w", ErrMissingKey)
	}
	endpoint := b.Endpoint
	if endpoint == "" {
		endpoint = bingImagesEndpoint
	}

	var body struct {
		Value []struct {
			ContentURL string `json:"contentUrl"`
		} `json:"value"`
	}
	params, header := bingRequest(q, b.Key)
	if err := getJSON(ctx, b.Options, endpoint, params, header, &body); err != nil {
		return nil, fmt.Errorf("bing images: %w", err)
	}

	urls := make([]string, 0, len(body.Value))
	for _, v := range body.Value {
		if v.ContentURL != "" {
			urls = append(urls, v.ContentURL)
		}
	}
	return urls, nil
}

// BingWeb returns page URLs from the Bing Web Search API. The gatherer
// crawls those pages for media.
type BingWeb struct {
	Options
}

func (b *BingWeb) Name() string { return "bing-web" }

func (b *BingWeb) Search(ctx context.Context, q Query) ([]string, error) {
	if b.Key == "" {
		return nil, fmt.Errorf("bing web: %w", ErrMissingKey)
	}
	endpoint := b.Endpoint
	if endpoint == "" {
		endpoint = bingWebEndpoint
	}

	var body struct {
		WebPages struct {
			Value []struct {
				URL string `json:"url"`
			} `json:"value"`
		} `json:"webPages"`
	}
	params, header := bingRequest(q, b.Key)
	if err := getJSON(ctx, b.Options, endpoint, params, header, &body); err != nil {
		return nil, fmt.Errorf("bing web: %w", err)
	}

	urls := make([]string, 0, len(body.WebPages.Value))
	for _, v := range body.WebPages.Value {
		if v.URL != "" {
			urls = append(urls, v.URL)
		}
	}
	return urls, nil
}
