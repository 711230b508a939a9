package serp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twitterEndpoint = "https://api.twitter.com/2/tweets/search/recent"

// TwitterImages returns media URLs of recent tweets that carry images.
type TwitterImages struct {
	Options
	// MaxResults is sent as max_results (default 25).
	MaxResults int
}

func (t *TwitterImages) Name() string { return "twitter-images" }

// TwitterQuery matches the search string or the keywords as hashtags, both
// restricted to tweets with images.
func TwitterQuery(text string, keywords []string) string {
	tags := make([]string, len(keywords))
	for i, k := range keywords {
		tags[i] = "#" + k
	}
	if len(tags) == 0 {
		return fmt.Sprintf("(%s has:images)", text)
	}
	return fmt.Sprintf("(%s has:images) OR (%s has:images has:hashtags)", text, strings.Join(tags, " "))
}

func (t *TwitterImages) Search(ctx context.Context, q Query) ([]string, error) {
	if t.Key == "" {
		return nil, fmt.Errorf("twitter: %w", ErrMissingKey)
	}
	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = twitterEndpoint
	}
	limit := t.MaxResults
	if limit <= 0 {
		limit = 25
	}

	params := url.Values{
		"query":        {TwitterQuery(q.Text, q.Keywords)},
		"expansions":   {"geo.place_id,attachments.media_keys"},
		"media.fields": {"preview_image_url,url"},
		"place.fields": {"country,country_code,geo"},
		"tweet.fields": {"created_at,lang,text"},
		"max_results":  {fmt.Sprint(limit)},
	}
	if q.StartDate != nil {
		params.Set("start_time", q.StartDate.UTC().Format(time.RFC3339))
	}
	if q.EndDate != nil {
		params.Set("end_time", q.EndDate.UTC().Format(time.RFC3339))
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.Key)

	var body struct {
		Includes struct {
			Media []struct {
				URL string `json:"url"`
			} `json:"media"`
		} `json:"includes"`
	}
	if err := getJSON(ctx, t.Options, endpoint, params, header, &body); err != nil {
		return nil, fmt.Errorf("twitter: %w", err)
	}

	urls := make([]string, 0, len(body.Includes.Media))
	for _, m := range body.Includes.Media {
		if m.URL != "" {
			urls = append(urls, m.URL)
		}
	}
	return urls, nil
}
