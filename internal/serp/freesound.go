package serp

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const freesoundEndpoint = "https://freesound.org/apiv2/search/text/"

// Freesound returns high quality MP3 preview URLs from the Freesound text
// search API.
type Freesound struct {
	Options
}

func (f *Freesound) Name() string { return "freesound" }

func (f *Freesound) Search(ctx context.Context, q Query) ([]string, error) {
	if f.Key == "" {
		return nil, fmt.Errorf("freesound: %w", ErrMissingKey)
	}
	endpoint := f.Endpoint
	if endpoint == "" {
		endpoint = freesoundEndpoint
	}

	params := url.Values{
		"query":  {q.Text},
		"tags":   {strings.Join(q.Keywords, ",")},
		"fields": {"name,previews"},
		"token":  {f.Key},
	}
	var body struct {
		Results []struct {
			Previews map[string]string `json:"previews"`
		} `json:"results"`
	}
	if err := getJSON(ctx, f.Options, endpoint, params, nil, &body); err != nil {
		return nil, fmt.Errorf("freesound: %w", err)
	}

	urls := make([]string, 0, len(body.Results))
	for _, r := range body.Results {
		if u := r.Previews["preview-hq-mp3"]; u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}
