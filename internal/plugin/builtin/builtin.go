// Package builtin holds the compiled-in plugins and the catalog records that
// point at them.
package builtin

import (
	"context"

	"github.com/FranksOps/maestro/internal/plugin"
	"github.com/FranksOps/maestro/internal/serp"
	"github.com/FranksOps/maestro/internal/storage"
	"github.com/FranksOps/maestro/pkg/httpclient"
	"github.com/FranksOps/maestro/pkg/ratelimit"
)

// Locations of the builtin implementations.
const (
	BingImages    = "bing-images"
	BingWeb       = "bing-web"
	TwitterImages = "twitter-images"
	Freesound     = "freesound"
	Exif          = "exif"
	KeywordMatch  = "keyword-match"
)

// Keys holds the credentials of the search APIs.
type Keys struct {
	Bing      string
	Twitter   string
	Freesound string
}

// Config configures the builtin fetchers.
type Config struct {
	Keys   Keys
	Client *httpclient.Client
	// RequestsPerSecond paces each search API (0 = unlimited).
	RequestsPerSecond float64
	// Endpoints overrides API URLs by location, for tests and proxies.
	Endpoints map[string]string
}

func (c Config) options(location, key string) serp.Options {
	return serp.Options{
		Endpoint: c.Endpoints[location],
		Key:      key,
		Client:   c.Client,
		Limiter:  ratelimit.NewLimiter(c.RequestsPerSecond, 0),
	}
}

// Defaults returns every builtin implementation keyed by location.
func Defaults(cfg Config) plugin.Builtins {
	return plugin.Builtins{
		BingImages:    SearchFetcher{&serp.BingImages{Options: cfg.options(BingImages, cfg.Keys.Bing)}},
		BingWeb:       SearchFetcher{&serp.BingWeb{Options: cfg.options(BingWeb, cfg.Keys.Bing)}},
		TwitterImages: SearchFetcher{&serp.TwitterImages{Options: cfg.options(TwitterImages, cfg.Keys.Twitter)}},
		Freesound:     SearchFetcher{&serp.Freesound{Options: cfg.options(Freesound, cfg.Keys.Freesound)}},
		Exif:          ExifRetriever{},

		plugin.BuiltinDateFilter:        DateFilter{},
		plugin.BuiltinGeolocationFilter: GeolocationFilter{},
		KeywordMatch:                    KeywordFilter{},
	}
}

// SearchFetcher adapts a search API provider to the fetcher contract.
type SearchFetcher struct {
	Provider serp.Provider
}

func (s SearchFetcher) Fetch(ctx context.Context, p plugin.FetchParams) ([]string, error) {
	return s.Provider.Search(ctx, serp.Query{
		Text:        p.SearchString,
		Keywords:    p.Keywords,
		CountryCode: p.CountryCode,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
	})
}

// Catalog returns the records of the builtin plugins. Bing image search is
// the default fetcher; Freesound collects sounds and cannot be combined with
// the image fetchers.
func Catalog() []*storage.Plugin {
	fetcher := func(name, location string, dt storage.DataType) *storage.Plugin {
		return &storage.Plugin{
			Name: name, Kind: storage.KindFetcher, Type: storage.TypeBuiltin,
			Location: location, Active: true, DataType: dt,
		}
	}
	bing := fetcher("Bing image", BingImages, storage.DataImages)
	bing.IsDefault = true
	bing.Description = "Image results of the Bing Image Search API."
	twitter := fetcher("Twitter Images", TwitterImages, storage.DataImages)
	twitter.Description = "Images attached to recent tweets matching the search string or keyword hashtags."
	web := fetcher("Bing web search", BingWeb, storage.DataImages)
	web.Description = "Pages returned by the Bing Web Search API, crawled for images."
	sound := fetcher("Freesound", Freesound, storage.DataSounds)
	sound.Description = "High quality previews from the Freesound text search."
	sound.IncompatibleWith = []string{bing.Name, twitter.Name, web.Name}

	filter := func(name, location string) *storage.Plugin {
		return &storage.Plugin{
			Name: name, Kind: storage.KindFilter, Type: storage.TypeBuiltin,
			Location: location, Active: true, DataType: storage.DataAgnostic,
			Manipulation: storage.MetadataRetrieval, IsBuiltin: true,
		}
	}
	keyword := filter("Keyword filter", KeywordMatch)
	// Selected explicitly, not implied by configuration parameters.
	keyword.IsBuiltin = false
	keyword.Description = "Keeps media whose alt text or page title mentions a keyword."

	return []*storage.Plugin{
		bing, twitter, web, sound,
		{
			Name: "Exif retriever", Kind: storage.KindPostProcessor, Type: storage.TypeBuiltin,
			Location: Exif, Active: true, DataType: storage.DataImages,
			Manipulation: storage.MetadataRetrieval,
			Description:  "Capture date-time and GPS coordinates from EXIF data.",
		},
		filter("Date filter", plugin.BuiltinDateFilter),
		filter("Geolocation filter", plugin.BuiltinGeolocationFilter),
		keyword,
	}
}
