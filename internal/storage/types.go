package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/FranksOps/maestro/internal/lifecycle"
)

// OwnerKind discriminates the polymorphic owner of a search context.
type OwnerKind string

const (
	OwnerUser         OwnerKind = "user"
	OwnerOrganization OwnerKind = "organization"
)

// Owner identifies the user or organization a context belongs to. Context
// codes are unique within one owner.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

func (o Owner) String() string { return string(o.Kind) + ":" + o.ID }

// SearchContext is one data-collection job.
type SearchContext struct {
	ID          string           `json:"id"`
	Code        string           `json:"code"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Owner       Owner            `json:"owner"`
	Status      lifecycle.Status `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	CreatorID   string           `json:"creator_id,omitempty"`
	Iterations  int              `json:"iterations"`
	Stopped     bool             `json:"stopped"`
}

// DataType selects the kind of media a context collects.
type DataType string

const (
	DataImages DataType = "images"
	DataSounds DataType = "sounds"
	// DataAgnostic is only valid on plugin records: the plugin handles any type.
	DataAgnostic DataType = "agnostic"
)

// Accepts reports whether a plugin declared for d can process data of type t.
func (d DataType) Accepts(t DataType) bool {
	return d == DataAgnostic || d == "" || d == t
}

// Configuration holds the essential parameters of a context.
type Configuration struct {
	ContextID    string                 `json:"context_id"`
	SearchString string                 `json:"search_string" validate:"required,max=200"`
	Keywords     []string               `json:"keywords" validate:"dive,required,max=100"`
	DataType     DataType               `json:"data_type" validate:"required,oneof=images sounds"`
	Advanced     *AdvancedConfiguration `json:"advanced,omitempty" validate:"omitempty"`
}

// RepeatUnit is the unit of a repeat interval.
type RepeatUnit string

const (
	RepeatMinutes RepeatUnit = "MIN"
	RepeatHours   RepeatUnit = "HOUR"
	RepeatDays    RepeatUnit = "DAY"
)

func (u RepeatUnit) Duration() time.Duration {
	switch u {
	case RepeatMinutes:
		return time.Minute
	case RepeatHours:
		return time.Hour
	case RepeatDays:
		return 24 * time.Hour
	}
	return 0
}

// DefaultCountryCode is used when a context does not set one.
const DefaultCountryCode = "US"

// AdvancedConfiguration holds the optional parameters of a context.
type AdvancedConfiguration struct {
	FetcherIDs       []string `json:"fetcher_ids,omitempty"`
	PostProcessorIDs []string `json:"post_processor_ids,omitempty"`
	FilterIDs        []string `json:"filter_ids,omitempty"`
	ClassifierIDs    []string `json:"classifier_ids,omitempty"`
	SeedURLs         []string `json:"seed_urls,omitempty" validate:"dive,url"`

	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	// Location is "latitude,longitude" in decimal degrees.
	Location string `json:"location,omitempty" validate:"omitempty,latlong"`
	// Radius is in meters.
	Radius      float64 `json:"radius,omitempty" validate:"gte=0"`
	CountryCode string  `json:"country_code,omitempty" validate:"omitempty,iso3166_1_alpha2"`

	StrictFiltering     bool   `json:"strict_filtering,omitempty"`
	YieldAfterGathering bool   `json:"yield_after_gathering,omitempty"`
	Webhook             string `json:"webhook,omitempty" validate:"omitempty,http_url"`
	MinimumObjects      int    `json:"minimum_objects,omitempty" validate:"gte=0"`

	RepeatAmount int        `json:"repeat_amount,omitempty" validate:"gte=0"`
	RepeatUnit   RepeatUnit `json:"repeat_unit,omitempty" validate:"omitempty,oneof=MIN HOUR DAY"`
}

// Country returns the configured country code or DefaultCountryCode.
func (a *AdvancedConfiguration) Country() string {
	if a == nil || a.CountryCode == "" {
		return DefaultCountryCode
	}
	return a.CountryCode
}

// RepeatInterval is zero when the context does not repeat.
func (a *AdvancedConfiguration) RepeatInterval() time.Duration {
	if a == nil || a.RepeatAmount <= 0 {
		return 0
	}
	return time.Duration(a.RepeatAmount) * a.RepeatUnit.Duration()
}

// HasDateRange reports whether the built-in date filter applies.
func (a *AdvancedConfiguration) HasDateRange() bool {
	return a != nil && (a.StartDate != nil || a.EndDate != nil)
}

// HasGeoFence reports whether the built-in geolocation filter applies.
func (a *AdvancedConfiguration) HasGeoFence() bool {
	return a != nil && a.Location != "" && a.Radius > 0
}

// ParseLocation splits a "lat,long" location string.
func ParseLocation(s string) (lat, long float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("location %q: expected \"lat,long\"", s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("location %q: %w", s, err)
	}
	long, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("location %q: %w", s, err)
	}
	return lat, long, nil
}

// PluginKind is the entry-point contract a plugin implements.
type PluginKind string

const (
	KindFetcher       PluginKind = "FETCHER"
	KindPostProcessor PluginKind = "POST_PROCESSOR"
	KindFilter        PluginKind = "FILTER"
	KindClassifier    PluginKind = "CLASSIFIER"
)

// PluginType says how a plugin's Location is resolved.
type PluginType string

const (
	// TypeBuiltin plugins are compiled in; Location is the registered name.
	TypeBuiltin PluginType = "builtin"
	// TypeExec plugins are executables; Location is a file path.
	TypeExec PluginType = "exec"
)

// Manipulation tells whether a post-processor or filter result replaces the
// object's content or describes it.
type Manipulation string

const (
	DataManipulation  Manipulation = "DATA_MANIPULATION"
	MetadataRetrieval Manipulation = "METADATA_RETRIEVAL"
)

// Plugin is a catalog record. It points at code, it is not code.
type Plugin struct {
	ID          string
	Name        string
	Kind        PluginKind
	Type        PluginType
	Location    string
	Description string
	Active      bool
	DataType    DataType

	// Fetcher only. IncompatibleWith holds names of other fetchers.
	IsDefault        bool
	IncompatibleWith []string

	// Post-processor and filter only.
	Manipulation Manipulation

	// Filter only.
	IsBuiltin bool
}

// DataObject is one gathered item of a context's datastream.
type DataObject struct {
	ID          string
	ContextID   string
	ContentPath string
	PreviewPath string
	PublicPath  string
	SourceURL   string
	Metadata    map[string]any
	Filtered    bool
	// Classification maps a classifier name to its result.
	Classification map[string]json.RawMessage
	CreatedAt      time.Time
}

// APIResult is a cache row pointing at a stored fetcher payload.
type APIResult struct {
	FetcherID  string
	ParamsKey  string
	ResultPath string
	CreatedAt  time.Time
}
